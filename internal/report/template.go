package report

import (
	"html/template"
	"strconv"
	"strings"
)

var page = template.Must(template.New("report").Funcs(template.FuncMap{
	"ms":   func(v float64) string { return formatFixed(v) },
	"pct":  func(v float64) string { return formatFixed(v) + "%" },
	"ts":   func(r Report) string { return r.GeneratedAt.Format("2006-01-02 15:04:05") },
	"join": func(nodes []string) string { return strings.Join(nodes, ", ") },
}).Parse(pageTemplate))

func formatFixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Load Test Report</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 1200px; margin: 0 auto; padding: 20px; }
        h1, h2, h3 { color: #2c3e50; }
        table { border-collapse: collapse; width: 100%; margin-bottom: 20px; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #f2f2f2; }
        tr:nth-child(even) { background-color: #f9f9f9; }
        .summary { background-color: #e8f4f8; padding: 15px; border-radius: 5px; margin-bottom: 20px; }
        .good { color: green; }
        .warning { color: orange; }
        .critical { color: red; }
        pre.raw { background-color: #f5f5f5; padding: 10px; overflow: auto; }
    </style>
</head>
<body>
    <h1>Load Test Report</h1>
    <p>Generated on: {{ts .}}</p>
{{- range $section, $msg := .SectionErrors}}
    <p class="warning">Could not retrieve {{$section}}: {{$msg}}</p>
{{- end}}

    <div class="summary">
        <h2>Summary</h2>
{{- if .HasStats}}
{{- with .Summary}}
        <p><strong>Total Requests:</strong> {{.TotalRequests}}</p>
        <p><strong>Total Failures:</strong> {{.TotalFailures}}</p>
        <p><strong>Failure Rate:</strong> <span class="{{.FailureClass}}">{{pct .FailureRate}}</span></p>
        <p><strong>Average Response Time:</strong> <span class="{{.ResponseClass}}">{{ms .AvgResponseTime}} ms</span></p>
        <p><strong>Maximum Response Time:</strong> {{ms .MaxResponseTime}} ms</p>
        <p><strong>Active Workers:</strong> {{.ActiveWorkers}}</p>
{{- end}}
{{- else}}
        <p>No statistics available</p>
{{- end}}
    </div>

    <h2>Endpoint Performance</h2>
    <table>
        <tr>
            <th>Method</th><th>Endpoint</th><th>Requests</th><th>Failures</th><th>Median (ms)</th>
            <th>Average (ms)</th><th>Min (ms)</th><th>Max (ms)</th><th>RPS</th><th>Failure %</th>
        </tr>
{{- range .Endpoints}}
        <tr>
            <td>{{.Method}}</td>
            <td>{{.Name}}</td>
            <td>{{.NumRequests}}</td>
            <td>{{.NumFailures}}</td>
            <td>{{ms .MedianResponseTime}}</td>
            <td class="{{.ResponseClass}}">{{ms .AvgResponseTime}}</td>
            <td>{{ms .MinResponseTime}}</td>
            <td>{{ms .MaxResponseTime}}</td>
            <td>{{ms .CurrentRPS}}</td>
            <td class="{{.FailureClass}}">{{pct .FailurePercent}}</td>
        </tr>
{{- end}}
    </table>

    <h2>Errors</h2>
{{- if .Errors}}
    <table>
        <tr><th>Method</th><th>Endpoint</th><th>Error</th><th>Occurrences</th></tr>
{{- range .Errors}}
        <tr><td>{{.Method}}</td><td>{{.Name}}</td><td>{{.Error}}</td><td>{{.Occurrences}}</td></tr>
{{- end}}
    </table>
{{- else}}
    <p>No errors recorded</p>
{{- end}}

    <h2>Exceptions</h2>
{{- if .Exceptions}}
    <table>
        <tr><th>Count</th><th>Exception</th><th>Nodes</th><th>Traceback</th></tr>
{{- range .Exceptions}}
        <tr><td>{{.Count}}</td><td>{{.Msg}}</td><td>{{join .Nodes}}</td><td><pre>{{.Traceback}}</pre></td></tr>
{{- end}}
    </table>
{{- else}}
    <p>No exceptions recorded</p>
{{- end}}

    <h2>Recommendations</h2>
{{- range .Recommendations}}
    <p>&bull; {{.}}</p>
{{- end}}

    <h2>Raw Data</h2>
    <pre class="raw">{{.Raw}}</pre>

    <footer>
        <p>Generated by swarm</p>
    </footer>
</body>
</html>
`
