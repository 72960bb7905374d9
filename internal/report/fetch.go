package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Section names, in report order
const (
	SectionStats      = "stats"
	SectionErrors     = "errors"
	SectionExceptions = "exceptions"
	SectionWorkers    = "workers"
)

var sectionPaths = []struct {
	name string
	path string
}{
	{SectionStats, "/stats/requests"},
	{SectionErrors, "/stats/failures"},
	{SectionExceptions, "/exceptions"},
	{SectionWorkers, "/workers"},
}

// Data holds the raw JSON of each section. A section that could not be
// fetched holds {"error": "..."}.
type Data map[string]json.RawMessage

// MarshalIndent renders every section as one pretty-printed document
func (d Data) MarshalIndent() string {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(out)
}

// Fetch reads all sections from the master web API concurrently. Failures are
// recorded per section and never abort the fetch.
func Fetch(ctx context.Context, client *http.Client, baseURL string) Data {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	results := make([]json.RawMessage, len(sectionPaths))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sectionPaths {
		i, s := i, s
		g.Go(func() error {
			body, err := get(gctx, client, baseURL+s.path)
			if err != nil {
				logrus.WithError(err).WithField("section", s.name).Warn("Could not retrieve section")
				body = errorSection(err)
			}
			results[i] = body
			return nil
		})
	}
	g.Wait()

	data := make(Data, len(sectionPaths))
	for i, s := range sectionPaths {
		data[s.name] = results[i]
	}
	return data
}

func get(ctx context.Context, client *http.Client, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON from %s", url)
	}
	return body, nil
}

func errorSection(err error) json.RawMessage {
	out, _ := json.Marshal(map[string]string{"error": err.Error()})
	return out
}
