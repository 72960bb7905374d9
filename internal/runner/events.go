package runner

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studiowebux/swarm/internal/scenario"
	"github.com/studiowebux/swarm/internal/stats"
)

// PoolReportInterval is how often the token pool status is logged
const PoolReportInterval = 60 * time.Second

// StartPoolReporter logs token pool, IP rotation and login counts until ctx ends
func StartPoolReporter(ctx context.Context, env *scenario.Env, interval time.Duration) {
	if interval <= 0 {
		interval = PoolReportInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logrus.WithFields(poolFields(env)).Info("Token pool status")
			}
		}
	}()
}

func poolFields(env *scenario.Env) logrus.Fields {
	fields := logrus.Fields{}
	if env.Auth != nil && env.Auth.Pool != nil {
		fields["tokens"] = env.Auth.Pool.Len()
	}
	if env.Auth != nil && env.Auth.Throttle != nil {
		attempts, successes, failures := env.Auth.Throttle.Counters()
		fields["login_attempts"] = attempts
		fields["login_successes"] = successes
		fields["login_failures"] = failures
	}
	if env.IPs != nil {
		fields["ip_rotations"] = env.IPs.Rotations()
	}
	return fields
}

// LogSummary writes the end-of-test request and authentication summary
func LogSummary(env *scenario.Env) {
	LogSummaryOf(env, env.Stats)
}

// LogSummaryOf is LogSummary with request totals taken from registry.
// Workers pass their cumulative registry since env.Stats is drained.
func LogSummaryOf(env *scenario.Env, registry *stats.Registry) {
	s := stats.Summarize(registry.Total())

	logrus.WithFields(logrus.Fields{
		"requests":     s.NumRequests,
		"failures":     s.NumFailures,
		"failure_rate": s.FailRatio * 100,
		"median_ms":    s.MedianMs,
		"p95_ms":       s.P95Ms,
		"p99_ms":       s.P99Ms,
	}).Info("Test statistics")

	fields := poolFields(env)
	if env.Auth != nil && env.Auth.Pool != nil {
		if usage, ok := env.Auth.Pool.Usage(); ok {
			fields["token_usage_min"] = usage.Min
			fields["token_usage_max"] = usage.Max
			fields["token_usage_avg"] = usage.Avg
		}
	}
	logrus.WithFields(fields).Info("Authentication statistics")
}
