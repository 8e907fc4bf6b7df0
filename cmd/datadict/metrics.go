package main

import (
	"strings"

	"go.uber.org/zap"

	"datadict/internal/metrics"
	"datadict/internal/metrics/datadog"
	"datadict/internal/metrics/prompush"
)

const defaultDatadogAddr = "localhost:8125"

// setupMetrics installs the configured backend. A backend that fails to
// initialise leaves metrics disabled rather than failing the run.
func (a *app) setupMetrics() error {
	m := a.cfg.Metrics
	switch strings.ToLower(m.Backend) {
	case "prom", "prometheus":
		b, err := prompush.NewBackend(a.cfg.Job, m.PushgatewayURL)
		if err != nil {
			a.log.Warn("metrics: prometheus backend unavailable; using nop", zap.Error(err))
			return nil
		}
		metrics.SetBackend(b)
		a.log.Info("metrics enabled", zap.String("backend", "prometheus"), zap.String("url", m.PushgatewayURL))

	case "datadog", "dogstatsd":
		addr := m.DatadogAddr
		if addr == "" {
			addr = defaultDatadogAddr
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  "datadict.",
			GlobalTags: []string{"job:" + a.cfg.Job},
		})
		if err != nil {
			a.log.Warn("metrics: datadog backend unavailable; using nop", zap.Error(err))
			return nil
		}
		metrics.SetBackend(b)
		a.log.Info("metrics enabled", zap.String("backend", "datadog"), zap.String("addr", addr))

	case "", "none":
		a.log.Debug("metrics disabled")

	default:
		a.log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", m.Backend))
	}
	return nil
}
