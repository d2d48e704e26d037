package pipewire

import (
	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

type config struct {
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// Option to pass to `NewClient`
type Option func(*config)

// WithLogger sets the parent logger, the reactor logs under "pipewire.reactor".
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics chooses where the reactor reports its counters and gauges.
// By default the process-wide go-metrics instance is used.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}
