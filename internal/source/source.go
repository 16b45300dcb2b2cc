// Package source provides the metric sources the monitor samples from.
package source

import (
	"context"

	"github.com/smukkama/aqi-monitor/internal/protocol"
)

// MetricSource returns the current reading for a pair of coordinates.
type MetricSource interface {
	Fetch(ctx context.Context, lat, lon float64) (*protocol.Reading, error)
}
