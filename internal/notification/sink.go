package notification

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned by sinks that lack credentials
var ErrNotConfigured = errors.New("notification sink not configured")

// Message is formatted text plus the metadata sinks may route on
type Message struct {
	Kind     string // protocol.Kind*
	Location string
	Text     string
}

// Sink delivers formatted messages. A nil error means delivery was confirmed.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogSink writes messages to the log. It reports ErrNotConfigured so a
// breach logged here still counts as undelivered.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink used when no transport is configured
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, msg Message) error {
	s.logger.Warn().
		Str("kind", msg.Kind).
		Str("location", msg.Location).
		Str("text", msg.Text).
		Msg("no notification transport configured, message logged only")
	return ErrNotConfigured
}
