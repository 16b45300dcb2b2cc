package notification

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-monitor/pkg/config"
)

// FallbackSink tries each sink in order and stops at the first confirmed
// delivery. Sinks reporting ErrNotConfigured are skipped silently.
type FallbackSink struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewFallbackSink creates a sink over sinks, tried in order
func NewFallbackSink(logger zerolog.Logger, sinks ...Sink) *FallbackSink {
	return &FallbackSink{sinks: sinks, logger: logger}
}

func (f *FallbackSink) Deliver(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.Deliver(ctx, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotConfigured) {
			f.logger.Warn().Err(err).Str("kind", msg.Kind).Msg("sink failed, trying next")
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return ErrNotConfigured
	}
	return errors.Join(errs...)
}

// DirectSink builds the sink that reaches people: Telegram, then email,
// then the log. The log sink never confirms delivery.
func DirectSink(cfg *config.Config, timeout time.Duration, logger zerolog.Logger) Sink {
	var sinks []Sink

	if cfg.Telegram.Enabled() {
		sinks = append(sinks, NewTelegramSink(cfg.Telegram, timeout, logger))
	}
	email := NewEmailSink(&cfg.SMTP)
	if email.Enabled() {
		sinks = append(sinks, email)
	}
	sinks = append(sinks, NewLogSink(logger))

	if len(sinks) == 1 {
		return sinks[0]
	}
	return NewFallbackSink(logger, sinks...)
}
