package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/smukkama/aqi-monitor/internal/notification"
	"github.com/smukkama/aqi-monitor/internal/protocol"
)

// MessageSource is the part of Consumer the relay needs
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Relay moves notifications from the notifications topic to a sink.
// An offset is committed only after the sink confirms delivery; failed
// deliveries are retried with backoff until ctx is done.
type Relay struct {
	source     MessageSource
	sink       notification.Sink
	clock      clockwork.Clock
	logger     zerolog.Logger
	timeout    time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewRelay creates a relay. timeout bounds each delivery attempt.
func NewRelay(source MessageSource, sink notification.Sink, timeout time.Duration, clock clockwork.Clock, logger zerolog.Logger) *Relay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Relay{
		source:     source,
		sink:       sink,
		clock:      clock,
		logger:     logger,
		timeout:    timeout,
		minBackoff: time.Second,
		maxBackoff: time.Minute,
	}
}

// Run relays until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error().Err(err).Msg("failed to consume message")
			if !r.sleep(ctx, r.minBackoff) {
				return ctx.Err()
			}
			continue
		}

		n, err := protocol.DecodeNotification(msg.Value)
		if err != nil {
			// Poison message: skip it
			r.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to decode notification")
			r.commit(ctx, msg)
			continue
		}

		if err := r.deliver(ctx, n); err != nil {
			return err
		}
		r.commit(ctx, msg)
	}
}

func (r *Relay) deliver(ctx context.Context, n *protocol.Notification) error {
	log := r.logger.With().Str("notification_id", n.ID).Str("kind", n.Kind).Str("location", n.Location).Logger()
	msg := notification.Message{Kind: n.Kind, Location: n.Location, Text: n.Text}

	backoff := r.minBackoff
	for attempt := 1; ; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.sink.Deliver(dctx, msg)
		cancel()
		if err == nil {
			log.Info().Int("attempt", attempt).Msg("notification delivered")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("delivery failed")
		if errors.Is(err, notification.ErrNotConfigured) && attempt == 1 {
			log.Warn().Msg("no transport configured for the notifier")
		}
		if !r.sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

func (r *Relay) commit(ctx context.Context, msg kafka.Message) {
	if err := r.source.Commit(ctx, msg); err != nil {
		r.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
	}
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) bool {
	t := r.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}
