package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/aqi-monitor/pkg/config"
)

type stubSink struct {
	err   error
	calls int
}

func (s *stubSink) Deliver(context.Context, Message) error {
	s.calls++
	return s.err
}

func TestFallbackSink_FirstSuccessWins(t *testing.T) {
	first := &stubSink{err: errors.New("telegram down")}
	second := &stubSink{}
	third := &stubSink{}

	err := NewFallbackSink(zerolog.Nop(), first, second, third).Deliver(context.Background(), Message{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls)
}

func TestFallbackSink_AllFail(t *testing.T) {
	boom := errors.New("boom")
	err := NewFallbackSink(zerolog.Nop(), &stubSink{err: boom}, &stubSink{err: ErrNotConfigured}).
		Deliver(context.Background(), Message{Text: "x"})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFallbackSink_Empty(t *testing.T) {
	err := NewFallbackSink(zerolog.Nop()).Deliver(context.Background(), Message{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDirectSink_Selection(t *testing.T) {
	cfg := &config.Config{}
	sink := DirectSink(cfg, 0, zerolog.Nop())
	_, isLog := sink.(*LogSink)
	assert.True(t, isLog, "no credentials means log only")

	cfg.Telegram = config.TelegramConfig{BotToken: "t", ChatID: "c"}
	cfg.SMTP = config.SMTPConfig{Username: "u", Password: "p"}
	fb, ok := DirectSink(cfg, 0, zerolog.Nop()).(*FallbackSink)
	require.True(t, ok)
	require.Len(t, fb.sinks, 3)
	assert.IsType(t, &TelegramSink{}, fb.sinks[0])
	assert.IsType(t, &EmailSink{}, fb.sinks[1])
	assert.IsType(t, &LogSink{}, fb.sinks[2])
}
