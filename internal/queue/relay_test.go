package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/aqi-monitor/internal/notification"
	"github.com/smukkama/aqi-monitor/internal/protocol"
)

type fakeSource struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	drained   chan struct{}
	once      sync.Once
}

func newFakeSource(msgs ...kafka.Message) *fakeSource {
	return &fakeSource{pending: msgs, drained: make(chan struct{})}
}

func (f *fakeSource) Consume(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		msg := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()

	f.once.Do(func() { close(f.drained) })
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeSource) Commit(_ context.Context, msg kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msg.Offset)
	return nil
}

func (f *fakeSource) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []notification.Message
}

func (s *flakySink) Deliver(_ context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("transport down")
	}
	s.got = append(s.got, msg)
	return nil
}

func encoded(t *testing.T, offset int64, n *protocol.Notification) kafka.Message {
	t.Helper()
	data, err := protocol.EncodeNotification(n)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(n.Location), Value: data}
}

func runRelay(t *testing.T, r *Relay) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitDrained(t *testing.T, src *fakeSource) {
	t.Helper()
	select {
	case <-src.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not drain the source")
	}
}

func TestRelay_DeliversAndCommits(t *testing.T) {
	src := newFakeSource(
		encoded(t, 1, &protocol.Notification{ID: "a", Kind: protocol.KindAlert, Location: "Jakarta", Text: "alert"}),
		encoded(t, 2, &protocol.Notification{ID: "b", Kind: protocol.KindDailyReport, Location: "Semarang", Text: "report"}),
	)
	sink := &flakySink{}
	cancel, done := runRelay(t, NewRelay(src, sink, time.Second, clockwork.NewFakeClock(), zerolog.Nop()))

	waitDrained(t, src)
	assert.Equal(t, []int64{1, 2}, src.commits())
	require.Len(t, sink.got, 2)
	assert.Equal(t, "alert", sink.got[0].Text)
	assert.Equal(t, protocol.KindDailyReport, sink.got[1].Kind)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRelay_RetriesBeforeCommit(t *testing.T) {
	src := newFakeSource(encoded(t, 7, &protocol.Notification{ID: "a", Kind: protocol.KindAlert, Location: "Jakarta", Text: "alert"}))
	sink := &flakySink{failures: 2}
	clock := clockwork.NewFakeClock()
	runRelay(t, NewRelay(src, sink, time.Second, clock, zerolog.Nop()))

	ctx := context.Background()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, src.commits(), "failed delivery is not committed")
	clock.Advance(time.Second)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	waitDrained(t, src)
	assert.Equal(t, []int64{7}, src.commits())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 3, sink.calls)
}

func TestRelay_SkipsPoisonMessage(t *testing.T) {
	src := newFakeSource(kafka.Message{Offset: 3, Value: []byte("{not json")})
	sink := &flakySink{}
	runRelay(t, NewRelay(src, sink, time.Second, clockwork.NewFakeClock(), zerolog.Nop()))

	waitDrained(t, src)
	assert.Equal(t, []int64{3}, src.commits())
	assert.Equal(t, 0, sink.calls)
}
