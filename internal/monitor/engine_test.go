package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/aqi-monitor/internal/alarming"
	"github.com/smukkama/aqi-monitor/internal/notification"
	"github.com/smukkama/aqi-monitor/internal/protocol"
	"github.com/smukkama/aqi-monitor/internal/registry"
)

var t0 = time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

// fakeSource serves scripted values keyed by latitude. The last value of
// a script repeats once the script is exhausted.
type fakeSource struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	values map[float64][]float64
	errs   map[float64]error
	calls  map[float64]int
}

func newFakeSource(clock clockwork.Clock) *fakeSource {
	return &fakeSource{
		clock:  clock,
		values: make(map[float64][]float64),
		errs:   make(map[float64]error),
		calls:  make(map[float64]int),
	}
}

func (f *fakeSource) set(lat float64, values ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[lat] = values
	f.calls[lat] = 0
}

func (f *fakeSource) fail(lat float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[lat] = err
}

func (f *fakeSource) Fetch(_ context.Context, lat, _ float64) (*protocol.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[lat]; err != nil {
		return nil, err
	}
	script := f.values[lat]
	if len(script) == 0 {
		return nil, errors.New("no data")
	}
	i := f.calls[lat]
	if i >= len(script) {
		i = len(script) - 1
	}
	f.calls[lat]++
	return &protocol.Reading{Index: script[i], CapturedAt: f.clock.Now()}, nil
}

type recordingSink struct {
	mu       sync.Mutex
	messages []notification.Message
	err      error
}

func (s *recordingSink) Deliver(_ context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingSink) sent() []notification.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Message(nil), s.messages...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []*protocol.ReadingRecord
	reports []*protocol.DailyReport
}

func (r *fakeRecorder) RecordReading(_ context.Context, rec *protocol.ReadingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) RecordReport(_ context.Context, rep *protocol.DailyReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

type fixture struct {
	engine   *Engine
	clock    *clockwork.FakeClock
	source   *fakeSource
	sink     *recordingSink
	recorder *fakeRecorder
	registry *registry.Registry
	gate     *alarming.Gate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(t0)
	f := &fixture{
		clock:    clock,
		source:   newFakeSource(clock),
		sink:     &recordingSink{},
		recorder: &fakeRecorder{},
		registry: registry.New(nil),
		gate:     alarming.NewGate(alarming.NewMemoryStore()),
	}

	engine, err := NewEngine(Config{
		Registry:  f.registry,
		Gate:      f.gate,
		Source:    f.source,
		Sink:      f.sink,
		Recorders: []Recorder{f.recorder},
		Clock:     clock,
		Logger:    zerolog.Nop(),
		Workers:   2,
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) register(t *testing.T, name string, lat float64, threshold int) {
	t.Helper()
	_, err := f.engine.RegisterLocation(context.Background(), name, lat, 0, threshold)
	require.NoError(t, err)
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)
}

func TestCheckPass_BreachRespectsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Jakarta", 1, 100)
	f.source.set(1, 150)

	report := f.engine.CheckPass(ctx)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.True(t, res.Breach)
	assert.Equal(t, AlertDelivered, res.Alert)
	assert.Equal(t, "Unhealthy for Sensitive", res.Category.Label)
	require.Len(t, f.sink.sent(), 1)
	assert.Equal(t, protocol.KindAlert, f.sink.sent()[0].Kind)
	assert.Contains(t, f.sink.sent()[0].Text, "Jakarta")

	f.clock.Advance(10 * time.Minute)
	report = f.engine.CheckPass(ctx)
	assert.Equal(t, AlertSuppressed, report.Results[0].Alert)
	assert.Len(t, f.sink.sent(), 1)

	f.clock.Advance(51 * time.Minute)
	report = f.engine.CheckPass(ctx)
	assert.Equal(t, AlertDelivered, report.Results[0].Alert)
	assert.Len(t, f.sink.sent(), 2)

	last, ok, err := f.gate.LastAlert(ctx, "Jakarta")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0.Add(61*time.Minute), last)
}

func TestCheckPass_ThresholdIsInclusive(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Jakarta", 1, 100)
	f.source.set(1, 100)

	report := f.engine.CheckPass(context.Background())
	assert.True(t, report.Results[0].Breach)
	assert.Equal(t, AlertDelivered, report.Results[0].Alert)
}

func TestCheckPass_BelowThresholdDoesNotAlert(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Jakarta", 1, 100)
	f.source.set(1, 99.9)

	report := f.engine.CheckPass(context.Background())
	assert.False(t, report.Results[0].Breach)
	assert.Equal(t, AlertNone, report.Results[0].Alert)
	assert.Empty(t, f.sink.sent())
}

func TestCheckPass_FailedDeliveryRetriesNextPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Jakarta", 1, 100)
	f.source.set(1, 180)
	f.sink.setErr(errors.New("telegram down"))

	report := f.engine.CheckPass(ctx)
	res := report.Results[0]
	assert.Equal(t, AlertFailed, res.Alert)
	assert.ErrorIs(t, res.Err, ErrSinkUnavailable)

	_, ok, err := f.gate.LastAlert(ctx, "Jakarta")
	require.NoError(t, err)
	assert.False(t, ok, "failed delivery must not start a cooldown")

	f.sink.setErr(nil)
	f.clock.Advance(5 * time.Second)
	report = f.engine.CheckPass(ctx)
	assert.Equal(t, AlertDelivered, report.Results[0].Alert)
	assert.Len(t, f.sink.sent(), 1)
}

func TestCheckPass_FetchFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", 1, 100)
	f.register(t, "B", 2, 100)
	f.source.fail(1, errors.New("timeout"))
	f.source.set(2, 200)

	report := f.engine.CheckPass(context.Background())
	require.Len(t, report.Results, 2)

	assert.Equal(t, "A", report.Results[0].Location)
	assert.ErrorIs(t, report.Results[0].Err, ErrSourceUnavailable)
	assert.NotEmpty(t, report.Results[0].Error)

	assert.Equal(t, "B", report.Results[1].Location)
	assert.Equal(t, AlertDelivered, report.Results[1].Alert)

	sent := f.sink.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "B", sent[0].Location)
}

type panicSource struct{}

func (panicSource) Fetch(context.Context, float64, float64) (*protocol.Reading, error) {
	panic("boom")
}

func TestCheckPass_PanicIsIsolated(t *testing.T) {
	engine, err := NewEngine(Config{
		Registry: registry.New(nil),
		Source:   panicSource{},
		Sink:     &recordingSink{},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	_, err = engine.RegisterLocation(context.Background(), "A", 1, 1, 100)
	require.NoError(t, err)

	report := engine.CheckPass(context.Background())
	require.Len(t, report.Results, 1)
	assert.Error(t, report.Results[0].Err)
}

func TestCheckPass_EmitsReadingRecords(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", 1, 100)
	f.register(t, "B", 2, 100)
	f.source.set(1, 42)
	f.source.set(2, 120)

	report := f.engine.CheckPass(context.Background())

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	require.Len(t, f.recorder.records, 2)
	byLocation := map[string]*protocol.ReadingRecord{}
	for _, rec := range f.recorder.records {
		byLocation[rec.Location] = rec
		assert.Equal(t, report.ID, rec.PassID)
	}
	assert.Equal(t, "Good", byLocation["A"].Category)
	assert.False(t, byLocation["A"].Breach)
	assert.True(t, byLocation["B"].Breach)
	assert.True(t, byLocation["B"].Alerted)
}

func TestCheckPass_EmptyRegistry(t *testing.T) {
	f := newFixture(t)
	report := f.engine.CheckPass(context.Background())
	assert.Empty(t, report.Results)
	assert.NotEmpty(t, report.ID)
}

func TestReportPass_MeanAndSummary(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Semarang", 1, 100)
	f.source.set(1, 40, 60)

	report := f.engine.ReportPass(context.Background())
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, 40.0, res.Morning)
	assert.Equal(t, 60.0, res.Evening)
	assert.Equal(t, 50.0, res.Mean)
	assert.Equal(t, "Good", res.MorningCategory)
	assert.Equal(t, "Moderate", res.EveningCategory)
	assert.Contains(t, res.Summary, "throughout the day")
	assert.True(t, res.Delivered)

	sent := f.sink.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.KindDailyReport, sent[0].Kind)
	assert.Contains(t, sent[0].Text, "Average AQI:* 50")
	assert.Contains(t, sent[0].Text, "01/06/2024")

	require.Len(t, f.recorder.reports, 1)
	assert.Equal(t, "Semarang", f.recorder.reports[0].Location)
}

func TestReportPass_DoesNotTouchCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Jakarta", 1, 100)
	f.source.set(1, 300)

	f.engine.ReportPass(ctx)

	_, ok, err := f.gate.LastAlert(ctx, "Jakarta")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportPass_SkipsFailingLocation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", 1, 100)
	f.register(t, "B", 2, 100)
	f.source.fail(1, errors.New("timeout"))
	f.source.set(2, 80, 90)

	report := f.engine.ReportPass(context.Background())
	require.Len(t, report.Results, 2)
	assert.ErrorIs(t, report.Results[0].Err, ErrSourceUnavailable)
	assert.False(t, report.Results[0].Delivered)
	assert.True(t, report.Results[1].Delivered)
	assert.Len(t, f.sink.sent(), 1)
}

func TestCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Jakarta", 1, 100)
	f.source.set(1, 160)

	snap, err := f.engine.Current(ctx, "Jakarta")
	require.NoError(t, err)
	assert.Equal(t, 160.0, snap.Index)
	assert.Equal(t, "Unhealthy", snap.Category.Label)
	assert.True(t, snap.Breach)
	assert.Nil(t, snap.LastAlert)
	assert.Empty(t, f.sink.sent(), "current never alerts")

	_, err = f.engine.Current(ctx, "Nowhere")
	assert.ErrorIs(t, err, ErrUnknownLocation)
}

func TestRemoveLocation_ClearsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Jakarta", 1, 100)
	f.source.set(1, 150)

	f.engine.CheckPass(ctx)
	require.NoError(t, f.engine.RemoveLocation(ctx, "Jakarta"))
	assert.Equal(t, 0, f.engine.LocationCount())

	_, ok, err := f.gate.LastAlert(ctx, "Jakarta")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing again is a no-op
	assert.NoError(t, f.engine.RemoveLocation(ctx, "Jakarta"))

	// Re-registered location alerts immediately
	f.register(t, "Jakarta", 1, 100)
	report := f.engine.CheckPass(ctx)
	assert.Equal(t, AlertDelivered, report.Results[0].Alert)
}

func TestSendForecastAndTest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.engine.SendForecast(ctx, protocol.Forecast{
		Location: "Semarang",
		Date:     "02/06/2024",
		Morning:  55,
		Evening:  70,
		Advice:   "Fine for outdoor plans.",
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.SendTestNotification(ctx))

	sent := f.sink.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.KindForecast, sent[0].Kind)
	assert.Contains(t, sent[0].Text, "Semarang")
	assert.Equal(t, notification.TestMessage, sent[1].Text)

	f.sink.setErr(errors.New("down"))
	assert.ErrorIs(t, f.engine.SendTestNotification(ctx), ErrSinkUnavailable)
}
