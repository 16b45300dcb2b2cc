package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/aqi-monitor/internal/alarming"
	"github.com/smukkama/aqi-monitor/internal/aqi"
	"github.com/smukkama/aqi-monitor/internal/metrics"
	"github.com/smukkama/aqi-monitor/internal/notification"
	"github.com/smukkama/aqi-monitor/internal/protocol"
	"github.com/smukkama/aqi-monitor/internal/registry"
	"github.com/smukkama/aqi-monitor/internal/source"
)

var (
	ErrSourceUnavailable = errors.New("metric source unavailable")
	ErrSinkUnavailable   = errors.New("notification sink unavailable")
	ErrUnknownLocation   = errors.New("unknown location")
)

// Recorder receives the observability record of every checked location
type Recorder interface {
	RecordReading(ctx context.Context, rec *protocol.ReadingRecord) error
}

// ReportRecorder is implemented by recorders that also keep daily reports
type ReportRecorder interface {
	RecordReport(ctx context.Context, rep *protocol.DailyReport) error
}

// Config holds engine dependencies and policy
type Config struct {
	Registry  *registry.Registry
	Gate      *alarming.Gate
	Source    source.MetricSource
	Sink      notification.Sink
	Formatter *notification.Formatter
	Recorders []Recorder
	Clock     clockwork.Clock
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics

	Cooldown        time.Duration // 0 means alarming.DefaultCooldown
	FetchTimeout    time.Duration
	DeliveryTimeout time.Duration
	Workers         int // locations processed concurrently within a pass
}

// Engine runs check and report passes over the registry
type Engine struct {
	registry  *registry.Registry
	gate      *alarming.Gate
	source    source.MetricSource
	sink      notification.Sink
	formatter *notification.Formatter
	recorders []Recorder
	clock     clockwork.Clock
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	cooldown        time.Duration
	fetchTimeout    time.Duration
	deliveryTimeout time.Duration
	workers         int
}

// NewEngine creates an engine. Registry, Source and Sink are required.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Registry == nil || cfg.Source == nil || cfg.Sink == nil {
		return nil, errors.New("monitor: registry, source and sink are required")
	}
	if cfg.Gate == nil {
		cfg.Gate = alarming.NewGate(alarming.NewMemoryStore())
	}
	if cfg.Formatter == nil {
		f, err := notification.NewFormatter("")
		if err != nil {
			return nil, err
		}
		cfg.Formatter = f
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewForTesting()
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = alarming.DefaultCooldown
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Engine{
		registry:        cfg.Registry,
		gate:            cfg.Gate,
		source:          cfg.Source,
		sink:            cfg.Sink,
		formatter:       cfg.Formatter,
		recorders:       cfg.Recorders,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		cooldown:        cfg.Cooldown,
		fetchTimeout:    cfg.FetchTimeout,
		deliveryTimeout: cfg.DeliveryTimeout,
		workers:         cfg.Workers,
	}, nil
}

// Alert outcomes reported per location
const (
	AlertNone       = ""
	AlertSuppressed = "suppressed"
	AlertDelivered  = "delivered"
	AlertFailed     = "failed"
)

// LocationResult is the outcome of one location in a check pass
type LocationResult struct {
	Location   string       `json:"location"`
	Index      float64      `json:"index"`
	Category   aqi.Category `json:"category"`
	Threshold  int          `json:"threshold"`
	Breach     bool         `json:"breach"`
	Alert      string       `json:"alert,omitempty"`
	CapturedAt time.Time    `json:"captured_at"`
	Error      string       `json:"error,omitempty"`
	Err        error        `json:"-"`
}

// ReportResult is the outcome of one location in a report pass
type ReportResult struct {
	protocol.DailyReport
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// PassReport summarizes a check pass
type PassReport struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Results    []LocationResult `json:"results"`
}

// ReportPassReport summarizes a report pass
type ReportPassReport struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []ReportResult `json:"results"`
}

// CheckPass samples every registered location, alerts on breaches outside
// the cooldown window and emits a reading record per location. A failure
// at one location never stops the others.
func (e *Engine) CheckPass(ctx context.Context) *PassReport {
	report := &PassReport{
		ID:        uuid.NewString(),
		StartedAt: e.clock.Now(),
	}
	log := e.logger.With().Str("pass", "check").Str("pass_id", report.ID).Logger()

	locations := e.registry.List()
	report.Results = make([]LocationResult, len(locations))

	e.forEach(ctx, log, locations, func(i int, loc registry.Location) {
		report.Results[i] = e.checkLocation(ctx, log, report.ID, loc)
	}, func(i int, loc registry.Location, err error) {
		report.Results[i] = LocationResult{Location: loc.Name, Threshold: loc.Threshold, Err: err, Error: err.Error()}
	})

	report.FinishedAt = e.clock.Now()
	e.metrics.PassDuration.WithLabelValues("check").Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	log.Info().Int("locations", len(locations)).Dur("took", report.FinishedAt.Sub(report.StartedAt)).Msg("check pass complete")
	return report
}

func (e *Engine) checkLocation(ctx context.Context, passLog zerolog.Logger, passID string, loc registry.Location) LocationResult {
	log := passLog.With().Str("location", loc.Name).Logger()
	res := LocationResult{Location: loc.Name, Threshold: loc.Threshold}

	reading, err := e.fetch(ctx, loc)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		e.metrics.FetchFailures.WithLabelValues(loc.Name).Inc()
		log.Error().Err(err).Msg("fetch failed, skipping location")
		return res
	}

	category := aqi.Classify(reading.Index)
	res.Index = reading.Index
	res.Category = category
	res.CapturedAt = reading.CapturedAt

	if reading.Index >= float64(loc.Threshold) {
		res.Breach = true
		res.Alert, res.Err = e.alert(ctx, loc, reading, category)
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}

	e.metrics.ReadingsTotal.WithLabelValues(loc.Name, category.Label).Inc()
	e.metrics.CurrentIndex.WithLabelValues(loc.Name).Set(reading.Index)

	event := log.Info()
	if res.Alert == AlertFailed {
		event = log.Warn().Err(res.Err)
	}
	event.
		Float64("aqi", reading.Index).
		Str("category", category.Label).
		Int("threshold", loc.Threshold).
		Bool("breach", res.Breach).
		Str("alert", res.Alert).
		Msg("location checked")

	e.record(ctx, log, &protocol.ReadingRecord{
		PassID:     passID,
		Location:   loc.Name,
		Lat:        loc.Lat,
		Lon:        loc.Lon,
		Index:      reading.Index,
		Category:   category.Label,
		Tier:       int(category.Tier),
		Threshold:  loc.Threshold,
		Breach:     res.Breach,
		Alerted:    res.Alert == AlertDelivered,
		CapturedAt: reading.CapturedAt,
		Components: reading.Components,
	})

	return res
}

func (e *Engine) alert(ctx context.Context, loc registry.Location, reading *protocol.Reading, category aqi.Category) (string, error) {
	now := e.clock.Now()
	capturedAt := reading.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = now
	}

	text, err := e.formatter.Alert(notification.AlertData{
		Location:   loc.Name,
		Index:      reading.Index,
		Category:   category,
		CapturedAt: capturedAt,
	})
	if err != nil {
		return AlertFailed, err
	}

	outcome, err := e.gate.TryAlert(ctx, loc.Name, now, e.cooldown, func(ctx context.Context) error {
		return e.deliver(ctx, notification.Message{Kind: protocol.KindAlert, Location: loc.Name, Text: text})
	})

	switch outcome {
	case alarming.Delivered:
		return AlertDelivered, err
	case alarming.Failed:
		return AlertFailed, err
	default:
		if err == nil {
			e.metrics.AlertsSuppressed.WithLabelValues(loc.Name).Inc()
		}
		return AlertSuppressed, err
	}
}

// ReportPass samples every location twice, treating the readings as the
// morning and evening samples of the day, and delivers a daily report.
func (e *Engine) ReportPass(ctx context.Context) *ReportPassReport {
	report := &ReportPassReport{
		ID:        uuid.NewString(),
		StartedAt: e.clock.Now(),
	}
	log := e.logger.With().Str("pass", "report").Str("pass_id", report.ID).Logger()

	locations := e.registry.List()
	report.Results = make([]ReportResult, len(locations))

	e.forEach(ctx, log, locations, func(i int, loc registry.Location) {
		report.Results[i] = e.reportLocation(ctx, log, loc)
	}, func(i int, loc registry.Location, err error) {
		res := ReportResult{Err: err, Error: err.Error()}
		res.Location = loc.Name
		report.Results[i] = res
	})

	report.FinishedAt = e.clock.Now()
	e.metrics.PassDuration.WithLabelValues("report").Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	log.Info().Int("locations", len(locations)).Dur("took", report.FinishedAt.Sub(report.StartedAt)).Msg("report pass complete")
	return report
}

func (e *Engine) reportLocation(ctx context.Context, passLog zerolog.Logger, loc registry.Location) ReportResult {
	log := passLog.With().Str("location", loc.Name).Logger()
	res := ReportResult{}
	res.Location = loc.Name

	fail := func(err error) ReportResult {
		res.Err = err
		res.Error = err.Error()
		log.Error().Err(err).Msg("daily report failed")
		return res
	}

	morning, err := e.fetch(ctx, loc)
	if err != nil {
		e.metrics.FetchFailures.WithLabelValues(loc.Name).Inc()
		return fail(err)
	}
	evening, err := e.fetch(ctx, loc)
	if err != nil {
		e.metrics.FetchFailures.WithLabelValues(loc.Name).Inc()
		return fail(err)
	}

	now := e.clock.Now()
	data := notification.DailyReportData{
		Location:        loc.Name,
		Date:            now,
		Morning:         morning.Index,
		MorningCategory: aqi.Classify(morning.Index),
		Evening:         evening.Index,
		EveningCategory: aqi.Classify(evening.Index),
		Mean:            (morning.Index + evening.Index) / 2,
	}
	data.Summary = aqi.Summary(data.Mean)

	res.Date = now.Format(notification.DateLayout)
	res.Morning = data.Morning
	res.MorningCategory = data.MorningCategory.Label
	res.Evening = data.Evening
	res.EveningCategory = data.EveningCategory.Label
	res.Mean = data.Mean
	res.Summary = data.Summary

	text, err := e.formatter.DailyReport(data)
	if err != nil {
		return fail(err)
	}

	if err := e.deliver(ctx, notification.Message{Kind: protocol.KindDailyReport, Location: loc.Name, Text: text}); err != nil {
		return fail(err)
	}
	res.Delivered = true

	for _, r := range e.recorders {
		if rr, ok := r.(ReportRecorder); ok {
			rctx, cancel := context.WithTimeout(ctx, e.deliveryTimeout)
			if err := rr.RecordReport(rctx, &res.DailyReport); err != nil {
				log.Warn().Err(err).Msg("failed to record daily report")
			}
			cancel()
		}
	}

	log.Info().Float64("mean", data.Mean).Str("summary", data.Summary).Msg("daily report sent")
	return res
}

// Snapshot is the current state of one location
type Snapshot struct {
	Location   string             `json:"location"`
	Index      float64            `json:"index"`
	Category   aqi.Category       `json:"category"`
	Threshold  int                `json:"threshold"`
	Breach     bool               `json:"breach"`
	CapturedAt time.Time          `json:"captured_at"`
	Components map[string]float64 `json:"components,omitempty"`
	LastAlert  *time.Time         `json:"last_alert,omitempty"`
}

// Current fetches and classifies one location without alerting
func (e *Engine) Current(ctx context.Context, name string) (*Snapshot, error) {
	loc, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, name)
	}

	reading, err := e.fetch(ctx, loc)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Location:   loc.Name,
		Index:      reading.Index,
		Category:   aqi.Classify(reading.Index),
		Threshold:  loc.Threshold,
		Breach:     reading.Index >= float64(loc.Threshold),
		CapturedAt: reading.CapturedAt,
		Components: reading.Components,
	}
	if last, ok, err := e.gate.LastAlert(ctx, loc.Name); err == nil && ok {
		snap.LastAlert = &last
	}
	return snap, nil
}

// SendForecast formats and delivers an externally produced forecast
func (e *Engine) SendForecast(ctx context.Context, fc protocol.Forecast) error {
	text, err := e.formatter.Forecast(fc)
	if err != nil {
		return err
	}
	return e.deliver(ctx, notification.Message{Kind: protocol.KindForecast, Location: fc.Location, Text: text})
}

// SendTestNotification delivers a fixed test message
func (e *Engine) SendTestNotification(ctx context.Context) error {
	return e.deliver(ctx, notification.Message{Kind: protocol.KindTest, Text: notification.TestMessage})
}

// RegisterLocation upserts a location in the registry
func (e *Engine) RegisterLocation(ctx context.Context, name string, lat, lon float64, threshold int) (registry.Location, error) {
	loc, err := e.registry.Register(ctx, name, lat, lon, threshold)
	if err != nil {
		return loc, err
	}
	e.metrics.RegisteredLocations.Set(float64(e.registry.Count()))
	e.logger.Info().Str("location", name).Int("threshold", threshold).Msg("location registered")
	return loc, nil
}

// RemoveLocation drops a location and its cooldown state. Unknown names are ignored.
func (e *Engine) RemoveLocation(ctx context.Context, name string) error {
	removed, err := e.registry.Remove(ctx, name)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	if err := e.gate.Forget(ctx, name); err != nil {
		e.logger.Warn().Err(err).Str("location", name).Msg("failed to clear alert state")
	}
	e.metrics.RegisteredLocations.Set(float64(e.registry.Count()))
	e.metrics.CurrentIndex.DeleteLabelValues(name)
	e.logger.Info().Str("location", name).Msg("location removed")
	return nil
}

// Locations lists the registry
func (e *Engine) Locations() []registry.Location {
	return e.registry.List()
}

// LocationCount returns the registry size
func (e *Engine) LocationCount() int {
	return e.registry.Count()
}

// AlertStates returns the cooldown state of every location that has alerted
func (e *Engine) AlertStates(ctx context.Context) (map[string]*alarming.AlertState, error) {
	return e.gate.States(ctx)
}

func (e *Engine) fetch(ctx context.Context, loc registry.Location) (*protocol.Reading, error) {
	fctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	reading, err := e.source.Fetch(fctx, loc.Lat, loc.Lon)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, loc.Name, err)
	}
	if reading == nil {
		return nil, fmt.Errorf("%w: %s: empty reading", ErrSourceUnavailable, loc.Name)
	}
	return reading, nil
}

func (e *Engine) deliver(ctx context.Context, msg notification.Message) error {
	dctx, cancel := context.WithTimeout(ctx, e.deliveryTimeout)
	defer cancel()

	if err := e.sink.Deliver(dctx, msg); err != nil {
		e.metrics.Notifications.WithLabelValues(msg.Kind, "failed").Inc()
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	e.metrics.Notifications.WithLabelValues(msg.Kind, "delivered").Inc()
	return nil
}

func (e *Engine) record(ctx context.Context, log zerolog.Logger, rec *protocol.ReadingRecord) {
	for _, r := range e.recorders {
		rctx, cancel := context.WithTimeout(ctx, e.deliveryTimeout)
		if err := r.RecordReading(rctx, rec); err != nil {
			log.Warn().Err(err).Msg("failed to record reading")
		}
		cancel()
	}
}

// forEach runs fn for every location on at most e.workers goroutines.
// A panic inside fn is reported through onPanic for that location only.
func (e *Engine) forEach(ctx context.Context, log zerolog.Logger, locations []registry.Location, fn func(int, registry.Location), onPanic func(int, registry.Location, error)) {
	var g errgroup.Group
	g.SetLimit(e.workers)

	for i, loc := range locations {
		i, loc := i, loc
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("location", loc.Name).
						Interface("panic", r).
						Bytes("stack", debug.Stack()).
						Msg("location panic recovered")
					onPanic(i, loc, fmt.Errorf("panic: %v", r))
				}
			}()

			if err := ctx.Err(); err != nil {
				onPanic(i, loc, err)
				return nil
			}
			fn(i, loc)
			return nil
		})
	}

	_ = g.Wait()
}
