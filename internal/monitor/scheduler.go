package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-monitor/internal/metrics"
	"github.com/smukkama/aqi-monitor/internal/timer"
	"github.com/smukkama/aqi-monitor/pkg/config"
)

var (
	ErrAlreadyRunning = errors.New("monitoring already running")
	ErrNotRunning     = errors.New("monitoring not running")
	ErrNoLocations    = errors.New("no locations registered")
)

const (
	DefaultCheckInterval = 30 * time.Minute
	checkTaskID          = "check-pass"
	reportTaskPrefix     = "report-pass@"
)

// DefaultReportTimes are the local times of the daily report pass
var DefaultReportTimes = []string{"08:00", "20:00"}

// Passes is what the scheduler drives
type Passes interface {
	CheckPass(ctx context.Context) *PassReport
	ReportPass(ctx context.Context) *ReportPassReport
	LocationCount() int
}

type timeOfDay struct {
	label        string
	hour, minute int
}

// SchedulerConfig configures a Scheduler
type SchedulerConfig struct {
	Interval    time.Duration
	ReportTimes []string // HH:MM, local time of Clock
	Clock       clockwork.Clock
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// Scheduler runs check passes on a fixed interval and report passes at
// fixed times of day while it is running.
type Scheduler struct {
	passes      Passes
	interval    time.Duration
	reportTimes []timeOfDay
	clock       clockwork.Clock
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	mu         sync.Mutex
	running    bool
	generation uint64
	timers     *timer.TimerManager
	startedAt  time.Time
	lastCheck  *PassReport
	lastReport *ReportPassReport
	inflight   sync.WaitGroup
}

// NewScheduler creates a stopped scheduler
func NewScheduler(passes Passes, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	if cfg.ReportTimes == nil {
		cfg.ReportTimes = DefaultReportTimes
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewForTesting()
	}

	times := make([]timeOfDay, 0, len(cfg.ReportTimes))
	for _, s := range cfg.ReportTimes {
		h, m, err := config.ParseTimeOfDay(s)
		if err != nil {
			return nil, err
		}
		times = append(times, timeOfDay{label: fmt.Sprintf("%02d:%02d", h, m), hour: h, minute: m})
	}

	return &Scheduler{
		passes:      passes,
		interval:    cfg.Interval,
		reportTimes: times,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Start begins scheduled monitoring. It runs one check pass before
// returning and returns that pass's report.
func (s *Scheduler) Start(ctx context.Context) (*PassReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if s.passes.LocationCount() == 0 {
		s.mu.Unlock()
		return nil, ErrNoLocations
	}

	s.generation++
	gen := s.generation
	s.running = true
	s.startedAt = s.clock.Now()
	s.timers = timer.NewTimerManager(s.clock)
	s.timers.Start()

	now := s.clock.Now()
	s.scheduleCheck(gen, now.Add(s.interval))
	for _, t := range s.reportTimes {
		s.scheduleReport(gen, t, timer.NextDailyRun(now, t.hour, t.minute))
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	s.metrics.SchedulerRunning.Set(1)
	s.logger.Info().
		Dur("interval", s.interval).
		Strs("report_times", s.reportLabels()).
		Msg("monitoring started")

	defer s.inflight.Done()
	report := s.passes.CheckPass(ctx)
	s.setLastCheck(report)
	return report, nil
}

// Stop cancels all pending passes. Passes already in flight finish on
// their own; no pass starts after Stop returns.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.generation++
	tm := s.timers
	s.timers = nil
	s.mu.Unlock()

	tm.Stop()
	s.metrics.SchedulerRunning.Set(0)
	s.logger.Info().Msg("monitoring stopped")
	return nil
}

// Wait blocks until in-flight passes have finished
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Running reports whether scheduled monitoring is active
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status describes the scheduler state
type Status struct {
	Running     bool                 `json:"running"`
	Interval    string               `json:"interval"`
	ReportTimes []string             `json:"report_times"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	NextCheck   *time.Time           `json:"next_check,omitempty"`
	NextReports map[string]time.Time `json:"next_reports,omitempty"`
	LastCheck   *PassReport          `json:"last_check,omitempty"`
	LastReport  *ReportPassReport    `json:"last_report,omitempty"`
}

// Status returns a snapshot of the scheduler state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:     s.running,
		Interval:    s.interval.String(),
		ReportTimes: s.reportLabels(),
		LastCheck:   s.lastCheck,
		LastReport:  s.lastReport,
	}
	if !s.running {
		return st
	}

	started := s.startedAt
	st.StartedAt = &started
	if next, ok := s.timers.Next(checkTaskID); ok {
		st.NextCheck = &next
	}
	st.NextReports = make(map[string]time.Time, len(s.reportTimes))
	for _, t := range s.reportTimes {
		if next, ok := s.timers.Next(reportTaskPrefix + t.label); ok {
			st.NextReports[t.label] = next
		}
	}
	return st
}

func (s *Scheduler) reportLabels() []string {
	out := make([]string, len(s.reportTimes))
	for i, t := range s.reportTimes {
		out[i] = t.label
	}
	return out
}

// begin claims an in-flight slot for a pass of generation gen. It fails
// once Stop has been called for that generation.
func (s *Scheduler) begin(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.generation != gen {
		return false
	}
	s.inflight.Add(1)
	return true
}

// scheduleCheck must be called with s.mu held
func (s *Scheduler) scheduleCheck(gen uint64, at time.Time) {
	tm := s.timers
	err := tm.Schedule(checkTaskID, at, func() {
		if !s.begin(gen) {
			return
		}
		defer s.inflight.Done()

		s.mu.Lock()
		if s.generation == gen {
			now := s.clock.Now()
			next := at.Add(s.interval)
			for !next.After(now) {
				next = next.Add(s.interval)
			}
			s.scheduleCheck(gen, next)
		}
		s.mu.Unlock()

		s.setLastCheck(s.passes.CheckPass(context.Background()))
	})
	if err != nil && !errors.Is(err, timer.ErrManagerStopped) {
		s.logger.Error().Err(err).Msg("failed to schedule check pass")
	}
}

// scheduleReport must be called with s.mu held
func (s *Scheduler) scheduleReport(gen uint64, t timeOfDay, at time.Time) {
	tm := s.timers
	err := tm.Schedule(reportTaskPrefix+t.label, at, func() {
		if !s.begin(gen) {
			return
		}
		defer s.inflight.Done()

		s.mu.Lock()
		if s.generation == gen {
			s.scheduleReport(gen, t, timer.NextDailyRun(s.clock.Now(), t.hour, t.minute))
		}
		s.mu.Unlock()

		s.logger.Info().Str("report_time", t.label).Msg("running daily report pass")
		s.setLastReport(s.passes.ReportPass(context.Background()))
	})
	if err != nil && !errors.Is(err, timer.ErrManagerStopped) {
		s.logger.Error().Err(err).Msg("failed to schedule report pass")
	}
}

func (s *Scheduler) setLastCheck(r *PassReport) {
	s.mu.Lock()
	s.lastCheck = r
	s.mu.Unlock()
}

func (s *Scheduler) setLastReport(r *ReportPassReport) {
	s.mu.Lock()
	s.lastReport = r
	s.mu.Unlock()
}
