package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-monitor/internal/database"
	"github.com/smukkama/aqi-monitor/internal/monitor"
	"github.com/smukkama/aqi-monitor/internal/protocol"
	"github.com/smukkama/aqi-monitor/internal/registry"
)

// History serves persisted alerts and reading aggregates
type History interface {
	RecentAlerts(ctx context.Context, location string, limit int) ([]*database.AlertLog, error)
	DailyStats(ctx context.Context, location string, date time.Time) (*database.DailyStats, error)
}

// Options wires the server to the monitor
type Options struct {
	Addr      string
	Engine    *monitor.Engine
	Scheduler *monitor.Scheduler
	History   History // optional
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
}

// Server exposes the location registry, monitor control and metrics over HTTP
type Server struct {
	httpServer *http.Server
	engine     *monitor.Engine
	scheduler  *monitor.Scheduler
	history    History
	logger     zerolog.Logger
}

// NewServer creates the HTTP server and its routes
func NewServer(opts Options) *Server {
	mux := http.NewServeMux()

	s := &Server{
		engine:    opts.Engine,
		scheduler: opts.Scheduler,
		history:   opts.History,
		logger:    opts.Logger,
	}
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.logRequests(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /locations", s.handleListLocations)
	mux.HandleFunc("POST /locations", s.handleRegisterLocation)
	mux.HandleFunc("DELETE /locations/{name}", s.handleRemoveLocation)
	mux.HandleFunc("GET /locations/{name}/reading", s.handleCurrentReading)
	mux.HandleFunc("GET /locations/{name}/alerts", s.handleAlertHistory)
	mux.HandleFunc("GET /locations/{name}/stats", s.handleDailyStats)
	mux.HandleFunc("GET /alerts", s.handleAlertStates)

	mux.HandleFunc("POST /monitor/start", s.handleStart)
	mux.HandleFunc("POST /monitor/stop", s.handleStop)
	mux.HandleFunc("GET /monitor/status", s.handleStatus)
	mux.HandleFunc("POST /monitor/check", s.handleCheckPass)
	mux.HandleFunc("POST /monitor/reports", s.handleReportPass)

	mux.HandleFunc("POST /notifications/test", s.handleTestNotification)
	mux.HandleFunc("POST /notifications/forecast", s.handleForecast)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListLocations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Locations())
}

type registerRequest struct {
	Name      string   `json:"name"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Threshold *int     `json:"threshold"`
}

func (s *Server) handleRegisterLocation(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Lat == nil || req.Lon == nil {
		writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}

	threshold := registry.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	loc, err := s.engine.RegisterLocation(r.Context(), req.Name, *req.Lat, *req.Lon, threshold)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (s *Server) handleRemoveLocation(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoveLocation(r.Context(), r.PathValue("name")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCurrentReading(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Current(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "alert history requires a database")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	alerts, err := s.history.RecentAlerts(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if alerts == nil {
		alerts = []*database.AlertLog{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "daily stats require a database")
		return
	}

	date := time.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date (expected YYYY-MM-DD)")
			return
		}
		date = d
	}

	stats, err := s.history.DailyStats(r.Context(), r.PathValue("name"), date)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "no readings for that day")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAlertStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.engine.AlertStates(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	report, err := s.scheduler.Start(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.scheduler.Stop(); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleCheckPass(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.CheckPass(r.Context()))
}

func (s *Server) handleReportPass(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ReportPass(r.Context()))
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SendTestNotification(r.Context()); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var fc protocol.Forecast
	if err := json.NewDecoder(r.Body).Decode(&fc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if fc.Location == "" {
		writeError(w, http.StatusBadRequest, "location is required")
		return
	}

	if err := s.engine.SendForecast(r.Context(), fc); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeErr maps domain errors onto status codes
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, monitor.ErrUnknownLocation):
		status = http.StatusNotFound
	case errors.Is(err, monitor.ErrAlreadyRunning), errors.Is(err, monitor.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, monitor.ErrNoLocations):
		status = http.StatusPreconditionFailed
	case errors.Is(err, monitor.ErrSourceUnavailable), errors.Is(err, monitor.ErrSinkUnavailable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
