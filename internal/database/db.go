package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-monitor/internal/protocol"
	"github.com/smukkama/aqi-monitor/internal/registry"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps the database connection
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// Connect establishes a connection to the database
func Connect(ctx context.Context, connectionString string, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &DB{DB: db, logger: logger}, nil
}

// RunMigrations executes the embedded SQL migrations in name order.
// Every migration is idempotent.
func (db *DB) RunMigrations(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		db.logger.Info().Str("migration", name).Msg("running migration")

		content, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
	}

	db.logger.Info().Int("count", len(files)).Msg("migrations completed")
	return nil
}

// UpsertLocation inserts or updates a location
func (db *DB) UpsertLocation(ctx context.Context, loc registry.Location) error {
	query := `
		INSERT INTO locations (name, lat, lon, threshold, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET lat = EXCLUDED.lat,
		    lon = EXCLUDED.lon,
		    threshold = EXCLUDED.threshold,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, loc.Name, loc.Lat, loc.Lon, loc.Threshold, loc.RegisteredAt)
	return err
}

// DeleteLocation removes a location. Deleting an unknown name is a no-op.
func (db *DB) DeleteLocation(ctx context.Context, name string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM locations WHERE name = $1`, name)
	return err
}

// ListLocations returns every location in registration order
func (db *DB) ListLocations(ctx context.Context) ([]registry.Location, error) {
	query := `
		SELECT name, lat, lon, threshold, registered_at
		FROM locations
		ORDER BY registered_at, name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locs []registry.Location
	for rows.Next() {
		var loc registry.Location
		if err := rows.Scan(&loc.Name, &loc.Lat, &loc.Lon, &loc.Threshold, &loc.RegisteredAt); err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}

	return locs, rows.Err()
}

// RecordReading stores a reading record and, for delivered alerts, an
// alert log entry in the same transaction.
func (db *DB) RecordReading(ctx context.Context, rec *protocol.ReadingRecord) error {
	var components []byte
	if len(rec.Components) > 0 {
		var err error
		if components, err = json.Marshal(rec.Components); err != nil {
			return fmt.Errorf("failed to encode components: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := &ReadingRow{
		PassID:     rec.PassID,
		Location:   rec.Location,
		AQI:        rec.Index,
		Category:   rec.Category,
		Threshold:  rec.Threshold,
		Breach:     rec.Breach,
		Alerted:    rec.Alerted,
		Components: components,
		CapturedAt: rec.CapturedAt,
	}
	if err := insertReading(ctx, tx, row); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	if rec.Alerted {
		alert := &AlertLog{
			Location:  rec.Location,
			AQI:       rec.Index,
			Category:  rec.Category,
			Threshold: rec.Threshold,
			SentAt:    rec.CapturedAt,
		}
		if err := insertAlertLog(ctx, tx, alert); err != nil {
			return fmt.Errorf("failed to insert alert log: %w", err)
		}
	}

	return tx.Commit()
}

func insertReading(ctx context.Context, tx *sql.Tx, r *ReadingRow) error {
	query := `
		INSERT INTO readings (
			pass_id, location, aqi, category, threshold,
			breach, alerted, components, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var components interface{}
	if r.Components != nil {
		components = string(r.Components)
	}

	return tx.QueryRowContext(ctx, query,
		r.PassID,
		r.Location,
		r.AQI,
		r.Category,
		r.Threshold,
		r.Breach,
		r.Alerted,
		components,
		r.CapturedAt,
	).Scan(&r.ID)
}

func insertAlertLog(ctx context.Context, tx *sql.Tx, a *AlertLog) error {
	query := `
		INSERT INTO alerts_log (location, aqi, category, threshold, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING alert_id
	`
	return tx.QueryRowContext(ctx, query, a.Location, a.AQI, a.Category, a.Threshold, a.SentAt).Scan(&a.AlertID)
}

// RecordReport stores the outcome of a daily report
func (db *DB) RecordReport(ctx context.Context, rep *protocol.DailyReport) error {
	query := `
		INSERT INTO daily_reports (
			location, report_date, morning, morning_category, evening,
			evening_category, mean, summary, delivered
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := db.ExecContext(ctx, query,
		rep.Location,
		rep.Date,
		rep.Morning,
		rep.MorningCategory,
		rep.Evening,
		rep.EveningCategory,
		rep.Mean,
		rep.Summary,
		rep.Delivered,
	)
	return err
}

// RecentAlerts returns the latest delivered alerts for a location
func (db *DB) RecentAlerts(ctx context.Context, location string, limit int) ([]*AlertLog, error) {
	query := `
		SELECT alert_id, location, aqi, category, threshold, sent_at
		FROM alerts_log
		WHERE location = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, location, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*AlertLog
	for rows.Next() {
		var a AlertLog
		if err := rows.Scan(&a.AlertID, &a.Location, &a.AQI, &a.Category, &a.Threshold, &a.SentAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// DailyStats aggregates a location's readings for the calendar day of date.
// It returns nil when there were no readings that day.
func (db *DB) DailyStats(ctx context.Context, location string, date time.Time) (*DailyStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(MIN(aqi), 0),
			COALESCE(MAX(aqi), 0),
			COALESCE(AVG(aqi), 0),
			COUNT(*) FILTER (WHERE breach)
		FROM readings
		WHERE location = $1 AND DATE(captured_at) = $2::date
	`

	stats := DailyStats{
		Location: location,
		Date:     time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
	}
	err := db.QueryRowContext(ctx, query, location, stats.Date.Format("2006-01-02")).Scan(
		&stats.SampleCount,
		&stats.MinAQI,
		&stats.MaxAQI,
		&stats.AvgAQI,
		&stats.Breaches,
	)
	if err != nil {
		return nil, err
	}
	if stats.SampleCount == 0 {
		return nil, nil
	}
	return &stats, nil
}
