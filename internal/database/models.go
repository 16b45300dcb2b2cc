package database

import (
	"time"
)

// LocationRow is a persisted monitored location
type LocationRow struct {
	Name         string
	Lat          float64
	Lon          float64
	Threshold    int
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// ReadingRow is one checked location in one pass
type ReadingRow struct {
	ID         int64
	PassID     string
	Location   string
	AQI        float64
	Category   string
	Threshold  int
	Breach     bool
	Alerted    bool
	Components []byte // JSON
	CapturedAt time.Time
	ReceivedAt time.Time
}

// AlertLog is a delivered alert
type AlertLog struct {
	AlertID   int64     `json:"alert_id"`
	Location  string    `json:"location"`
	AQI       float64   `json:"aqi"`
	Category  string    `json:"category"`
	Threshold int       `json:"threshold"`
	SentAt    time.Time `json:"sent_at"`
}

// DailyReportRow is the outcome of one location's daily report
type DailyReportRow struct {
	ID              int64
	Location        string
	ReportDate      string
	Morning         float64
	MorningCategory string
	Evening         float64
	EveningCategory string
	Mean            float64
	Summary         string
	Delivered       bool
	CreatedAt       time.Time
}

// DailyStats aggregates one location's readings over a calendar day
type DailyStats struct {
	Location    string    `json:"location"`
	Date        time.Time `json:"date"`
	MinAQI      float64   `json:"min_aqi"`
	MaxAQI      float64   `json:"max_aqi"`
	AvgAQI      float64   `json:"avg_aqi"`
	SampleCount int       `json:"sample_count"`
	Breaches    int       `json:"breaches"`
}
