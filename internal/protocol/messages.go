package protocol

import (
	"encoding/json"
	"time"
)

// Reading is a point-in-time index measurement for a pair of coordinates
type Reading struct {
	Index      float64            `json:"index"`
	CapturedAt time.Time          `json:"captured_at"`
	Components map[string]float64 `json:"components,omitempty"`
}

// ReadingRecord is the observability record emitted for every checked location
type ReadingRecord struct {
	PassID     string             `json:"pass_id"`
	Location   string             `json:"location"`
	Lat        float64            `json:"lat"`
	Lon        float64            `json:"lon"`
	Index      float64            `json:"index"`
	Category   string             `json:"category"`
	Tier       int                `json:"tier"`
	Threshold  int                `json:"threshold"`
	Breach     bool               `json:"breach"`
	Alerted    bool               `json:"alerted"`
	CapturedAt time.Time          `json:"captured_at"`
	Components map[string]float64 `json:"components,omitempty"`
}

// DailyReport is the persisted outcome of one location's report
type DailyReport struct {
	Location        string  `json:"location"`
	Date            string  `json:"date"`
	Morning         float64 `json:"morning"`
	MorningCategory string  `json:"morning_category"`
	Evening         float64 `json:"evening"`
	EveningCategory string  `json:"evening_category"`
	Mean            float64 `json:"mean"`
	Summary         string  `json:"summary"`
	Delivered       bool    `json:"delivered"`
}

// Forecast is an externally produced outlook for one location
type Forecast struct {
	Location  string `json:"location"`
	Date      string `json:"date"`
	Morning   int    `json:"morning"`
	Afternoon int    `json:"afternoon"`
	Evening   int    `json:"evening"`
	Advice    string `json:"advice"`
}

// Notification is the message format for notifications relayed over Kafka
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // ALERT, DAILY_REPORT, FORECAST, TEST
	Location  string    `json:"location,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	KindAlert       = "ALERT"
	KindDailyReport = "DAILY_REPORT"
	KindForecast    = "FORECAST"
	KindTest        = "TEST"
)

// EncodeReadingRecord encodes a ReadingRecord to JSON
func EncodeReadingRecord(rec *ReadingRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeReadingRecord decodes JSON to ReadingRecord
func DecodeReadingRecord(data []byte) (*ReadingRecord, error) {
	var rec ReadingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EncodeNotification encodes a Notification to JSON
func EncodeNotification(n *Notification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeNotification decodes JSON to Notification
func DecodeNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
