package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/aqi-monitor/internal/protocol"
)

// ErrNoData is returned when the provider has no index for the coordinates
var ErrNoData = errors.New("no reading available")

// WAQIClient implements MetricSource using the World Air Quality Index feed API.
type WAQIClient struct {
	token      string
	httpClient *http.Client
	baseURL    string
}

// NewWAQIClient creates a client. timeout bounds every request.
func NewWAQIClient(token, baseURL string, timeout time.Duration) *WAQIClient {
	if baseURL == "" {
		baseURL = "https://api.waqi.info"
	}
	return &WAQIClient{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *WAQIClient) Fetch(ctx context.Context, lat, lon float64) (*protocol.Reading, error) {
	u := fmt.Sprintf("%s/feed/geo:%.4f;%.4f/?%s", c.baseURL, lat, lon, url.Values{"token": {c.token}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("waqi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("waqi API error: status %d: %s", resp.StatusCode, body)
	}

	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if feed.Status != "ok" {
		var msg string
		_ = json.Unmarshal(feed.Data, &msg)
		return nil, fmt.Errorf("waqi API error: %s", msg)
	}

	var data feedData
	if err := json.Unmarshal(feed.Data, &data); err != nil {
		return nil, fmt.Errorf("decode feed data: %w", err)
	}

	return data.reading()
}

// WAQI API response types.

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	AQI  json.RawMessage `json:"aqi"` // number, or "-" when the station has no value
	Time struct {
		ISO string `json:"iso"`
	} `json:"time"`
	IAQI map[string]struct {
		V float64 `json:"v"`
	} `json:"iaqi"`
}

func (d feedData) reading() (*protocol.Reading, error) {
	index, err := parseIndex(d.AQI)
	if err != nil {
		return nil, err
	}

	capturedAt := time.Now()
	if d.Time.ISO != "" {
		if ts, err := time.Parse(time.RFC3339, d.Time.ISO); err == nil {
			capturedAt = ts
		}
	}

	var components map[string]float64
	if len(d.IAQI) > 0 {
		components = make(map[string]float64, len(d.IAQI))
		for name, v := range d.IAQI {
			components[name] = v.V
		}
	}

	return &protocol.Reading{
		Index:      index,
		CapturedAt: capturedAt,
		Components: components,
	}, nil
}

func parseIndex(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, ErrNoData
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("unexpected aqi value %s", raw)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, ErrNoData
	}
	return n, nil
}
