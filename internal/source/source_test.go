package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAQIClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/geo:-6.2088;106.8456/", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		_, _ = w.Write([]byte(`{
			"status": "ok",
			"data": {
				"aqi": 157,
				"time": {"iso": "2024-06-01T14:00:00+07:00"},
				"iaqi": {"pm25": {"v": 157}, "o3": {"v": 12.5}}
			}
		}`))
	}))
	defer srv.Close()

	c := NewWAQIClient("secret", srv.URL, 2*time.Second)
	reading, err := c.Fetch(context.Background(), -6.2088, 106.8456)
	require.NoError(t, err)

	assert.Equal(t, 157.0, reading.Index)
	assert.Equal(t, 12.5, reading.Components["o3"])
	assert.True(t, reading.CapturedAt.Equal(time.Date(2024, time.June, 1, 7, 0, 0, 0, time.UTC)))
}

func TestWAQIClient_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","data":{"aqi":"-","time":{},"iaqi":{}}}`))
	}))
	defer srv.Close()

	_, err := NewWAQIClient("k", srv.URL, time.Second).Fetch(context.Background(), 0, 0)
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestWAQIClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","data":"Invalid key"}`))
	}))
	defer srv.Close()

	_, err := NewWAQIClient("k", srv.URL, time.Second).Fetch(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid key")
}

func TestWAQIClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewWAQIClient("k", srv.URL, time.Second).Fetch(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSimulated_Fetch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC))
	s := NewSimulated(clock, 1)

	for i := 0; i < 100; i++ {
		reading, err := s.Fetch(context.Background(), 0, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, reading.Index, 50.0)
		assert.LessOrEqual(t, reading.Index, 200.0)
		assert.Equal(t, clock.Now(), reading.CapturedAt)
		assert.Len(t, reading.Components, 6)
	}
}

func TestSimulated_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulated(nil, 1).Fetch(ctx, 0, 0)
	assert.Error(t, err)
}
