package source

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/smukkama/aqi-monitor/internal/protocol"
)

// Simulated produces random readings for demos and local runs. Index
// values fall in [50,200].
type Simulated struct {
	clock clockwork.Clock
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewSimulated creates a simulated source seeded with seed
func NewSimulated(clock clockwork.Clock, seed int64) *Simulated {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Simulated{
		clock: clock,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulated) Fetch(ctx context.Context, _, _ float64) (*protocol.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	between := func(lo, hi int) float64 {
		return float64(lo + s.rng.Intn(hi-lo+1))
	}

	return &protocol.Reading{
		Index:      between(50, 200),
		CapturedAt: s.clock.Now(),
		Components: map[string]float64{
			"pm25": between(10, 100),
			"pm10": between(20, 150),
			"o3":   between(30, 120),
			"no2":  between(10, 80),
			"so2":  between(5, 50),
			"co":   between(100, 1000),
		},
	}, nil
}

// DefaultSeed returns a seed that differs between runs
func DefaultSeed() int64 {
	return time.Now().UnixNano()
}
