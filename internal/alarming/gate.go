package alarming

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultCooldown is the minimum time between two alerts for one location
const DefaultCooldown = time.Hour

// Gate decides whether a breach may fire a new alert. Decisions and
// writes for one location are serialized; different locations never
// contend.
type Gate struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGate creates a gate over store
func NewGate(store Store) *Gate {
	return &Gate{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (g *Gate) lock(location string) func() {
	g.mu.Lock()
	l, ok := g.locks[location]
	if !ok {
		l = &sync.Mutex{}
		g.locks[location] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ShouldAlert reports whether location has never alerted or its last alert
// is more than cooldown before now.
func (g *Gate) ShouldAlert(ctx context.Context, location string, now time.Time, cooldown time.Duration) (bool, error) {
	unlock := g.lock(location)
	defer unlock()
	return g.shouldAlert(ctx, location, now, cooldown)
}

func (g *Gate) shouldAlert(ctx context.Context, location string, now time.Time, cooldown time.Duration) (bool, error) {
	state, err := g.store.Get(ctx, location)
	if err != nil {
		return false, fmt.Errorf("failed to read alert state for %s: %w", location, err)
	}
	if state == nil {
		return true, nil
	}
	return now.Sub(state.LastAlertAt) > cooldown, nil
}

// RecordAlertSent stores at as the last alert time. Call it only once a
// delivery has been confirmed. An older timestamp never replaces a newer one.
func (g *Gate) RecordAlertSent(ctx context.Context, location string, at time.Time) error {
	unlock := g.lock(location)
	defer unlock()
	return g.recordAlertSent(ctx, location, at)
}

func (g *Gate) recordAlertSent(ctx context.Context, location string, at time.Time) error {
	state, err := g.store.Get(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to read alert state for %s: %w", location, err)
	}
	if state == nil {
		state = &AlertState{}
	}
	if at.After(state.LastAlertAt) {
		state.LastAlertAt = at
	}
	state.AlertCount++

	if err := g.store.Set(ctx, location, state); err != nil {
		return fmt.Errorf("failed to record alert for %s: %w", location, err)
	}
	return nil
}

// Outcome is the result of TryAlert
type Outcome int

const (
	// Suppressed means the location is still inside its cooldown window
	Suppressed Outcome = iota
	// Delivered means deliver succeeded and the alert was recorded
	Delivered
	// Failed means deliver returned an error; nothing was recorded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// TryAlert runs the check, deliver and record sequence for one location
// under its lock, so concurrent passes cannot both deliver inside one
// cooldown window. The error is deliver's error or a store failure.
func (g *Gate) TryAlert(ctx context.Context, location string, now time.Time, cooldown time.Duration, deliver func(context.Context) error) (Outcome, error) {
	unlock := g.lock(location)
	defer unlock()

	ok, err := g.shouldAlert(ctx, location, now, cooldown)
	if err != nil {
		return Suppressed, err
	}
	if !ok {
		return Suppressed, nil
	}

	if err := deliver(ctx); err != nil {
		return Failed, err
	}

	if err := g.recordAlertSent(ctx, location, now); err != nil {
		return Delivered, err
	}
	return Delivered, nil
}

// LastAlert returns the last alert time for location, if any
func (g *Gate) LastAlert(ctx context.Context, location string) (time.Time, bool, error) {
	state, err := g.store.Get(ctx, location)
	if err != nil || state == nil {
		return time.Time{}, false, err
	}
	return state.LastAlertAt, true, nil
}

// States returns every stored alert state keyed by location
func (g *Gate) States(ctx context.Context) (map[string]*AlertState, error) {
	return g.store.All(ctx)
}

// Forget drops the cooldown state of a removed location
func (g *Gate) Forget(ctx context.Context, location string) error {
	unlock := g.lock(location)
	defer unlock()
	return g.store.Delete(ctx, location)
}
