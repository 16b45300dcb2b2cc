package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultThreshold is the alert threshold used when none is given
const DefaultThreshold = 100

var (
	// ErrInvalidArgument is returned for registration input that cannot be stored
	ErrInvalidArgument = errors.New("invalid argument")
)

// Location is a monitored place and its alert threshold
type Location struct {
	Name         string    `json:"name"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Threshold    int       `json:"threshold"`
	RegisteredAt time.Time `json:"registered_at"`

	seq uint64
}

// Store persists registry changes. Registry writes through to it when set.
type Store interface {
	UpsertLocation(ctx context.Context, loc Location) error
	DeleteLocation(ctx context.Context, name string) error
	ListLocations(ctx context.Context) ([]Location, error)
}

// Registry owns the set of monitored locations
type Registry struct {
	locations map[string]*Location
	nextSeq   uint64
	store     Store
	mu        sync.RWMutex
}

// New creates an empty registry. store may be nil.
func New(store Store) *Registry {
	return &Registry{
		locations: make(map[string]*Location),
		store:     store,
	}
}

// Load replaces the in-memory set with the store's contents
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	locs, err := r.store.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load locations: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.locations = make(map[string]*Location, len(locs))
	for _, loc := range locs {
		l := loc
		r.nextSeq++
		l.seq = r.nextSeq
		r.locations[l.Name] = &l
	}
	return nil
}

// Register upserts a location under name. Re-registration keeps the
// original position in List order.
func (r *Registry) Register(ctx context.Context, name string, lat, lon float64, threshold int) (Location, error) {
	if name == "" {
		return Location{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if threshold < 0 {
		return Location{}, fmt.Errorf("%w: threshold %d must be non-negative", ErrInvalidArgument, threshold)
	}
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return Location{}, fmt.Errorf("%w: coordinates must be numbers", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loc := Location{
		Name:         name,
		Lat:          lat,
		Lon:          lon,
		Threshold:    threshold,
		RegisteredAt: time.Now(),
	}
	if existing, ok := r.locations[name]; ok {
		loc.seq = existing.seq
		loc.RegisteredAt = existing.RegisteredAt
	} else {
		r.nextSeq++
		loc.seq = r.nextSeq
	}

	if r.store != nil {
		if err := r.store.UpsertLocation(ctx, loc); err != nil {
			return Location{}, fmt.Errorf("failed to persist location %s: %w", name, err)
		}
	}

	r.locations[name] = &loc
	return loc, nil
}

// Remove deletes a location. Removing an unknown name is not an error.
// The returned bool reports whether anything was removed.
func (r *Registry) Remove(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.locations[name]; !ok {
		return false, nil
	}

	if r.store != nil {
		if err := r.store.DeleteLocation(ctx, name); err != nil {
			return false, fmt.Errorf("failed to delete location %s: %w", name, err)
		}
	}

	delete(r.locations, name)
	return true, nil
}

// Get retrieves a location by name
func (r *Registry) Get(name string) (Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loc, ok := r.locations[name]
	if !ok {
		return Location{}, false
	}
	return *loc, true
}

// List returns a copy of all locations in registration order
func (r *Registry) List() []Location {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Location, 0, len(r.locations))
	for _, loc := range r.locations {
		out = append(out, *loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Count returns the number of registered locations
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locations)
}
