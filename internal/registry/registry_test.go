package registry

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	upserts []Location
	deletes []string
	initial []Location
	failErr error
}

func (f *fakeStore) UpsertLocation(_ context.Context, loc Location) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.upserts = append(f.upserts, loc)
	return nil
}

func (f *fakeStore) DeleteLocation(_ context.Context, name string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.deletes = append(f.deletes, name)
	return nil
}

func (f *fakeStore) ListLocations(_ context.Context) ([]Location, error) {
	return f.initial, f.failErr
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	_, err := r.Register(ctx, "Semarang", -6.9667, 110.4167, 100)
	require.NoError(t, err)
	_, err = r.Register(ctx, "Jakarta", -6.2088, 106.8456, 120)
	require.NoError(t, err)
	_, err = r.Register(ctx, "Surabaya", -7.2575, 112.7521, 80)
	require.NoError(t, err)

	locs := r.List()
	require.Len(t, locs, 3)
	assert.Equal(t, []string{"Semarang", "Jakarta", "Surabaya"}, names(locs))
	assert.Equal(t, 3, r.Count())

	// Deterministic within a run
	assert.Equal(t, names(locs), names(r.List()))
}

func TestRegistry_ReRegisterOverwrites(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	_, _ = r.Register(ctx, "Jakarta", 1, 2, 100)
	_, _ = r.Register(ctx, "Semarang", 3, 4, 100)
	_, err := r.Register(ctx, "Jakarta", 5, 6, 150)
	require.NoError(t, err)

	loc, ok := r.Get("Jakarta")
	require.True(t, ok)
	assert.Equal(t, 5.0, loc.Lat)
	assert.Equal(t, 150, loc.Threshold)
	assert.Equal(t, []string{"Jakarta", "Semarang"}, names(r.List()))
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_NamesAreCaseSensitive(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	_, _ = r.Register(ctx, "jakarta", 1, 2, 100)
	_, _ = r.Register(ctx, "Jakarta", 1, 2, 100)
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_InvalidArgument(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	_, err := r.Register(ctx, "Jakarta", 1, 2, -1)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = r.Register(ctx, "", 1, 2, 100)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = r.Register(ctx, "Jakarta", math.NaN(), 2, 100)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	assert.Equal(t, 0, r.Count())
}

func TestRegistry_AcceptsAnyCoordinates(t *testing.T) {
	r := New(nil)
	_, err := r.Register(context.Background(), "Nowhere", 1000, -1000, 0)
	assert.NoError(t, err)
}

func TestRegistry_Remove(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	_, _ = r.Register(ctx, "Jakarta", 1, 2, 100)

	removed, err := r.Remove(ctx, "Jakarta")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Remove(ctx, "Jakarta")
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok := r.Get("Jakarta")
	assert.False(t, ok)
}

func TestRegistry_WritesThroughToStore(t *testing.T) {
	store := &fakeStore{}
	r := New(store)
	ctx := context.Background()

	_, err := r.Register(ctx, "Jakarta", 1, 2, 100)
	require.NoError(t, err)
	_, err = r.Remove(ctx, "Jakarta")
	require.NoError(t, err)
	_, err = r.Remove(ctx, "Unknown")
	require.NoError(t, err)

	require.Len(t, store.upserts, 1)
	assert.Equal(t, "Jakarta", store.upserts[0].Name)
	assert.Equal(t, []string{"Jakarta"}, store.deletes)
}

func TestRegistry_StoreFailureLeavesStateUntouched(t *testing.T) {
	store := &fakeStore{failErr: errors.New("connection refused")}
	r := New(store)

	_, err := r.Register(context.Background(), "Jakarta", 1, 2, 100)
	require.Error(t, err)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Load(t *testing.T) {
	store := &fakeStore{initial: []Location{
		{Name: "B", Threshold: 100},
		{Name: "A", Threshold: 50},
	}}
	r := New(store)

	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, []string{"B", "A"}, names(r.List()))
}

func names(locs []Location) []string {
	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = l.Name
	}
	return out
}
