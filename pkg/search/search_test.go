package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/minaplatser/pkg/kv"
	"github.com/rubiojr/minaplatser/pkg/places"
)

type fakeGeocoder struct {
	calls   int
	results []Result
	errs    []error
}

func (f *fakeGeocoder) Geocode(_ context.Context, q string, limit int) ([]Result, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.results, nil
}

func TestPlacesComeFirst(t *testing.T) {
	store := places.NewStore(kv.NewMemory())
	ctx := context.Background()
	_, err := store.Create(ctx, [2]float64{59.1, 17.6}, 3, "Stugan vid sjön", "x")
	require.NoError(t, err)
	_, err = store.Create(ctx, [2]float64{59.2, 17.7}, 3, "Jobbet", "x")
	require.NoError(t, err)

	g := &fakeGeocoder{results: []Result{{Name: "Stugsund, Söderhamn", Lat: 61.2, Lng: 17.1, Source: "geocode"}}}
	s, err := New(Options{Geocoder: g, Places: store, MinInterval: time.Millisecond})
	require.NoError(t, err)

	res, err := s.Search(ctx, "stug", 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "place", res[0].Source)
	assert.Equal(t, "Stugan vid sjön", res[0].Name)
	assert.Equal(t, "geocode", res[1].Source)

	res, err = s.Search(ctx, "stug", 1)
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, 1, g.calls, "limit filled by places alone")
}

func TestGeocodeCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocode.sqlite")
	g := &fakeGeocoder{results: []Result{{Name: "Uppsala", Lat: 59.86, Lng: 17.64, Source: "geocode"}}}
	s, err := New(Options{CachePath: path, Geocoder: g, MinInterval: time.Millisecond})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := s.Search(context.Background(), "Uppsala", 3)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, 59.86, res[0].Lat)
	}
	assert.Equal(t, 1, g.calls)
	require.NoError(t, s.Close())

	s2, err := New(Options{CachePath: path, Geocoder: g, MinInterval: time.Millisecond})
	require.NoError(t, err)
	defer s2.Close()
	_, err = s2.Search(context.Background(), "uppsala", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, g.calls, "cache survives reopen")
}

func TestTransientRetry(t *testing.T) {
	g := &fakeGeocoder{
		results: []Result{{Name: "Gävle", Source: "geocode"}},
		errs:    []error{errors.New("unexpected end of JSON input"), nil},
	}
	s, err := New(Options{Geocoder: g, Retries: 1, MinInterval: time.Millisecond})
	require.NoError(t, err)
	res, err := s.Search(context.Background(), "Gävle", 3)
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, 2, g.calls)
}

func TestPermanentErrorNotRetried(t *testing.T) {
	g := &fakeGeocoder{errs: []error{errors.New("403 forbidden")}}
	s, err := New(Options{Geocoder: g, Retries: 3, MinInterval: time.Millisecond})
	require.NoError(t, err)
	_, err = s.Search(context.Background(), "x", 3)
	assert.Error(t, err)
	assert.Equal(t, 1, g.calls)
}

func TestEmptyQuery(t *testing.T) {
	s, err := New(Options{})
	require.NoError(t, err)
	res, err := s.Search(context.Background(), "  ", 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestThrottle(t *testing.T) {
	s, err := New(Options{MinInterval: 30 * time.Millisecond})
	require.NoError(t, err)
	start := time.Now()
	require.NoError(t, s.throttle(context.Background()))
	require.NoError(t, s.throttle(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.throttle(ctx), context.Canceled)
}
