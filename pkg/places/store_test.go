package places

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/minaplatser/pkg/kv"
)

const ts = "2024-05-01T10:00:00.000Z"

// failingKV rejects writes after the first n.
type failingKV struct {
	*kv.Memory
	allowed int
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.allowed <= 0 {
		return errors.New("disk full")
	}
	f.allowed--
	return f.Memory.Set(ctx, key, value)
}

func newStore(t *testing.T) (*Store, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	s := NewStore(mem)
	require.NoError(t, s.Load(context.Background()))
	return s, mem
}

func TestCreateThenFind(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	p, err := s.Create(ctx, [2]float64{59.1, 17.6}, 12, "Cabin", ts)
	require.NoError(t, err)

	got, ok := s.Find([2]float64{59.1, 17.6})
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, ok = s.Find([2]float64{59.1, 17.600001})
	assert.False(t, ok, "lookup is exact")
}

func TestCreateDuplicate(t *testing.T) {
	s, mem := newStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, [2]float64{59.1, 17.6}, 12, "Cabin", ts)
	require.NoError(t, err)
	writes := mem.Writes()

	_, err = s.Create(ctx, [2]float64{59.1, 17.6}, 3, "Other", ts)
	assert.ErrorIs(t, err, ErrDuplicateCoordinate)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "Cabin", s.All()[0].Name)
	assert.Equal(t, writes, mem.Writes(), "a rejected create must not persist")
}

func TestCreateInvalidRadius(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Create(context.Background(), [2]float64{1, 2}, -1, "x", ts)
	assert.ErrorIs(t, err, ErrInvalidRadius)
}

func TestDelete(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, [2]float64{1, 1}, 1, "a", ts)
	require.NoError(t, err)
	_, err = s.Create(ctx, [2]float64{2, 2}, 2, "b", ts)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, [2]float64{1, 1}))
	_, ok := s.Find([2]float64{1, 1})
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	assert.ErrorIs(t, s.Delete(ctx, [2]float64{1, 1}), ErrNotFound)
	assert.Equal(t, 1, s.Len())
}

func TestRenameKeepsCoordinateAndRadius(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, [2]float64{59.1, 17.6}, 12, "Cabin", ts)
	require.NoError(t, err)

	_, err = s.Update(ctx, [2]float64{59.1, 17.6}, "Cabin 2")
	require.NoError(t, err)

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, "Cabin 2", all[0].Name)
	assert.Equal(t, [2]float64{59.1, 17.6}, all[0].LatLng)
	assert.Equal(t, 12, all[0].Radius)

	_, err = s.Update(ctx, [2]float64{0, 0}, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistLoadRoundTrip(t *testing.T) {
	s, mem := newStore(t)
	ctx := context.Background()
	for i, name := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, [2]float64{float64(i), float64(-i)}, i, name, ts)
		require.NoError(t, err)
	}
	require.NoError(t, s.Persist(ctx))

	reloaded := NewStore(mem)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, s.All(), reloaded.All())
}

func TestStoredFormat(t *testing.T) {
	s, mem := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, [2]float64{59.1, 17.6}, 12, "Cabin", ts)
	require.NoError(t, err)

	raw, ok, err := mem.Get(ctx, kv.KeyPlaces)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"latlng":[59.1,17.6],"radius":12,"name":"Cabin","timestamp":"2024-05-01T10:00:00.000Z"}]`, string(raw))
}

func TestLoadDropsDuplicates(t *testing.T) {
	mem := kv.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, kv.KeyPlaces, []byte(`[
		{"latlng":[1,2],"radius":1,"name":"first","timestamp":"x"},
		{"latlng":[1,2],"radius":1,"name":"second","timestamp":"x"},
		{"latlng":[3,4],"radius":1,"name":"third","timestamp":"x"}]`)))

	s := NewStore(mem)
	require.NoError(t, s.Load(ctx))
	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].Name)
	assert.Equal(t, "third", all[1].Name)
}

func TestFailedPersistLeavesMemoryUnchanged(t *testing.T) {
	f := &failingKV{Memory: kv.NewMemory(), allowed: 1}
	s := NewStore(f)
	ctx := context.Background()

	_, err := s.Create(ctx, [2]float64{1, 1}, 1, "kept", ts)
	require.NoError(t, err)

	_, err = s.Create(ctx, [2]float64{2, 2}, 1, "lost", ts)
	require.Error(t, err)
	assert.Equal(t, 1, s.Len())

	assert.Error(t, s.Delete(ctx, [2]float64{1, 1}))
	assert.Equal(t, 1, s.Len())
}

func TestCreatedTimestamp(t *testing.T) {
	p := Place{Timestamp: ts}
	assert.Equal(t, 2024, p.Created().Year())
	assert.True(t, Place{Timestamp: "garbage"}.Created().IsZero())
}
