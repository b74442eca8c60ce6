package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, KeyMapType)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, s, KeyMapType, "OpenStreetMap"))
	var name string
	ok, err = GetJSON(ctx, s, KeyMapType, &name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "OpenStreetMap", name)

	require.NoError(t, SetJSON(ctx, s, KeyViewCenter, [2]float64{59.120403, 17.649355}))
	var center [2]float64
	ok, err = GetJSON(ctx, s, KeyViewCenter, &center)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, [2]float64{59.120403, 17.649355}, center)

	// Whole-value replace.
	require.NoError(t, SetJSON(ctx, s, KeyMapType, "Landscape"))
	ok, err = GetJSON(ctx, s, KeyMapType, &name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Landscape", name)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)
	assert.Equal(t, 3, m.Writes())
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	// Values survive a reopen.
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	var name string
	ok, err := GetJSON(context.Background(), s, KeyMapType, &name)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Landscape", name)
}

func TestGetJSONDecodeError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, KeyZoom, []byte("not json")))
	var zoom int
	_, err := GetJSON(ctx, m, KeyZoom, &zoom)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(ctx, Config{Backend: "floppy"})
	assert.Error(t, err)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("MINAPLATSER_TEST_REDIS")
	if addr == "" {
		t.Skip("MINAPLATSER_TEST_REDIS not set")
	}
	r, err := OpenRedis(context.Background(), RedisOptions{Addr: addr, Prefix: fmt.Sprintf("minaplatser-test:%d:", time.Now().UnixNano())})
	require.NoError(t, err)
	defer r.Close()
	exerciseStore(t, r)
}
