package wal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestWAL_LoadEmpty(t *testing.T) {
	w, err := New(1, t.TempDir())
	require.NoError(t, err)

	term, votedFor, log := w.Load()
	assert.Equal(t, uint64(0), term)
	assert.Nil(t, votedFor)
	assert.Empty(t, log)
}

func TestWAL_SaveThenLoadRoundTrips(t *testing.T) {
	w, err := New(1, t.TempDir())
	require.NoError(t, err)

	entries := []Entry{{Term: 1, Command: "SET A=10"}, {Term: 2, Command: "DELETE A"}}
	require.NoError(t, w.Save(2, intPtr(3), entries))

	term, votedFor, log := w.Load()
	assert.Equal(t, uint64(2), term)
	require.NotNil(t, votedFor)
	assert.Equal(t, 3, *votedFor)
	assert.Equal(t, entries, log)
}

func TestWAL_SaveOverwritesPreviousGeneration(t *testing.T) {
	w, err := New(1, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.Save(1, intPtr(1), []Entry{{Term: 1, Command: "SET A=1"}}))
	require.NoError(t, w.Save(5, nil, []Entry{{Term: 5, Command: "SET A=2"}}))

	term, votedFor, log := w.Load()
	assert.Equal(t, uint64(5), term)
	assert.Nil(t, votedFor)
	require.Len(t, log, 1)
	assert.Equal(t, "SET A=2", log[0].Command)
}

func TestWAL_CorruptFileLoadsAsEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := New(7, dir)
	require.NoError(t, err)
	require.NoError(t, w.Save(1, intPtr(1), nil))

	require.NoError(t, os.WriteFile(w.Path(), []byte("{not json"), 0o644))

	term, votedFor, log := w.Load()
	assert.Equal(t, uint64(0), term)
	assert.Nil(t, votedFor)
	assert.Empty(t, log)
}

func TestWAL_Clear(t *testing.T) {
	w, err := New(2, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Save(1, nil, nil))
	require.NoError(t, w.Clear())

	term, votedFor, log := w.Load()
	assert.Equal(t, uint64(0), term)
	assert.Nil(t, votedFor)
	assert.Empty(t, log)

	require.NoError(t, w.Clear(), "clearing an already-absent file is not an error")
}
