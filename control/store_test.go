package control_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/netloop/control"
)

func newStore(t *testing.T) *control.Store {
	t.Helper()
	s, err := control.NewStore(control.DefaultConfig())
	require.NoError(t, err)
	return s
}

func TestStorePathReads(t *testing.T) {
	s := newStore(t)
	require.Equal(t, int64(50), s.GetInt("io_ratio", 0))
	require.Equal(t, "info", s.GetString("logging.level", ""))
	require.Equal(t, int64(7), s.GetInt("no.such.path", 7))
}

func TestStoreSetNotifiesListeners(t *testing.T) {
	s := newStore(t)
	var changed []string
	s.OnChange(func(path string) { changed = append(changed, path) })

	require.NoError(t, s.Set("io_ratio", 80))
	require.NoError(t, s.Set("logging.level", "debug"))

	require.Equal(t, []string{"io_ratio", "logging.level"}, changed)
	require.Equal(t, int64(80), s.GetInt("io_ratio", 0))
	require.Equal(t, "debug", s.GetString("logging.level", ""))
}

func TestStoreTypedRoundTrip(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("worker_loops", 3))
	require.NoError(t, s.Set("high_watermark", 16384))
	require.NoError(t, s.Set("low_watermark", 8192))

	cfg, err := s.Config()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.WorkerLoops)
	require.Equal(t, 16384, cfg.HighWatermark)
	require.Equal(t, 8192, cfg.LowWatermark)
}

func TestStoreTypedRejectsInvalidDocument(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Set("io_ratio", 500))
	_, err := s.Config()
	require.ErrorContains(t, err, "io_ratio")
}

func TestStoreReload(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(t.TempDir(), "reload.json")
	require.NoError(t, os.WriteFile(path, s.Export(), 0o644))

	require.NoError(t, s.Set("io_ratio", 99)) // will be overwritten

	reloaded := false
	s.OnChange(func(p string) {
		require.Empty(t, p)
		reloaded = true
	})
	require.NoError(t, s.Reload(path))
	require.True(t, reloaded)
	require.Equal(t, int64(50), s.GetInt("io_ratio", 0))
}

func TestStoreReloadRejectsGarbage(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	require.Error(t, s.Reload(path))
	// Document survives a failed reload.
	require.Equal(t, int64(50), s.GetInt("io_ratio", 0))
}
