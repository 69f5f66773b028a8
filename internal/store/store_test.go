package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nightwatch/engine/internal/host"
)

func TestSettingsRoundTrip(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	type tunables struct {
		MaxActivePatrols int     `json:"maxActivePatrols"`
		AlertRadius      float64 `json:"alertRadius"`
	}
	in := tunables{MaxActivePatrols: 12, AlertRadius: 600}
	require.NoError(t, s.Set(host.ScopeWorld, "nightwatch.tunables", in))

	var out tunables
	found, err := s.Get(host.ScopeWorld, "nightwatch.tunables", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in, out)
}

func TestGetMissingKey(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	var out map[string]any
	found, err := s.Get(host.ScopeWorld, "nope", &out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSetOverwrites(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(host.ScopeClient, "ui.color", "red"))
	require.NoError(t, s.Set(host.ScopeClient, "ui.color", "blue"))

	var color string
	found, err := s.Get(host.ScopeClient, "ui.color", &color)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "blue", color)
}

func TestScopesAreIsolated(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(host.ScopeWorld, "shared", 1))
	require.NoError(t, s.Set(host.ScopeClient, "shared", 2))

	var world, client int
	_, err = s.Get(host.ScopeWorld, "shared", &world)
	require.NoError(t, err)
	_, err = s.Get(host.ScopeClient, "shared", &client)
	require.NoError(t, err)
	require.Equal(t, 1, world)
	require.Equal(t, 2, client)
}

func TestDeleteAndKeys(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(host.ScopeWorld, "a", 1))
	require.NoError(t, s.Set(host.ScopeWorld, "b", 2))
	require.NoError(t, s.Delete(host.ScopeWorld, "a"))
	require.NoError(t, s.Delete(host.ScopeWorld, "missing"))

	keys, err := s.Keys(host.ScopeWorld)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, keys)
}

func TestFileBackedStoreReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(host.ScopeWorld, "persisted", "yes"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	var out string
	found, err := s2.Get(host.ScopeWorld, "persisted", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "yes", out)
}
