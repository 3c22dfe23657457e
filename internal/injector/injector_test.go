package injector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/treesync/internal/config"
)

func TestInitializeHub(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"players":[]}`), 0o600))
	cfg := config.Default()
	cfg.Hub.InitialState = path

	hub, cleanup, err := InitializeHub(cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, `{"players":[]}`, hub.Tree().String())
}

func TestInitializeHubMissingState(t *testing.T) {
	cfg := config.Default()
	cfg.Hub.InitialState = filepath.Join(t.TempDir(), "missing.json")

	_, _, err := InitializeHub(cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInitializeClient(t *testing.T) {
	c, cleanup, err := InitializeClient(config.Default())
	require.NoError(t, err)
	defer cleanup()
	assert.False(t, c.IsConnected())
	assert.Equal(t, `{}`, c.Tree().String())
}

func TestInitializeRejectsBadLogConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "chatty"
	_, _, err := InitializeClient(cfg)
	assert.Error(t, err)
}
