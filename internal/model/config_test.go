package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "app.clickup.com", cfg.ClickUp.Domain)
	assert.Equal(t, "cu_jwt", cfg.ClickUp.CookieName)
	assert.Equal(t, DefaultPageSize, cfg.ClickUp.PageSize)
	assert.Equal(t, "memory", cfg.Relay.Backend)
	assert.Equal(t, 120*time.Second, cfg.Producer.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.ClickUp.RequestTimeout())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SWIPE_RELAY_URL", "http://relay.internal:9000/")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://relay.internal:9000", cfg.Relay.URL)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultAppConfig()
	cfg.ClickUp.WorkspaceID = "9011099466"
	cfg.Relay.Backend = "sqlite"
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9011099466", loaded.ClickUp.WorkspaceID)
	assert.Equal(t, "sqlite", loaded.Relay.Backend)
	assert.Equal(t, cfg.ClickUp.FrontdoorURLs, loaded.ClickUp.FrontdoorURLs)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "poll_interval_sec")
	assert.NotContains(t, string(raw), "theme")
}
