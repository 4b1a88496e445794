package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Reach.MaxDepth)
	assert.True(t, cfg.Beautify.Enabled)
	assert.Equal(t, "", cfg.Store.Path)
	assert.Equal(t, 256, cfg.Repository.CacheSize)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), []byte("reach:\n  max_depth: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Reach.MaxDepth)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultMaxSourceBytes, cfg.Limits.MaxSourceBytes)
	assert.True(t, cfg.Beautify.Enabled, "absent key keeps beautify on")
}

func TestLoad_BeautifyDisabled(t *testing.T) {
	cfg, err := Load(context.Background(), []byte("beautify:\n  enabled: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Beautify.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "reach: [1, 2"},
		{"port out of range", "server:\n  port: 70000\n"},
		{"depth too large", "reach:\n  max_depth: 5000\n"},
		{"bad repository scheme", "repository:\n  url: ftp://example.com\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), []byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"SCRIPTLENS_REACH_MAX_DEPTH":            "4",
		"SCRIPTLENS_BEAUTIFY_ENABLED":           "false",
		"SCRIPTLENS_STORE_PATH":                 "/tmp/viewer",
		"SCRIPTLENS_REPOSITORY_URL":             "http://remote:8090",
		"SCRIPTLENS_REPOSITORY_RATE_PER_SECOND": "2.5",
	}))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Reach.MaxDepth)
	assert.False(t, cfg.Beautify.Enabled)
	assert.Equal(t, "/tmp/viewer", cfg.Store.Path)
	assert.Equal(t, "http://remote:8090", cfg.Repository.URL)
	assert.Equal(t, 2.5, cfg.Repository.RatePerSecond)
}

func TestApplyEnv_Invalid(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ApplyEnv(envMap(map[string]string{"SCRIPTLENS_SERVER_PORT": "abc"})))

	cfg = Default()
	assert.Error(t, cfg.ApplyEnv(envMap(map[string]string{"SCRIPTLENS_BEAUTIFY_ENABLED": "maybe"})))

	cfg = Default()
	assert.Error(t, cfg.ApplyEnv(envMap(map[string]string{"SCRIPTLENS_REPOSITORY_URL": "nope"})))
}

func TestLoadFile_MissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDepth, cfg.Reach.MaxDepth)
}

func TestGet_Singleton(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("reach:\n  max_depth: 7\n"), 0o644))
	SetPath(path)

	a, err := Get(context.Background())
	require.NoError(t, err)
	b, err := Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 7, a.Reach.MaxDepth)
}

func TestWatch_Reloads(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("reach:\n  max_depth: 2\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, func(c *Config) { changes <- c }))

	require.NoError(t, os.WriteFile(path, []byte("reach:\n  max_depth: 6\n"), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(t, 6, cfg.Reach.MaxDepth)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
