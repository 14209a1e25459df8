package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, Default().Node, cfg.Node)
	assert.Equal(t, 2*time.Second, cfg.Client.Delay)
	assert.Equal(t, "orderbook", cfg.Network.Service)
}

func TestLoadFromEnv_EnvOverridesFile(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("DISTEX_NODES=5\nDISTEX_MATCH_INTERVAL_MS=250\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("DISTEX_NODES") })
	t.Setenv("DISTEX_MATCH_INTERVAL_MS", "500")
	t.Setenv("DISTEX_BOOTSTRAP", "/ip4/127.0.0.1/tcp/1400/p2p/a, /ip4/127.0.0.1/tcp/1401/p2p/b")
	t.Setenv("DISTEX_MDNS", "false")

	cfg := LoadFromEnv(env)
	assert.Equal(t, 5, cfg.Node.Nodes)
	assert.Equal(t, 500*time.Millisecond, cfg.Node.MatchInterval)
	assert.Len(t, cfg.Network.Bootstrap, 2)
	assert.False(t, cfg.Network.MDNS)
}
