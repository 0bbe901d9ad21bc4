package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "newsroom-edge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "site:\n  url: https://heavystatus.com\n")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://heavystatus.com", s.Site.Origin())
	assert.Equal(t, "newsroom", s.Release.Prefix)
	assert.Equal(t, "v1", s.Release.Version)
	assert.Equal(t, "/offline.html", s.Cache.OfflineDocument)
	assert.Contains(t, s.Cache.Precache, "/icons/icon-192.png")
	assert.Equal(t, 54*time.Second, s.Clients.PingInterval.Std())
	assert.Equal(t, time.Duration(0), s.Network.Timeout.Std())
	assert.Equal(t, "/today", s.Push.Defaults.URL)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
site:
  url: https://heavystatus.com
release:
  prefix: hs
  version: v7
  legacy_prefixes: [newsroom-]
cache:
  backend: memory
clients:
  launch_ttl: 30
  ping_interval: 5s
  pong_wait: 10s
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hs-shell-v7", s.Release.CacheName(RoleShell))
	assert.Equal(t, []string{"newsroom-"}, s.Release.LegacyPrefixes)
	assert.Equal(t, "memory", s.Cache.Backend)
	assert.Equal(t, 30*time.Second, s.Clients.LaunchTTL.Std())
	assert.Equal(t, 5*time.Second, s.Clients.PingInterval.Std())
	assert.Equal(t, 10*time.Second, s.Clients.PongWait.Std())
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "site:\n  url: https://heavystatus.com\n")
	t.Setenv("NEWSROOM_EDGE_RELEASE_VERSION", "v9")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "v9", s.Release.Version)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"relative site url", "site:\n  url: /today\n", "site.url"},
		{"unknown backend", "cache:\n  backend: redis\n", "unknown cache backend"},
		{"mysql without dsn", "cache:\n  backend: mysql\n", "mysql_dsn"},
		{"empty version", "release:\n  version: \"\"\n", "release version"},
		{"relative offline doc", "cache:\n  offline_document: offline.html\n", "offline_document"},
		{"ping after pong deadline", "clients:\n  ping_interval: 90s\n  pong_wait: 60s\n", "ping_interval"},
		{"upstream with path", "network:\n  upstream_origins: [\"https://cdn.example/img\"]\n", "upstream_origins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRelease_Naming(t *testing.T) {
	t.Parallel()

	r := Release{Prefix: "newsroom", Version: "v2", LegacyPrefixes: []string{"heavy-status-"}}

	assert.Equal(t, []string{"newsroom-shell-v2", "newsroom-runtime-v2", "newsroom-data-v2"}, r.CacheNames())
	assert.True(t, r.Owns("newsroom-runtime-v1"))
	assert.False(t, r.Owns("newsroomx-runtime-v1"))
	assert.True(t, r.IsLegacy("heavy-status-shell"))
	assert.False(t, r.IsLegacy("newsroom-shell-v1"))
	assert.Equal(t, "newsroom@v2", r.Tag())
}

func TestRelease_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Release{Prefix: "newsroom", Version: "v1"}.Validate())
	assert.Error(t, Release{Version: "v1"}.Validate())
	assert.Error(t, Release{Prefix: "newsroom"}.Validate())
	assert.Error(t, Release{Prefix: "news room", Version: "v1"}.Validate())
	assert.Error(t, Release{Prefix: "newsroom", Version: "v1", LegacyPrefixes: []string{"news"}}.Validate())
}
