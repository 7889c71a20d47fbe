package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBytesConnections(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
bcp:
  connections:
    media:
      host: 127.0.0.1
      port: 5050
      type: TcpClient
      exit_on_close: true
      codec: json
  servers:
    display:
      port: 5051
`))
	require.NoError(t, err)
	require.True(t, cfg.BCP.Enabled)

	media, ok := cfg.BCP.Connections["media"]
	require.True(t, ok)
	require.Equal(t, "media", media.Name)
	require.Equal(t, "127.0.0.1", media.Host)
	require.Equal(t, 5050, media.Port)
	require.Equal(t, "TcpClient", media.Type)
	require.True(t, media.ExitOnClose)
	require.Equal(t, "json", media.Option("codec", "bcp"))
	require.Equal(t, "127.0.0.1:5050", media.Address())

	display := cfg.BCP.Servers["display"]
	require.Equal(t, "display", display.ID)
	require.Equal(t, "127.0.0.1", display.IP)
	require.Equal(t, "tcp", display.Type)
	require.Equal(t, "bcp", display.Option("codec", "bcp"))
}

func TestLoadBytesNoneSentinel(t *testing.T) {
	for _, doc := range []string{
		"bcp:\n  connections: None\n  servers: none\n",
		"bcp:\n  connections: {}\n  servers: {}\n",
		"bcp:\n  connections:\n",
		"bcp:\n  enabled: true\n",
	} {
		cfg, err := LoadBytes([]byte(doc))
		require.NoError(t, err, doc)
		require.Empty(t, cfg.BCP.Connections, doc)
		require.Empty(t, cfg.BCP.Servers, doc)
	}
}

func TestLoadBytesRejectsScalarCollections(t *testing.T) {
	_, err := LoadBytes([]byte("bcp:\n  connections: 42\n"))
	require.Error(t, err)
}

func TestLoadBytesRejectsBadPort(t *testing.T) {
	_, err := LoadBytes([]byte("bcp:\n  connections:\n    media: {host: x, port: 70000}\n"))
	require.ErrorContains(t, err, "bcp.connections.media.port")
}

func TestLoadDisabledFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bcphub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
bcp:
  enabled: false
  connections:
    media: {host: localhost, port: 5050}
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.BCP.Enabled)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "tcp", cfg.BCP.Connections["media"].Type)
	require.Equal(t, DefaultBCPVersion, cfg.BCP.Hello.Version)
	require.Equal(t, 64, cfg.Net.SendQueue)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bcphub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "log.level")
}

func TestIsNone(t *testing.T) {
	require.True(t, IsNone(nil))
	require.True(t, IsNone("None"))
	require.True(t, IsNone(""))
	require.True(t, IsNone(false))
	require.False(t, IsNone("media"))
	require.False(t, IsNone(3))
}
