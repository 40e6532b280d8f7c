package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenListTeam/elastic-hal/manager/tls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	tc, err := cfg.TLSConfig()
	require.NoError(t, err)
	assert.Equal(t, tls.DefaultConfig(), tc)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "hal.yaml", `
log:
  level: debug
  format: json
backend: sev-snp
tls:
  min_version: "1.3"
  cipher_suites: [TLS_CHACHA20_POLY1305_SHA256, TLS_AES_128_GCM_SHA256]
  verify_peer: false
  certificate: server.pem
  private_key: server.key
  ca_certificates: [ca.pem]
  alpn: [h2]
server:
  port: 9443
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "stderr", cfg.Log.Output)
	assert.Equal(t, "sev-snp", cfg.Backend)
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.BindHost)
	assert.Equal(t, []string{"ca.pem"}, cfg.TLS.CACertificates)

	tc, err := cfg.TLSConfig()
	require.NoError(t, err)
	assert.Equal(t, tls.VersionTLS13, tc.MinVersion)
	assert.Equal(t, tls.VersionTLS13, tc.MaxVersion)
	assert.Equal(t, []tls.CipherSuite{tls.ChaCha20Poly1305SHA256, tls.AES128GCMSHA256}, tc.CipherSuites)
	assert.False(t, tc.VerifyPeer)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "hal.toml", `
backend = "linux"

[tls]
max_version = "TLS1.2"
server_name = "example.internal"

[client]
host = "10.0.0.2"
port = 443
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "linux", cfg.Backend)
	assert.Equal(t, "10.0.0.2", cfg.Client.Host)

	tc, err := cfg.TLSConfig()
	require.NoError(t, err)
	assert.Equal(t, tls.VersionTLS12, tc.MaxVersion)
	assert.Equal(t, "example.internal", tc.ServerName)
	assert.True(t, tc.VerifyPeer)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"bad-version.yaml": "tls:\n  min_version: \"1.1\"\n",
		"inverted.yaml":    "tls:\n  min_version: \"1.3\"\n  max_version: \"1.2\"\n",
		"bad-suite.toml":   "[tls]\ncipher_suites = [\"RC4\"]\n",
		"unknown-key.yaml": "tls:\n  verify: true\n",
		"unknown-key.toml": "[server]\naddress = \"x\"\n",
		"lonely-cert.yaml": "tls:\n  certificate: a.pem\n",
		"bad-port.yaml":    "server:\n  port: 70000\n",
		"bad-backend.yaml": "backend: tdx\n",
		"bad-log.yaml":     "log:\n  level: loud\n",
		"unsupported.json": "{}",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, name, content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEmptyYAMLKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
