package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parsedServeCmd returns a serve command whose flags have been parsed from
// args, without running it.
func parsedServeCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	root := NewRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.ParseFlags(args))
	return serve
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeEdKeys(t *testing.T) (privPath, pubPath string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	privPath = writeFile(t, "jwt.key", string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})))
	pubPath = writeFile(t, "jwt.pub", string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})))
	return privPath, pubPath
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(parsedServeCmd(t))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "ed25519", cfg.JWT.SigningMethod)
	assert.Equal(t, "log", cfg.Notify.Mode)
	assert.Equal(t, int64(10000), cfg.Notify.MaxLen)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.RequireConfirmation)
}

func TestLoadConfigFileThenFlags(t *testing.T) {
	path := writeFile(t, "goidentity.yaml", `
http:
  addr: ":9000"
  shutdown_timeout: 3s
redis:
  addr: redis:6379
  db: 2
notify:
  mode: stream
  relay: true
require_confirmation: true
`)

	cfg, err := loadConfig(parsedServeCmd(t, "--config", path, "--redis.addr", "cache:6380"))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr, "explicit flag wins over file")
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "stream", cfg.Notify.Mode)
	assert.True(t, cfg.Notify.Relay)
	assert.True(t, cfg.RequireConfirmation)
	assert.Equal(t, "info", cfg.Log.Level, "unset keys keep flag defaults")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(parsedServeCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestEngineConfigReadsKeys(t *testing.T) {
	privPath, pubPath := writeEdKeys(t)

	cfg, err := loadConfig(parsedServeCmd(t,
		"--jwt.private_key_file", privPath,
		"--jwt.public_key_file", pubPath,
		"--require_confirmation",
		"--audit.enabled",
	))
	require.NoError(t, err)

	engineCfg, err := cfg.engineConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, engineCfg.JWT.PrivateKey)
	assert.NotEmpty(t, engineCfg.JWT.PublicKey)
	assert.True(t, engineCfg.Registration.RequireConfirmation)
	assert.True(t, engineCfg.Audit.Enabled)
	assert.True(t, engineCfg.Metrics.EnableLatencyHistograms)
}

func TestEngineConfigRejectsMissingKeys(t *testing.T) {
	cfg, err := loadConfig(parsedServeCmd(t))
	require.NoError(t, err)

	_, err = cfg.engineConfig()
	assert.Error(t, err)

	privPath, _ := writeEdKeys(t)
	cfg.JWT.PrivateKeyFile = privPath
	_, err = cfg.engineConfig()
	assert.Error(t, err, "ed25519 needs the public key too")
}

func TestBuildNotifierModes(t *testing.T) {
	n, relay, err := buildNotifier(notifyConfig{Mode: "log"}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, n)
	assert.Nil(t, relay)

	_, _, err = buildNotifier(notifyConfig{Mode: "carrier-pigeon"}, nil, nil)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "goidentity dev")
}
