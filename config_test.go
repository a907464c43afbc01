package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.yaml")
	profile := `
vault:
  user_id: alice
  quota_limit: 1048576
  chunk_size: 65536
  enable_biometric: true
store:
  type: filesystem
  config:
    path: /tmp/vault-data
audit:
  enabled: true
  encryption_key: "0123456789abcdef0123456789abcdef"
  retention_days: 90
`
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	opts := cfg.Options()
	assert.Equal(t, "alice", opts.UserID)
	assert.Equal(t, int64(1048576), opts.QuotaLimit)
	assert.Equal(t, 65536, opts.ChunkSize)
	assert.True(t, opts.EnableBiometric)

	assert.Equal(t, "filesystem", cfg.Store.Type)
	assert.Equal(t, "/tmp/vault-data", cfg.Store.Config["path"])
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("vault: [not a mapping"), 0o600))
	_, err = LoadConfigFile(bad)
	assert.Error(t, err)
}

func TestFromConfigBuildsVault(t *testing.T) {
	cfg := FileConfig{}
	cfg.Vault.UserID = "bob"
	cfg.Store.Type = "memory"
	cfg.Audit.Enabled = false

	v, err := FromConfig(cfg)
	require.NoError(t, err)
	defer v.Close()

	assert.False(t, v.IsUnlocked())
}
