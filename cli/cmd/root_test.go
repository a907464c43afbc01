package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEncryptionKeyResolution(t *testing.T) {
	t.Setenv("DYNASTY_VAULT_AUDIT_KEY", "")
	viper.Set("audit.encryption_key", "")
	defer viper.Set("audit.encryption_key", "")

	_, err := auditEncryptionKey()
	require.Error(t, err, "enabled audit without a key must refuse to start")
	assert.Contains(t, err.Error(), "--audit-key")

	t.Setenv("DYNASTY_VAULT_AUDIT_KEY", "env-key-0123456789")
	key, err := auditEncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, []byte("env-key-0123456789"), key)

	viper.Set("audit.encryption_key", "flag-key-0123456789")
	key, err = auditEncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, []byte("flag-key-0123456789"), key, "configured key wins over the environment")
}

func TestAuditKeyNotDerivableFromUserID(t *testing.T) {
	// The signing key must never be computable from public identifiers:
	// anyone who can recompute it can re-sign mutated events.
	t.Setenv("DYNASTY_VAULT_AUDIT_KEY", "")
	viper.Set("audit.encryption_key", "")
	viper.Set("vault.user", "alice")
	defer func() {
		viper.Set("audit.encryption_key", "")
		viper.Set("vault.user", "")
	}()

	_, err := auditEncryptionKey()
	require.Error(t, err, "knowing the user id must not yield an audit key")
}

func TestSanitizeFlagsRedactsCredentials(t *testing.T) {
	// Merge persistent flags into the command's flag set, as Execute would.
	require.NoError(t, rootCmd.ParseFlags(nil))
	require.NoError(t, rootCmd.PersistentFlags().Set("secret", "hunter2-hunter2"))
	require.NoError(t, rootCmd.PersistentFlags().Set("audit-key", "trail-key-0123456789"))
	require.NoError(t, rootCmd.PersistentFlags().Set("user", "alice"))

	flags := sanitizeFlags(rootCmd)
	assert.Equal(t, "[REDACTED]", flags["secret"])
	assert.Equal(t, "[REDACTED]", flags["audit-key"])
	assert.Equal(t, "alice", flags["user"])
}
