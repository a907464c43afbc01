package vault

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ruchit-p/DynastyMobile-sub004/audit"
	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

// FileConfig is the on-disk configuration profile for programmatic consumers
// that assemble a vault without a flag parser: the vault options, the storage
// backend selection, and the audit settings.
type FileConfig struct {
	Vault struct {
		UserID          string `yaml:"user_id"`
		QuotaLimit      int64  `yaml:"quota_limit"`
		ChunkSize       int    `yaml:"chunk_size"`
		EnableBiometric bool   `yaml:"enable_biometric"`
		MinSecretLength int    `yaml:"min_secret_length"`
	} `yaml:"vault"`

	Store struct {
		Type   string                 `yaml:"type"`
		Config map[string]interface{} `yaml:"config"`
	} `yaml:"store"`

	Audit struct {
		Enabled        bool   `yaml:"enabled"`
		EncryptionKey  string `yaml:"encryption_key"` // at least 16 bytes
		RetentionDays  int    `yaml:"retention_days"`
		AlertThreshold int    `yaml:"alert_threshold"`
	} `yaml:"audit"`
}

// LoadConfigFile parses a YAML configuration profile. Missing sections keep
// their zero values; validation happens when the profile is used to build a
// vault.
func LoadConfigFile(path string) (FileConfig, error) {
	var cfg FileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Options returns the vault options section as New expects it.
func (c FileConfig) Options() Options {
	return Options{
		UserID:          c.Vault.UserID,
		QuotaLimit:      c.Vault.QuotaLimit,
		ChunkSize:       c.Vault.ChunkSize,
		EnableBiometric: c.Vault.EnableBiometric,
		MinSecretLength: c.Vault.MinSecretLength,
	}
}

// FromConfig assembles a vault from a configuration profile: it builds the
// store via the persist factory, attaches an audit service when enabled, and
// leaves biometric unlock and offline queueing to the caller.
func FromConfig(cfg FileConfig) (*Vault, error) {
	store, err := persist.NewStore(persist.StoreConfig{
		Type:   persist.StoreType(cfg.Store.Type),
		Config: cfg.Store.Config,
	})
	if err != nil {
		return nil, err
	}

	auditor := audit.NewNoOpRecorder()
	if cfg.Audit.Enabled {
		svc, err := audit.NewService(store, nil, audit.Config{
			EncryptionKey:  []byte(cfg.Audit.EncryptionKey),
			RetentionDays:  cfg.Audit.RetentionDays,
			AlertThreshold: cfg.Audit.AlertThreshold,
		}, nil)
		if err != nil {
			store.Close()
			return nil, err
		}
		auditor = svc
	}

	v, err := New(cfg.Options(), store, auditor, nil, nil)
	if err != nil {
		store.Close()
		return nil, err
	}
	return v, nil
}
