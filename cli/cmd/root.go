package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	vault "github.com/ruchit-p/DynastyMobile-sub004"
	"github.com/ruchit-p/DynastyMobile-sub004/audit"
	"github.com/ruchit-p/DynastyMobile-sub004/offline"
	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

var (
	cfgFile  string
	userID   string
	secret   string
	vaultSvc vault.VaultService
	auditor  audit.Recorder
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dynasty-vault",
	Short: "A client-side encrypted file vault with tamper-evident audit logging",
	Long: `A client-side encrypted file vault. Files are encrypted with
XChaCha20-Poly1305 before they leave the device; the storage backend only
ever holds ciphertext. Every sensitive operation is risk-scored and recorded
in an HMAC-signed audit trail.`,
	PersistentPreRunE: initializeVault,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if vaultSvc != nil {
			return vaultSvc.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dynasty-vault.yaml)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "vault owner identifier")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", "", "vault secret (or use DYNASTY_VAULT_SECRET env var)")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (filesystem, s3, mongo, memory)")
	rootCmd.PersistentFlags().StringP("store-path", "p", "", "path for the filesystem backend")

	bindFlagOrPanic("vault.user", "user")
	bindFlagOrPanic("vault.secret", "secret")
	bindFlagOrPanic("vault.store_type", "store-type")
	bindFlagOrPanic("vault.store_path", "store-path")

	rootCmd.PersistentFlags().Int64("quota", 0, "storage quota in bytes (0 = default)")
	bindFlagOrPanic("vault.quota", "quota")

	// S3 flags
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "use SSL for S3 connections")

	bindFlagOrPanic("vault.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("vault.s3.region", "s3-region")
	bindFlagOrPanic("vault.s3.bucket", "s3-bucket")
	bindFlagOrPanic("vault.s3.key_prefix", "s3-prefix")
	bindFlagOrPanic("vault.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("vault.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("vault.s3.use_ssl", "s3-use-ssl")

	// Mongo flags
	rootCmd.PersistentFlags().String("mongo-uri", "", "MongoDB connection URI")
	rootCmd.PersistentFlags().String("mongo-database", "", "MongoDB database name")
	bindFlagOrPanic("vault.mongo.uri", "mongo-uri")
	bindFlagOrPanic("vault.mongo.database", "mongo-database")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", true, "enable audit recording")
	rootCmd.PersistentFlags().String("audit-key", "", "audit signing/encryption key, at least 16 bytes (or use DYNASTY_VAULT_AUDIT_KEY env var)")
	rootCmd.PersistentFlags().Int("audit-retention-days", 0, "audit retention window in days (0 = default)")
	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.encryption_key", "audit-key")
	bindFlagOrPanic("audit.retention_days", "audit-retention-days")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".dynasty-vault")
	}

	viper.SetEnvPrefix("DYNASTY_VAULT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

func setDefaults() {
	viper.SetDefault("vault.store_type", "filesystem")
	viper.SetDefault("vault.store_path", ".dynasty-vault")
	viper.SetDefault("vault.s3.region", "us-east-1")
	viper.SetDefault("vault.s3.use_ssl", true)
	viper.SetDefault("audit.enabled", true)
}

func initializeVault(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
		return nil
	}

	userID = viper.GetString("vault.user")
	if userID == "" {
		return fmt.Errorf("user identifier is required. Use --user flag or DYNASTY_VAULT_USER environment variable")
	}

	secret = viper.GetString("vault.secret")
	if secret == "" {
		secret = os.Getenv("DYNASTY_VAULT_SECRET")
	}

	store, err := createStore()
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	if viper.GetBool("audit.enabled") {
		auditKey, err := auditEncryptionKey()
		if err != nil {
			store.Close()
			return err
		}
		identity := audit.NewFileDeviceIdentity("")
		auditor, err = audit.NewService(store, identity, audit.Config{
			EncryptionKey: auditKey,
			RetentionDays: viper.GetInt("audit.retention_days"),
		}, nil)
		if err != nil {
			return fmt.Errorf("failed to create audit service: %w", err)
		}
	} else {
		auditor = audit.NewNoOpRecorder()
	}

	vaultSvc, err = vault.New(vault.Options{
		UserID:     userID,
		QuotaLimit: viper.GetInt64("vault.quota"),
	}, store, auditor, nil, offline.NewMemoryQueue())
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}

	if _, err = auditor.LogEvent(cmd.Context(), audit.EventSystemAccess, userID, "CLI command invoked", map[string]interface{}{
		"command": cmd.CommandPath(),
		"flags":   sanitizeFlags(cmd),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record command audit event: %v\n", err)
	}

	return nil
}

// sanitizeFlags collects the flags the user set on this invocation, masking
// any whose name suggests credential material.
func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			return
		}
		if isSensitiveFlag(flag.Name) {
			flags[flag.Name] = "[REDACTED]"
		} else {
			flags[flag.Name] = flag.Value.String()
		}
	})
	return flags
}

func isSensitiveFlag(name string) bool {
	sensitive := []string{"secret", "password", "key", "token", "passphrase"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func createStore() (persist.Store, error) {
	storeType := strings.ToLower(viper.GetString("vault.store_type"))
	switch storeType {
	case "filesystem", "file":
		return persist.NewFileSystemStore(viper.GetString("vault.store_path"))

	case "s3":
		return persist.NewS3Store(persist.S3Config{
			Endpoint:        viper.GetString("vault.s3.endpoint"),
			AccessKeyID:     viper.GetString("vault.s3.access_key_id"),
			SecretAccessKey: viper.GetString("vault.s3.secret_access_key"),
			UseSSL:          viper.GetBool("vault.s3.use_ssl"),
			Region:          viper.GetString("vault.s3.region"),
			Bucket:          viper.GetString("vault.s3.bucket"),
			KeyPrefix:       viper.GetString("vault.s3.key_prefix"),
		})

	case "mongo":
		objects, err := persist.NewFileSystemStore(viper.GetString("vault.store_path"))
		if err != nil {
			return nil, err
		}
		return persist.NewMongoStore(persist.MongoConfig{
			URI:      viper.GetString("vault.mongo.uri"),
			Database: viper.GetString("vault.mongo.database"),
		}, objects)

	case "memory":
		return persist.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store type: %s. Supported types: filesystem, s3, mongo, memory", storeType)
	}
}

func requireSecret() ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault secret is required. Use --secret flag or DYNASTY_VAULT_SECRET environment variable")
	}
	return []byte(secret), nil
}

// auditEncryptionKey resolves the key protecting the audit trail's signatures
// and encrypted metadata. It must be operator-supplied: anything derivable
// from public identifiers would let a reader of the trail re-sign tampered
// events.
func auditEncryptionKey() ([]byte, error) {
	key := viper.GetString("audit.encryption_key")
	if key == "" {
		key = os.Getenv("DYNASTY_VAULT_AUDIT_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("audit recording requires a key. Use --audit-key, the DYNASTY_VAULT_AUDIT_KEY environment variable, or disable recording with --audit=false")
	}
	return []byte(key), nil
}
