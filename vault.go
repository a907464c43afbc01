// Package vault implements a client-side encrypted file vault. All
// cryptography happens before bytes reach the storage backend: the backend
// holds only ciphertext, AEAD-sealed metadata, and the wrapped master key
// envelope. Every sensitive operation is recorded through the audit
// collaborator.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/awnumar/memguard"

	"github.com/ruchit-p/DynastyMobile-sub004/audit"
	"github.com/ruchit-p/DynastyMobile-sub004/internal/mem"
	"github.com/ruchit-p/DynastyMobile-sub004/offline"
	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

func init() {
	// Purge enclaves if the process is interrupted mid-operation.
	memguard.CatchInterrupt()

	// Best effort. Locking may fail in containers with a low RLIMIT_MEMLOCK;
	// the vault still works, key material just loses the swap guarantee.
	if _, err := mem.Lock(); err != nil {
		log.Printf("vault: memory locking unavailable: %v", err)
	}
}

// VaultService is the full operation surface of an unlocked vault.
// Implementations return ErrVaultLocked from content operations when the
// master key is not available.
type VaultService interface {
	Setup(ctx context.Context, secret []byte) error
	Unlock(ctx context.Context, secret []byte) error
	UnlockWithBiometric(ctx context.Context) error
	Lock()
	IsUnlocked() bool

	UploadSecureFile(ctx context.Context, name, mimeType string, plaintext []byte, progress ProgressFunc) (*VaultItem, error)
	DownloadFile(ctx context.Context, itemID string, progress ProgressFunc) ([]byte, FileMetadata, error)
	SearchVault(ctx context.Context, query ItemQuery) ([]VaultItem, error)
	RenameItem(ctx context.Context, itemID, newName string) error
	DeleteItem(ctx context.Context, itemID string) error
	PurgeTombstones(ctx context.Context, olderThan time.Duration) (int, error)

	ShareVaultItem(ctx context.Context, itemID string, recipients []string, permissions []Permission, linkPassword string, expiresAt time.Time) (*ShareGrant, error)
	RevokeShare(ctx context.Context, grantID string) error
	RedeemShare(ctx context.Context, grantID, linkPassword string, progress ProgressFunc) ([]byte, FileMetadata, error)

	GetStorageQuota(ctx context.Context) (used, limit int64, err error)
	RotateSecret(ctx context.Context, newSecret []byte) error
	RekeyMasterKey(ctx context.Context, secret []byte) error
	ReplayOfflineQueue(ctx context.Context) error

	Close() error
}

// Vault is the concrete VaultService backed by a persist.Store, an audit
// recorder, and an offline queue for writes issued while the backend is
// unreachable.
type Vault struct {
	options Options
	store   persist.Store
	engine  *Engine
	keys    *KeyManager
	auditor audit.Recorder
	queue   offline.Queue
}

var _ VaultService = (*Vault)(nil)

// New assembles a vault from its collaborators. A nil auditor disables audit
// recording; a nil queue disables offline buffering (storage failures then
// surface immediately). A nil authn disables biometric unlock.
func New(options Options, store persist.Store, auditor audit.Recorder, authn Authenticator, queue offline.Queue) (*Vault, error) {
	if err := validateOptions(options); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("vault requires a store")
	}
	if auditor == nil {
		auditor = audit.NewNoOpRecorder()
	}

	keys, err := NewKeyManager(store, authn, auditor, options.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}

	return &Vault{
		options: options,
		store:   store,
		engine:  NewEngine(options.chunkSize()),
		keys:    keys,
		auditor: auditor,
		queue:   queue,
	}, nil
}

// Setup creates the vault for options.UserID and leaves it unlocked.
func (v *Vault) Setup(ctx context.Context, secret []byte) error {
	if err := ValidateSecret(secret, v.options.minSecretLength()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return v.keys.Setup(ctx, secret, v.options.EnableBiometric)
}

// Unlock opens the vault with the secret.
func (v *Vault) Unlock(ctx context.Context, secret []byte) error {
	return v.keys.Unlock(ctx, secret)
}

// UnlockWithBiometric opens the vault through the platform authenticator.
func (v *Vault) UnlockWithBiometric(ctx context.Context) error {
	return v.keys.UnlockWithBiometric(ctx)
}

// Lock zeroizes key material. In-flight operations complete with their own
// key copies; new operations fail with ErrVaultLocked.
func (v *Vault) Lock() {
	v.keys.Lock()
}

// IsUnlocked reports whether content operations are currently possible.
func (v *Vault) IsUnlocked() bool {
	return v.keys.State() == StateUnlocked
}

// RotateSecret re-wraps the master key under a new secret. Stored items are
// untouched.
func (v *Vault) RotateSecret(ctx context.Context, newSecret []byte) error {
	if err := ValidateSecret(newSecret, v.options.minSecretLength()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return v.keys.RotateKey(ctx, newSecret)
}

// Close locks the vault and releases the storage backend.
func (v *Vault) Close() error {
	v.keys.Lock()
	return v.store.Close()
}

func (v *Vault) audit(ctx context.Context, action, itemID string, metadata map[string]interface{}) {
	if _, err := v.auditor.LogVaultAccess(ctx, action, itemID, v.options.UserID, metadata); err != nil {
		log.Printf("vault: failed to audit %q on %s: %v", action, itemID, err)
	}
}
