package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/ruchit-p/DynastyMobile-sub004/audit"
	icrypto "github.com/ruchit-p/DynastyMobile-sub004/internal/crypto"
	"github.com/ruchit-p/DynastyMobile-sub004/internal/misc"
	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

// State is the key manager's unlock state. Transitions:
// Uninitialized → Locked → Unlocking → Unlocked → Locked (cycle).
// Unlocking is transient and only reachable from Locked.
type State int

const (
	StateUninitialized State = iota
	StateLocked
	StateUnlocking
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLocked:
		return "locked"
	case StateUnlocking:
		return "unlocking"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

const keysCollection = "vault_keys"

// AAD labels binding each wrap to its purpose, so a biometric wrap can never
// be opened as a secret wrap and vice versa.
const (
	aadSecretWrap    = "dynasty/master-wrap/secret/v1"
	aadBiometricWrap = "dynasty/master-wrap/biometric/v1"
)

// keyEnvelope is the persisted storage envelope of the master key. The raw
// master key never appears here: only AEAD wraps of it, under the
// secret-derived wrapping key and optionally under the authenticator-held
// device key. The wrap's authentication tag doubles as the unlock verifier.
type keyEnvelope struct {
	Version          int
	UserID           string
	Salt             []byte
	WrappedMaster    []byte
	BiometricWrap    []byte
	BiometricEnabled bool
	CreatedAt        time.Time
	RotatedAt        time.Time
}

// KeyManager owns the master key lifecycle and the unlock state machine.
// The unwrapped master key exists only in a memguard enclave while the vault
// is unlocked; everything that touches persistent storage is itself encrypted.
type KeyManager struct {
	store   persist.Store
	authn   Authenticator
	auditor audit.Recorder
	userID  string

	mu            sync.RWMutex
	state         State
	masterEnclave *memguard.Enclave
}

// NewKeyManager creates a key manager for one user's vault. The initial state
// is Locked if an envelope already exists, Uninitialized otherwise.
func NewKeyManager(store persist.Store, authn Authenticator, auditor audit.Recorder, userID string) (*KeyManager, error) {
	if store == nil {
		return nil, errors.New("key manager requires a store")
	}
	if auditor == nil {
		auditor = audit.NewNoOpRecorder()
	}

	km := &KeyManager{
		store:   store,
		authn:   authn,
		auditor: auditor,
		userID:  userID,
		state:   StateUninitialized,
	}

	exists, err := km.HasVault(context.Background(), userID)
	if err != nil {
		return nil, err
	}
	if exists {
		km.state = StateLocked
	}
	return km, nil
}

// State reports the current unlock state.
func (km *KeyManager) State() State {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.state
}

// HasVault reports whether a key envelope exists for the user.
func (km *KeyManager) HasVault(ctx context.Context, userID string) (bool, error) {
	_, err := km.store.GetDocument(ctx, keysCollection, userID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, persist.ErrDocumentNotFound) {
		return false, nil
	}
	return false, storageErr("get", keysCollection+"/"+userID, err)
}

// Setup creates the vault's key material: a random master key wrapped under
// an argon2id-derived wrapping key, optionally also wrapped under an
// authenticator-held device key. Transitions to Unlocked on success. Fails
// with ErrVaultExists if this user already has a vault.
func (km *KeyManager) Setup(ctx context.Context, secret []byte, enableBiometric bool) error {
	exists, err := km.HasVault(ctx, km.userID)
	if err != nil {
		return err
	}
	if exists {
		return ErrVaultExists
	}

	salt := make([]byte, misc.SaltSize)
	if _, err = rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	master := make([]byte, misc.MasterKeySize)
	if _, err = rand.Read(master); err != nil {
		return fmt.Errorf("failed to generate master key: %w", err)
	}

	wrapped, err := km.wrapUnderSecret(master, secret, salt)
	if err != nil {
		memguard.WipeBytes(master)
		return err
	}

	envelope := keyEnvelope{
		Version:       misc.VaultVersion,
		UserID:        km.userID,
		Salt:          salt,
		WrappedMaster: wrapped,
		CreatedAt:     time.Now().UTC(),
	}

	if enableBiometric {
		if km.authn == nil || !km.authn.Available() {
			memguard.WipeBytes(master)
			return ErrBiometricUnavailable
		}
		deviceKey := make([]byte, misc.MasterKeySize)
		if _, err = rand.Read(deviceKey); err != nil {
			memguard.WipeBytes(master)
			return fmt.Errorf("failed to generate device key: %w", err)
		}
		if err = km.authn.Enroll(ctx, km.userID, deviceKey); err != nil {
			memguard.WipeBytes(master)
			memguard.WipeBytes(deviceKey)
			return fmt.Errorf("authenticator enrollment failed: %w", err)
		}
		bioWrap, err := icrypto.EncryptValue(master, deviceKey, []byte(aadBiometricWrap))
		memguard.WipeBytes(deviceKey)
		if err != nil {
			memguard.WipeBytes(master)
			return fmt.Errorf("failed to wrap master key for biometric unlock: %w", err)
		}
		envelope.BiometricWrap = bioWrap
		envelope.BiometricEnabled = true
	}

	if err = km.saveEnvelope(ctx, envelope); err != nil {
		memguard.WipeBytes(master)
		return err
	}

	km.mu.Lock()
	km.masterEnclave = memguard.NewEnclave(master) // wipes the source slice
	km.state = StateUnlocked
	km.mu.Unlock()

	km.record(ctx, "create", map[string]interface{}{"biometric": enableBiometric})
	return nil
}

// Unlock re-derives the wrapping key from the secret and the stored salt and
// opens the master key wrap. The wrap's authentication tag is the verifier:
// a wrong secret fails authentication and leaves the state machine exactly
// where it was.
func (km *KeyManager) Unlock(ctx context.Context, secret []byte) error {
	km.mu.Lock()
	switch km.state {
	case StateUnlocked:
		km.mu.Unlock()
		return nil
	case StateUninitialized:
		km.mu.Unlock()
		return ErrVaultNotFound
	case StateUnlocking:
		km.mu.Unlock()
		return fmt.Errorf("unlock already in progress")
	}
	km.state = StateUnlocking
	km.mu.Unlock()

	master, err := km.openSecretWrap(ctx, secret)

	km.mu.Lock()
	defer km.mu.Unlock()
	if err != nil {
		km.state = StateLocked
		km.record(ctx, "unlock", map[string]interface{}{"failed": true})
		return err
	}
	km.masterEnclave = memguard.NewEnclave(master)
	km.state = StateUnlocked

	km.record(ctx, "unlock", nil)
	return nil
}

func (km *KeyManager) openSecretWrap(ctx context.Context, secret []byte) ([]byte, error) {
	envelope, err := km.loadEnvelope(ctx)
	if err != nil {
		return nil, err
	}

	saltEnclave := memguard.NewEnclave(append([]byte(nil), envelope.Salt...))
	kek, err := icrypto.DeriveWrappingKey(secret, saltEnclave)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer kek.Destroy()

	master, err := icrypto.DecryptValue(envelope.WrappedMaster, kek.Bytes(), []byte(aadSecretWrap))
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return master, nil
}

// UnlockWithBiometric retrieves the wrapped key via the platform
// authenticator ceremony without requiring the secret.
func (km *KeyManager) UnlockWithBiometric(ctx context.Context) error {
	if km.authn == nil || !km.authn.Available() {
		return ErrBiometricUnavailable
	}

	km.mu.Lock()
	switch km.state {
	case StateUnlocked:
		km.mu.Unlock()
		return nil
	case StateUninitialized:
		km.mu.Unlock()
		return ErrVaultNotFound
	case StateUnlocking:
		km.mu.Unlock()
		return fmt.Errorf("unlock already in progress")
	}
	km.state = StateUnlocking
	km.mu.Unlock()

	master, err := km.openBiometricWrap(ctx)

	km.mu.Lock()
	defer km.mu.Unlock()
	if err != nil {
		km.state = StateLocked
		km.record(ctx, "unlock_biometric", map[string]interface{}{"failed": true})
		return err
	}
	km.masterEnclave = memguard.NewEnclave(master)
	km.state = StateUnlocked

	km.record(ctx, "unlock_biometric", nil)
	return nil
}

func (km *KeyManager) openBiometricWrap(ctx context.Context) ([]byte, error) {
	envelope, err := km.loadEnvelope(ctx)
	if err != nil {
		return nil, err
	}
	if !envelope.BiometricEnabled || len(envelope.BiometricWrap) == 0 {
		return nil, ErrBiometricUnavailable
	}

	deviceKey, err := km.authn.Retrieve(ctx, km.userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBiometricAuthFailed, err)
	}
	defer memguard.WipeBytes(deviceKey)

	master, err := icrypto.DecryptValue(envelope.BiometricWrap, deviceKey, []byte(aadBiometricWrap))
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped key verification failed", ErrBiometricAuthFailed)
	}
	return master, nil
}

// Lock zeroizes the in-memory master key reference and transitions to
// Locked. Idempotent. Operations already in flight hold their own copy of
// the key and complete; Lock only prevents new operations from starting.
func (km *KeyManager) Lock() {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.state == StateUninitialized {
		return
	}
	km.masterEnclave = nil
	km.state = StateLocked
}

// WithMasterKey runs fn with an owned, caller-scoped copy of the master key.
// The copy is wiped when fn returns, regardless of outcome. The key manager's
// lock is NOT held during fn, so a concurrent Lock() takes effect for the
// next operation while this one completes with its captured copy.
func (km *KeyManager) WithMasterKey(fn func(master []byte) error) error {
	km.mu.RLock()
	if km.state != StateUnlocked || km.masterEnclave == nil {
		km.mu.RUnlock()
		return ErrVaultLocked
	}
	buffer, err := km.masterEnclave.Open()
	km.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to access master key: %w", err)
	}

	owned := make([]byte, len(buffer.Bytes()))
	copy(owned, buffer.Bytes())
	buffer.Destroy()
	defer memguard.WipeBytes(owned)

	return fn(owned)
}

// RotateKey re-wraps the master key's storage envelope under a new secret.
// Files are not re-encrypted: file keys derive from the master key, which is
// unchanged. Responding to a suspected master key compromise requires
// Vault.RekeyMasterKey instead, which re-encrypts every item.
func (km *KeyManager) RotateKey(ctx context.Context, newSecret []byte) error {
	envelope, err := km.loadEnvelope(ctx)
	if err != nil {
		return err
	}

	err = km.WithMasterKey(func(master []byte) error {
		salt := make([]byte, misc.SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		wrapped, err := km.wrapUnderSecret(master, newSecret, salt)
		if err != nil {
			return err
		}
		envelope.Salt = salt
		envelope.WrappedMaster = wrapped
		envelope.RotatedAt = time.Now().UTC()
		return km.saveEnvelope(ctx, envelope)
	})
	if err != nil {
		return err
	}

	km.record(ctx, "rotate", map[string]interface{}{"scope": "wrapping_secret"})
	return nil
}

// Rekey generates a fresh master key for compromise response. The secret must
// verify first; reencrypt is then called with owned copies of the old and new
// master keys so the vault layer can re-encrypt every item before the new
// envelope is committed and swapped in.
func (km *KeyManager) Rekey(ctx context.Context, secret []byte, reencrypt func(oldMaster, newMaster []byte) error) error {
	oldMaster, err := km.openSecretWrap(ctx, secret)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(oldMaster)

	newMaster := make([]byte, misc.MasterKeySize)
	if _, err = rand.Read(newMaster); err != nil {
		return fmt.Errorf("failed to generate master key: %w", err)
	}

	if reencrypt != nil {
		if err = reencrypt(oldMaster, newMaster); err != nil {
			memguard.WipeBytes(newMaster)
			return err
		}
	}

	envelope, err := km.loadEnvelope(ctx)
	if err != nil {
		memguard.WipeBytes(newMaster)
		return err
	}

	salt := make([]byte, misc.SaltSize)
	if _, err = rand.Read(salt); err != nil {
		memguard.WipeBytes(newMaster)
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	wrapped, err := km.wrapUnderSecret(newMaster, secret, salt)
	if err != nil {
		memguard.WipeBytes(newMaster)
		return err
	}

	envelope.Salt = salt
	envelope.WrappedMaster = wrapped
	envelope.BiometricWrap = nil // device key wrap is stale; re-enroll explicitly
	envelope.BiometricEnabled = false
	envelope.RotatedAt = time.Now().UTC()
	if err = km.saveEnvelope(ctx, envelope); err != nil {
		memguard.WipeBytes(newMaster)
		return err
	}

	km.mu.Lock()
	km.masterEnclave = memguard.NewEnclave(newMaster)
	km.state = StateUnlocked
	km.mu.Unlock()

	km.record(ctx, "rotate", map[string]interface{}{"scope": "master_key"})
	return nil
}

func (km *KeyManager) wrapUnderSecret(master, secret, salt []byte) ([]byte, error) {
	saltEnclave := memguard.NewEnclave(append([]byte(nil), salt...))
	kek, err := icrypto.DeriveWrappingKey(secret, saltEnclave)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer kek.Destroy()

	wrapped, err := icrypto.EncryptValue(master, kek.Bytes(), []byte(aadSecretWrap))
	if err != nil {
		return nil, fmt.Errorf("failed to wrap master key: %w", err)
	}
	return wrapped, nil
}

func (km *KeyManager) loadEnvelope(ctx context.Context) (keyEnvelope, error) {
	doc, err := km.store.GetDocument(ctx, keysCollection, km.userID)
	if err != nil {
		if errors.Is(err, persist.ErrDocumentNotFound) {
			return keyEnvelope{}, ErrVaultNotFound
		}
		return keyEnvelope{}, storageErr("get", keysCollection+"/"+km.userID, err)
	}
	return envelopeFromDocument(doc), nil
}

func (km *KeyManager) saveEnvelope(ctx context.Context, envelope keyEnvelope) error {
	if err := km.store.PutDocument(ctx, keysCollection, km.userID, envelopeToDocument(envelope)); err != nil {
		return storageErr("put", keysCollection+"/"+km.userID, err)
	}
	return nil
}

func (km *KeyManager) record(ctx context.Context, action string, metadata map[string]interface{}) {
	if _, err := km.auditor.LogKeyUsage(ctx, action, "master-key", km.userID, metadata); err != nil {
		log.Printf("vault: failed to audit key usage %q: %v", action, err)
	}
}

func envelopeToDocument(e keyEnvelope) persist.Document {
	doc := persist.Document{
		"version":           e.Version,
		"user_id":           e.UserID,
		"salt":              base64.StdEncoding.EncodeToString(e.Salt),
		"wrapped_master":    base64.StdEncoding.EncodeToString(e.WrappedMaster),
		"biometric_enabled": e.BiometricEnabled,
		"created_at":        e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(e.BiometricWrap) > 0 {
		doc["biometric_wrap"] = base64.StdEncoding.EncodeToString(e.BiometricWrap)
	}
	if !e.RotatedAt.IsZero() {
		doc["rotated_at"] = e.RotatedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

func envelopeFromDocument(doc persist.Document) keyEnvelope {
	e := keyEnvelope{
		UserID: docStr(doc, "user_id"),
	}
	if v, ok := doc["version"].(float64); ok {
		e.Version = int(v)
	} else if v, ok := doc["version"].(int); ok {
		e.Version = v
	}
	e.Salt = docB64(doc, "salt")
	e.WrappedMaster = docB64(doc, "wrapped_master")
	e.BiometricWrap = docB64(doc, "biometric_wrap")
	if b, ok := doc["biometric_enabled"].(bool); ok {
		e.BiometricEnabled = b
	}
	if ts, err := time.Parse(time.RFC3339Nano, docStr(doc, "created_at")); err == nil {
		e.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, docStr(doc, "rotated_at")); err == nil {
		e.RotatedAt = ts
	}
	return e
}

func docStr(doc persist.Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docB64(doc persist.Document, key string) []byte {
	s, ok := doc[key].(string)
	if !ok || s == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}
