package vault

import (
	"errors"
	"fmt"
)

// Sentinel errors for the vault layer. Callers match with errors.Is; wrapped
// detail carries the operation context.
var (
	// ErrVaultExists is returned by Setup when the user already has a vault.
	ErrVaultExists = errors.New("vault already exists for this user")

	// ErrVaultNotFound is returned when unlocking a vault that was never set up.
	ErrVaultNotFound = errors.New("no vault exists for this user")

	// ErrInvalidSecret is returned when an unlock secret fails verification.
	// No partial state change occurs on this failure.
	ErrInvalidSecret = errors.New("invalid vault secret")

	// ErrVaultLocked is returned by any operation that needs key material
	// while the vault is locked.
	ErrVaultLocked = errors.New("vault is locked")

	// ErrBiometricUnavailable is returned when no platform authenticator is
	// configured or the device does not support one.
	ErrBiometricUnavailable = errors.New("biometric authentication unavailable")

	// ErrBiometricAuthFailed is returned when the authenticator ceremony ran
	// but did not produce the wrapped key.
	ErrBiometricAuthFailed = errors.New("biometric authentication failed")

	// ErrIntegrity is returned on any authenticated-decryption failure:
	// corrupted ciphertext, wrong key, or tampered metadata. Cryptographic
	// failures never degrade to plaintext.
	ErrIntegrity = errors.New("integrity verification failed")

	// ErrInsufficientStorage is returned when an upload would exceed the
	// storage quota. No vault item is created.
	ErrInsufficientStorage = errors.New("insufficient storage quota")

	// ErrItemNotFound is returned for unknown or tombstoned vault items.
	ErrItemNotFound = errors.New("vault item not found")

	// ErrGrantNotFound is returned for unknown share grants.
	ErrGrantNotFound = errors.New("share grant not found")

	// ErrShareExpired is returned when a grant is past its expiry or revoked.
	ErrShareExpired = errors.New("share grant expired or revoked")

	// ErrInvalidPermission is returned for permissions outside the
	// read/write/delete/reshare set.
	ErrInvalidPermission = errors.New("invalid share permission")
)

// StorageError surfaces a failure of the storage collaborator with the
// underlying cause attached, so callers can decide to retry or queue.
type StorageError struct {
	Op   string // the storage operation that failed
	Path string // object path or collection/id
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q failed: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}
