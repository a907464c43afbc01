package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruchit-p/DynastyMobile-sub004/audit"
	"github.com/ruchit-p/DynastyMobile-sub004/persist"
)

type fakeAuthenticator struct {
	available bool
	keys      map[string][]byte
	failNext  bool
}

func newFakeAuthenticator() *fakeAuthenticator {
	return &fakeAuthenticator{available: true, keys: make(map[string][]byte)}
}

func (f *fakeAuthenticator) Available() bool { return f.available }

func (f *fakeAuthenticator) Enroll(_ context.Context, userID string, deviceKey []byte) error {
	f.keys[userID] = append([]byte(nil), deviceKey...)
	return nil
}

func (f *fakeAuthenticator) Retrieve(_ context.Context, userID string) ([]byte, error) {
	if f.failNext {
		f.failNext = false
		return nil, errors.New("user cancelled the prompt")
	}
	key, ok := f.keys[userID]
	if !ok {
		return nil, errors.New("no enrollment")
	}
	return append([]byte(nil), key...), nil
}

var testSecret = []byte("correct horse battery 42")

func newTestKeyManager(t *testing.T, authn Authenticator) (*KeyManager, persist.Store) {
	t.Helper()
	store := persist.NewMemoryStore()
	km, err := NewKeyManager(store, authn, audit.NewNoOpRecorder(), "user-1")
	require.NoError(t, err)
	return km, store
}

func TestKeyManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	km, store := newTestKeyManager(t, nil)

	assert.Equal(t, StateUninitialized, km.State())

	_, err := km.HasVault(ctx, "user-1")
	require.NoError(t, err)

	err = km.Unlock(ctx, testSecret)
	require.ErrorIs(t, err, ErrVaultNotFound)

	require.NoError(t, km.Setup(ctx, testSecret, false))
	assert.Equal(t, StateUnlocked, km.State())

	exists, err := km.HasVault(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, exists)

	// master key is reachable while unlocked
	var captured []byte
	err = km.WithMasterKey(func(master []byte) error {
		captured = append([]byte(nil), master...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, captured, 32)

	km.Lock()
	assert.Equal(t, StateLocked, km.State())
	km.Lock() // idempotent
	assert.Equal(t, StateLocked, km.State())

	err = km.WithMasterKey(func([]byte) error { return nil })
	require.ErrorIs(t, err, ErrVaultLocked)

	// a fresh manager over the same store starts locked
	km2, err := NewKeyManager(store, nil, audit.NewNoOpRecorder(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, StateLocked, km2.State())

	require.NoError(t, km2.Unlock(ctx, testSecret))
	err = km2.WithMasterKey(func(master []byte) error {
		assert.Equal(t, captured, master, "unlock must recover the same master key")
		return nil
	})
	require.NoError(t, err)
}

func TestKeyManagerSetupTwice(t *testing.T) {
	ctx := context.Background()
	km, _ := newTestKeyManager(t, nil)

	require.NoError(t, km.Setup(ctx, testSecret, false))
	err := km.Setup(ctx, testSecret, false)
	require.ErrorIs(t, err, ErrVaultExists)
}

func TestKeyManagerWrongSecret(t *testing.T) {
	ctx := context.Background()
	km, _ := newTestKeyManager(t, nil)

	require.NoError(t, km.Setup(ctx, testSecret, false))
	km.Lock()

	err := km.Unlock(ctx, []byte("not the right secret 1"))
	require.ErrorIs(t, err, ErrInvalidSecret)
	assert.Equal(t, StateLocked, km.State(), "failed unlock must leave the vault locked")

	err = km.WithMasterKey(func([]byte) error { return nil })
	require.ErrorIs(t, err, ErrVaultLocked)

	// the right secret still works afterwards
	require.NoError(t, km.Unlock(ctx, testSecret))
	assert.Equal(t, StateUnlocked, km.State())
}

func TestKeyManagerUnlockWhenAlreadyUnlocked(t *testing.T) {
	ctx := context.Background()
	km, _ := newTestKeyManager(t, nil)

	require.NoError(t, km.Setup(ctx, testSecret, false))
	require.NoError(t, km.Unlock(ctx, testSecret))
	assert.Equal(t, StateUnlocked, km.State())
}

func TestKeyManagerRotateKey(t *testing.T) {
	ctx := context.Background()
	km, _ := newTestKeyManager(t, nil)
	newSecret := []byte("a different secret 77")

	require.NoError(t, km.Setup(ctx, testSecret, false))

	var before []byte
	require.NoError(t, km.WithMasterKey(func(master []byte) error {
		before = append([]byte(nil), master...)
		return nil
	}))

	require.NoError(t, km.RotateKey(ctx, newSecret))

	// master key unchanged: files need no re-encryption
	require.NoError(t, km.WithMasterKey(func(master []byte) error {
		assert.Equal(t, before, master)
		return nil
	}))

	km.Lock()
	err := km.Unlock(ctx, testSecret)
	require.ErrorIs(t, err, ErrInvalidSecret, "old secret must stop working")
	require.NoError(t, km.Unlock(ctx, newSecret))
}

func TestKeyManagerRekey(t *testing.T) {
	ctx := context.Background()
	km, _ := newTestKeyManager(t, nil)

	require.NoError(t, km.Setup(ctx, testSecret, false))

	var before []byte
	require.NoError(t, km.WithMasterKey(func(master []byte) error {
		before = append([]byte(nil), master...)
		return nil
	}))

	called := false
	err := km.Rekey(ctx, testSecret, func(oldMaster, newMaster []byte) error {
		called = true
		assert.Equal(t, before, oldMaster)
		assert.NotEqual(t, oldMaster, newMaster)
		assert.Len(t, newMaster, 32)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	require.NoError(t, km.WithMasterKey(func(master []byte) error {
		assert.NotEqual(t, before, master, "rekey must install a fresh master key")
		return nil
	}))

	// same secret opens the new envelope
	km.Lock()
	require.NoError(t, km.Unlock(ctx, testSecret))
}

func TestKeyManagerRekeyAbortsOnReencryptFailure(t *testing.T) {
	ctx := context.Background()
	km, _ := newTestKeyManager(t, nil)

	require.NoError(t, km.Setup(ctx, testSecret, false))
	var before []byte
	require.NoError(t, km.WithMasterKey(func(master []byte) error {
		before = append([]byte(nil), master...)
		return nil
	}))

	err := km.Rekey(ctx, testSecret, func(oldMaster, newMaster []byte) error {
		return errors.New("re-encryption failed")
	})
	require.Error(t, err)

	// old key still in force
	km.Lock()
	require.NoError(t, km.Unlock(ctx, testSecret))
	require.NoError(t, km.WithMasterKey(func(master []byte) error {
		assert.Equal(t, before, master)
		return nil
	}))
}

func TestKeyManagerRekeyRequiresSecret(t *testing.T) {
	ctx := context.Background()
	km, _ := newTestKeyManager(t, nil)

	require.NoError(t, km.Setup(ctx, testSecret, false))
	err := km.Rekey(ctx, []byte("wrong secret entirely"), nil)
	require.ErrorIs(t, err, ErrInvalidSecret)
}

func TestKeyManagerBiometric(t *testing.T) {
	ctx := context.Background()
	authn := newFakeAuthenticator()
	km, _ := newTestKeyManager(t, authn)

	require.NoError(t, km.Setup(ctx, testSecret, true))
	km.Lock()

	require.NoError(t, km.UnlockWithBiometric(ctx))
	assert.Equal(t, StateUnlocked, km.State())

	km.Lock()
	authn.failNext = true
	err := km.UnlockWithBiometric(ctx)
	require.ErrorIs(t, err, ErrBiometricAuthFailed)
	assert.Equal(t, StateLocked, km.State())

	// the secret path is unaffected
	require.NoError(t, km.Unlock(ctx, testSecret))
}

func TestKeyManagerBiometricUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("NoAuthenticator", func(t *testing.T) {
		km, _ := newTestKeyManager(t, nil)
		require.NoError(t, km.Setup(ctx, testSecret, false))
		km.Lock()
		err := km.UnlockWithBiometric(ctx)
		require.ErrorIs(t, err, ErrBiometricUnavailable)
	})

	t.Run("SetupRequiresAvailability", func(t *testing.T) {
		authn := newFakeAuthenticator()
		authn.available = false
		km, _ := newTestKeyManager(t, authn)
		err := km.Setup(ctx, testSecret, true)
		require.ErrorIs(t, err, ErrBiometricUnavailable)
	})

	t.Run("NotEnrolled", func(t *testing.T) {
		authn := newFakeAuthenticator()
		km, _ := newTestKeyManager(t, authn)
		require.NoError(t, km.Setup(ctx, testSecret, false)) // no biometric wrap
		km.Lock()
		err := km.UnlockWithBiometric(ctx)
		require.ErrorIs(t, err, ErrBiometricUnavailable)
	})
}

func TestKeyManagerRekeyDisablesBiometric(t *testing.T) {
	ctx := context.Background()
	authn := newFakeAuthenticator()
	km, _ := newTestKeyManager(t, authn)

	require.NoError(t, km.Setup(ctx, testSecret, true))
	require.NoError(t, km.Rekey(ctx, testSecret, nil))

	km.Lock()
	err := km.UnlockWithBiometric(ctx)
	require.ErrorIs(t, err, ErrBiometricUnavailable, "stale device wrap must not survive a rekey")
}
