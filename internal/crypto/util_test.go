package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruchit-p/DynastyMobile-sub004/internal/misc"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, misc.MasterKeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptValue(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("family photo archive")
	aad := []byte("context-label")

	ct, err := EncryptValue(plaintext, key, aad)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ct)

	out, err := DecryptValue(ct, key, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestDecryptValueWrongKey(t *testing.T) {
	key := randomKey(t)
	ct, err := EncryptValue([]byte("secret"), key, nil)
	require.NoError(t, err)

	_, err = DecryptValue(ct, randomKey(t), nil)
	assert.Error(t, err)
}

func TestDecryptValueWrongAAD(t *testing.T) {
	key := randomKey(t)
	ct, err := EncryptValue([]byte("secret"), key, []byte("label-a"))
	require.NoError(t, err)

	_, err = DecryptValue(ct, key, []byte("label-b"))
	assert.Error(t, err)
}

func TestDecryptValueTamperedCiphertext(t *testing.T) {
	key := randomKey(t)
	ct, err := EncryptValue([]byte("secret"), key, nil)
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0x01
	_, err = DecryptValue(ct, key, nil)
	assert.Error(t, err)
}

func TestEncryptValueNonceUniqueness(t *testing.T) {
	key := randomKey(t)
	a, err := EncryptValue([]byte("same plaintext"), key, nil)
	require.NoError(t, err)
	b, err := EncryptValue([]byte("same plaintext"), key, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDeriveFileKey(t *testing.T) {
	master := randomKey(t)

	k1, err := DeriveFileKey(master, "file-a")
	require.NoError(t, err)
	k2, err := DeriveFileKey(master, "file-a")
	require.NoError(t, err)
	k3, err := DeriveFileKey(master, "file-b")
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "derivation must be deterministic")
	assert.NotEqual(t, k1, k3, "different files must get different keys")
	assert.Len(t, k1, misc.FileKeySize)

	otherMaster := randomKey(t)
	k4, err := DeriveFileKey(otherMaster, "file-a")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4, "different masters must get different keys")
}

func TestDeriveWrappingKey(t *testing.T) {
	salt := make([]byte, misc.SaltSize)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	k1, err := DeriveWrappingKey([]byte("correct horse battery 42"), memguard.NewEnclave(append([]byte(nil), salt...)))
	require.NoError(t, err)
	defer k1.Destroy()

	k2, err := DeriveWrappingKey([]byte("correct horse battery 42"), memguard.NewEnclave(append([]byte(nil), salt...)))
	require.NoError(t, err)
	defer k2.Destroy()

	assert.True(t, bytes.Equal(k1.Bytes(), k2.Bytes()), "same secret and salt must derive the same key")

	otherSalt := make([]byte, misc.SaltSize)
	_, err = rand.Read(otherSalt)
	require.NoError(t, err)
	k3, err := DeriveWrappingKey([]byte("correct horse battery 42"), memguard.NewEnclave(otherSalt))
	require.NoError(t, err)
	defer k3.Destroy()
	assert.False(t, bytes.Equal(k1.Bytes(), k3.Bytes()), "different salts must derive different keys")
}

func TestPassphraseRoundTrip(t *testing.T) {
	data := []byte("wrapped file key material")

	sealed, err := EncryptWithPassphrase(data, "link password 99")
	require.NoError(t, err)

	out, err := DecryptWithPassphrase(sealed, "link password 99")
	require.NoError(t, err)
	assert.Equal(t, data, out)

	_, err = DecryptWithPassphrase(sealed, "wrong password")
	assert.Error(t, err)
}

func TestCalculateChecksum(t *testing.T) {
	sum := CalculateChecksum([]byte("hello"))
	assert.Len(t, sum, 64)
	assert.Equal(t, sum, CalculateChecksum([]byte("hello")))
	assert.NotEqual(t, sum, CalculateChecksum([]byte("hello!")))
}

func TestIsWeakKey(t *testing.T) {
	assert.True(t, IsWeakKey(make([]byte, misc.MasterKeySize)), "all-zero key is weak")
	assert.True(t, IsWeakKey(bytes.Repeat([]byte{0xAB}, misc.MasterKeySize)), "repeated byte key is weak")
	assert.False(t, IsWeakKey(randomKey(t)))
}
