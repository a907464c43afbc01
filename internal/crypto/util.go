package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/ruchit-p/DynastyMobile-sub004/internal/misc"
)

// fileKeyInfo is the HKDF info label for per-file key derivation.
// Changing it invalidates every derived file key, so it is versioned.
const fileKeyInfo = "dynasty/vault/file-key/v1"

// DeriveWrappingKey derives the key-encryption key from a user secret and the
// vault salt using argon2id. The result is returned in a protected buffer and
// the intermediate copy is wiped.
func DeriveWrappingKey(secret []byte, saltEnclave *memguard.Enclave) (*memguard.LockedBuffer, error) {
	saltBuffer, err := saltEnclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open salt enclave: %w", err)
	}
	defer saltBuffer.Destroy()

	// Copy salt bytes to avoid issues with concurrent access
	saltBytes := make([]byte, len(saltBuffer.Bytes()))
	copy(saltBytes, saltBuffer.Bytes())
	defer memguard.WipeBytes(saltBytes)

	derivedKey := argon2.IDKey(
		secret,
		saltBytes,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)

	// Protect the derived key immediately
	protectedKey := memguard.NewBufferFromBytes(derivedKey)
	memguard.WipeBytes(derivedKey)

	return protectedKey, nil
}

// DeriveFileKey derives an independent per-file key from the master key and a
// file identifier via HKDF-SHA256. The derivation is one way: the master key
// cannot be recovered from a file key, and distinct file IDs yield independent
// keys. The caller owns the returned slice and must wipe it after use.
func DeriveFileKey(masterKey []byte, fileID string) ([]byte, error) {
	if len(masterKey) != misc.MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", misc.MasterKeySize, len(masterKey))
	}
	if fileID == "" {
		return nil, errors.New("file id cannot be empty")
	}

	stream := hkdf.New(sha256.New, masterKey, []byte(fileID), []byte(fileKeyInfo))
	fileKey := make([]byte, misc.FileKeySize)
	if _, err := io.ReadFull(stream, fileKey); err != nil {
		return nil, fmt.Errorf("file key derivation failed: %w", err)
	}
	return fileKey, nil
}

// EncryptValue encrypts a value with XChaCha20-Poly1305, binding the optional
// additional data into the authentication tag. Output layout: [nonce||ciphertext].
func EncryptValue(value, key, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, value, additionalData)

	encrypted := make([]byte, len(nonce)+len(ciphertext))
	copy(encrypted[:len(nonce)], nonce)
	copy(encrypted[len(nonce):], ciphertext)
	return encrypted, nil
}

// DecryptValue reverses EncryptValue. The same additional data must be supplied
// or authentication fails.
func DecryptValue(encryptedData, key, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(encryptedData) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("encrypted data too short")
	}

	nonceSize := aead.NonceSize()
	nonce := encryptedData[:nonceSize]
	ciphertext := encryptedData[nonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plaintext, nil
}

// EncryptWithPassphrase encrypts data using a passphrase with PBKDF2 + XChaCha20-Poly1305.
// Used for password-protected share links where no vault key is available to the recipient.
func EncryptWithPassphrase(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
	defer memguard.WipeBytes(key)

	encrypted, err := EncryptValue(data, key, nil)
	if err != nil {
		return nil, err
	}

	result := make([]byte, len(salt)+len(encrypted))
	copy(result[:len(salt)], salt)
	copy(result[len(salt):], encrypted)
	return result, nil
}

// DecryptWithPassphrase decrypts data produced by EncryptWithPassphrase.
func DecryptWithPassphrase(encryptedData []byte, passphrase string) ([]byte, error) {
	if len(encryptedData) < 32+chacha20poly1305.NonceSizeX {
		return nil, errors.New("encrypted data too short")
	}

	salt := encryptedData[:32]
	key := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
	defer memguard.WipeBytes(key)

	return DecryptValue(encryptedData[32:], key, nil)
}

// CalculateChecksum calculates SHA-256 checksum of data
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// IsWeakKey flags key material that is too short or has too little byte variety
// to plausibly be random.
func IsWeakKey(key []byte) bool {
	if len(key) < 32 {
		return true
	}

	uniqueBytes := make(map[byte]bool)
	for _, b := range key {
		uniqueBytes[b] = true
	}
	return len(uniqueBytes) < 16
}
