package vault

import (
	"fmt"
	"unicode"

	"github.com/ruchit-p/DynastyMobile-sub004/internal/misc"
)

// Options represents configuration parameters for vault initialization.
//
// The secret itself is never part of Options: it is passed only to Setup and
// Unlock so it cannot leak through configuration files, logging, or
// serialization.
type Options struct {
	// UserID identifies the vault owner. Required.
	UserID string `json:"user_id"`

	// QuotaLimit is the storage allowance in bytes for this user's vault.
	// Zero selects the default (5 GiB).
	QuotaLimit int64 `json:"quota_limit"`

	// ChunkSize is the plaintext segment size for chunked file encryption.
	// Zero selects the default (1 MiB).
	ChunkSize int `json:"chunk_size"`

	// EnableBiometric gates the wrapped master key behind the platform
	// authenticator at setup, enabling UnlockWithBiometric later.
	EnableBiometric bool `json:"enable_biometric"`

	// MinSecretLength is the minimum accepted secret length. Zero selects
	// the default (12).
	MinSecretLength int `json:"min_secret_length"`
}

// validateOptions ensures all required configuration is present and valid
// before any cryptographic operations or storage access happen.
func validateOptions(options Options) error {
	if options.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if options.QuotaLimit < 0 {
		return fmt.Errorf("quota limit cannot be negative")
	}
	if options.ChunkSize < 0 {
		return fmt.Errorf("chunk size cannot be negative")
	}
	if options.ChunkSize > 0 && options.ChunkSize < 4096 {
		return fmt.Errorf("chunk size below 4096 bytes is not supported")
	}
	return nil
}

func (o Options) quotaLimit() int64 {
	if o.QuotaLimit == 0 {
		return misc.DefaultQuotaLimit
	}
	return o.QuotaLimit
}

func (o Options) chunkSize() int {
	if o.ChunkSize == 0 {
		return misc.DefaultChunkSize
	}
	return o.ChunkSize
}

func (o Options) minSecretLength() int {
	if o.MinSecretLength == 0 {
		return 12
	}
	return o.MinSecretLength
}

// ValidateSecret checks a vault secret before key derivation: minimum length
// plus at least two character classes, so trivially weak secrets are rejected
// synchronously with no partial state.
func ValidateSecret(secret []byte, minLength int) error {
	if minLength <= 0 {
		minLength = 12
	}
	if len(secret) < minLength {
		return fmt.Errorf("secret must be at least %d characters", minLength)
	}

	var hasLetter, hasDigit, hasOther bool
	for _, b := range string(secret) {
		switch {
		case unicode.IsLetter(b):
			hasLetter = true
		case unicode.IsDigit(b):
			hasDigit = true
		default:
			hasOther = true
		}
	}

	classes := 0
	for _, present := range []bool{hasLetter, hasDigit, hasOther} {
		if present {
			classes++
		}
	}
	if classes < 2 {
		return fmt.Errorf("secret must mix at least two character classes (letters, digits, symbols)")
	}
	return nil
}
