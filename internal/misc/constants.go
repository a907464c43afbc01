package misc

const (
	// VaultVersion defines the current version of the vault envelope format
	VaultVersion = 1

	// ArgonTime Key derivation parameters
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32
	SaltSize            = 16

	// MasterKeySize is the raw size of the vault master key in bytes
	MasterKeySize = 32

	// FileKeySize is the size of a derived per-file key in bytes
	FileKeySize = 32

	// DefaultChunkSize is the plaintext segment size for chunked file encryption
	DefaultChunkSize = 1 << 20 // 1 MiB

	// DefaultQuotaLimit is the per-user vault storage allowance
	DefaultQuotaLimit int64 = 5 * 1024 * 1024 * 1024 // 5 GiB

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700
)
