// Package mem applies process-wide memory protections so decrypted key
// material is never written to swap.
package mem

// ProtectionLevel reports how much of the process memory is pinned.
type ProtectionLevel int

const (
	ProtectionNone ProtectionLevel = iota
	// ProtectionPartial means the OS refused a full lock; enclave pages are
	// still guarded by memguard but other allocations may swap.
	ProtectionPartial
	ProtectionFull
)

func (p ProtectionLevel) String() string {
	switch p {
	case ProtectionFull:
		return "full"
	case ProtectionPartial:
		return "partial"
	default:
		return "none"
	}
}

// Lock pins current and future process pages in RAM where the platform
// allows it. Safe to call once at startup.
func Lock() (ProtectionLevel, error) {
	return lockMemoryPlatform()
}

// Unlock releases the page pin established by Lock.
func Unlock() error {
	return unlockMemoryPlatform()
}
