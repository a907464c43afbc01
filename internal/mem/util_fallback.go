//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// No mlock support; key material still lives in memguard enclaves,
	// but the OS may swap process memory.
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
