//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package mem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func lockMemoryPlatform() (ProtectionLevel, error) {
	switch err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); {
	case err == nil:
		return ProtectionFull, nil
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.ENOSYS), errors.Is(err, unix.ENOMEM):
		// RLIMIT_MEMLOCK too low or mlockall unsupported. Not fatal:
		// enclaves carry their own page locks.
		return ProtectionPartial, nil
	default:
		return ProtectionNone, fmt.Errorf("mlockall: %w", err)
	}
}

func unlockMemoryPlatform() error {
	if err := unix.Munlockall(); err != nil {
		return fmt.Errorf("munlockall: %w", err)
	}
	return nil
}
