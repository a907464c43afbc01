package vault

import "context"

// Authenticator is the platform-authenticator boundary: an opaque ceremony
// that gates retrieval of a device key protecting the wrapped master key.
// Implementations live in platform code (Secure Enclave, StrongBox, FIDO2);
// this package never sees how assertion happens. Failure is reported as an
// error, never as partial key material.
type Authenticator interface {
	// Available reports whether the platform authenticator can run at all.
	Available() bool

	// Enroll hands the device key to the authenticator for protection.
	// Called once during vault setup when biometric unlock is enabled.
	Enroll(ctx context.Context, userID string, deviceKey []byte) error

	// Retrieve runs the assertion ceremony and returns the protected device
	// key. A failed or cancelled ceremony returns an error.
	Retrieve(ctx context.Context, userID string) ([]byte, error)
}
