package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDeviceIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_id")
	identity := NewFileDeviceIdentity(path)

	id, err := identity.DeviceID()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// stable across calls
	again, err := identity.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// stable across instances reading the same file
	other := NewFileDeviceIdentity(path)
	fromDisk, err := other.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, id, fromDisk)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileDeviceIdentityRegeneratesWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_id")

	first, err := NewFileDeviceIdentity(path).DeviceID()
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	second, err := NewFileDeviceIdentity(path).DeviceID()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestStaticDeviceIdentity(t *testing.T) {
	id, err := (&StaticDeviceIdentity{ID: "fixed"}).DeviceID()
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	_, err = (&StaticDeviceIdentity{}).DeviceID()
	require.Error(t, err)
}
