package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ruchit-p/DynastyMobile-sub004/internal/misc"
)

// DeviceIdentity supplies the stable per-installation device id recorded on
// every audit event. Contract: the first call generates an id, every later
// call returns the same one.
type DeviceIdentity interface {
	DeviceID() (string, error)
}

// Ensure implementations satisfy the interface
var (
	_ DeviceIdentity = (*FileDeviceIdentity)(nil)
	_ DeviceIdentity = (*StaticDeviceIdentity)(nil)
)

// FileDeviceIdentity persists the generated id in a local file, created once
// with user-only permissions and reused afterwards.
type FileDeviceIdentity struct {
	path string
	mu   sync.Mutex
	id   string
}

// NewFileDeviceIdentity returns a file-backed identity provider. An empty
// path defaults to $HOME/.dynasty/device_id.
func NewFileDeviceIdentity(path string) *FileDeviceIdentity {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".dynasty", "device_id")
	}
	return &FileDeviceIdentity{path: path}
}

func (f *FileDeviceIdentity) DeviceID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.id != "" {
		return f.id, nil
	}

	data, err := os.ReadFile(f.path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			f.id = id
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id := uuid.NewString()
	if err = os.MkdirAll(filepath.Dir(f.path), misc.DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create device id directory: %w", err)
	}
	if err = os.WriteFile(f.path, []byte(id+"\n"), misc.FilePermissions); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	f.id = id
	return id, nil
}

// StaticDeviceIdentity returns a fixed id. Used in tests and by callers that
// manage device identity elsewhere.
type StaticDeviceIdentity struct {
	ID string
}

func (s *StaticDeviceIdentity) DeviceID() (string, error) {
	if s.ID == "" {
		return "", fmt.Errorf("static device id is empty")
	}
	return s.ID, nil
}
