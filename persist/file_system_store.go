package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ruchit-p/DynastyMobile-sub004/internal/misc"
)

// Ensure FileSystemStore implements Store interface
var _ Store = (*FileSystemStore)(nil)

// FileSystemStore implements the Store interface on the local filesystem.
//
// Directory layout:
//
//	basePath/
//	├── objects/<path>              # encrypted blobs, path-preserving
//	└── collections/<name>/<id>.json # one JSON file per document
//
// All files are created with 0600 and directories with 0700 permissions.
type FileSystemStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileSystemStore creates (if necessary) the base directory and returns a
// store rooted at it.
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	for _, sub := range []string{"objects", "collections"} {
		if err := os.MkdirAll(filepath.Join(basePath, sub), misc.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &FileSystemStore{basePath: basePath}, nil
}

func (f *FileSystemStore) objectPath(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" {
		return "", fmt.Errorf("object path cannot be empty")
	}
	return filepath.Join(f.basePath, "objects", clean), nil
}

func (f *FileSystemStore) docPath(collection, id string) string {
	return filepath.Join(f.basePath, "collections", collection, sanitizeID(id)+".json")
}

// sanitizeID keeps document file names inside their collection directory.
func sanitizeID(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}

func (f *FileSystemStore) PutObject(_ context.Context, path string, data []byte, _ string, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	full, err := f.objectPath(path)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(filepath.Dir(full), misc.DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	// Write to a temp file then rename so readers never observe partial writes
	tmp := full + ".tmp"
	if err = os.WriteFile(tmp, data, misc.FilePermissions); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err = os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}
	return "file://" + full, nil
}

func (f *FileSystemStore) GetObject(_ context.Context, path string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	full, err := f.objectPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %q not found", path)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (f *FileSystemStore) DeleteObject(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	full, err := f.objectPath(path)
	if err != nil {
		return err
	}
	if err = os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (f *FileSystemStore) PutDocument(_ context.Context, collection, id string, fields Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Join(f.basePath, "collections", collection)
	if err := os.MkdirAll(dir, misc.DirPermissions); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	path := f.docPath(collection, id)
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, misc.FilePermissions); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize document: %w", err)
	}
	return nil
}

func (f *FileSystemStore) GetDocument(_ context.Context, collection, id string) (Document, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.docPath(collection, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var doc Document
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return doc, nil
}

func (f *FileSystemStore) QueryDocuments(_ context.Context, collection string, q Query) ([]Document, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dir := filepath.Join(f.basePath, "collections", collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Document{}, nil
		}
		return nil, fmt.Errorf("failed to list collection: %w", err)
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // concurrent delete
		}
		var doc Document
		if err = json.Unmarshal(data, &doc); err != nil {
			continue // skip corrupt records rather than failing the whole query
		}
		docs = append(docs, doc)
	}
	return applyQuery(docs, q), nil
}

func (f *FileSystemStore) DeleteDocument(_ context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.docPath(collection, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (f *FileSystemStore) Ping() error {
	_, err := os.Stat(f.basePath)
	return err
}

func (f *FileSystemStore) Close() error { return nil }

func (f *FileSystemStore) GetType() string { return string(StoreTypeFileSystem) }
