package persist

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Document is a flat record persisted in the document side of a store.
// Values must be JSON-serializable.
type Document map[string]interface{}

// Filter is a single field comparison applied server-side where the backend
// supports it. Op is one of "==", "!=", ">=", "<=", ">", "<".
type Filter struct {
	Field string
	Op    string
	Value interface{}
}

// Query describes a document query. A zero Query matches everything.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Store defines the storage collaborator used by the vault and audit layers:
// an object store for encrypted blobs plus a document database for records.
// All blob data handed to this interface is already encrypted by the caller;
// a store never sees plaintext file content.
//
// The vault and audit components assume nothing about a backend beyond these
// operations, so implementations can be swapped freely (filesystem, S3/MinIO,
// MongoDB-backed documents, in-memory for tests).
type Store interface {

	// Object operations (encrypted blobs)

	// PutObject stores an object at path and returns a stable URL or locator
	// for it. Tags are advisory and may be dropped by backends without
	// tagging support.
	PutObject(ctx context.Context, path string, data []byte, contentType string, tags map[string]string) (string, error)

	// GetObject retrieves the object stored at path.
	GetObject(ctx context.Context, path string) ([]byte, error)

	// DeleteObject removes the object at path. Removing a missing object is
	// not an error.
	DeleteObject(ctx context.Context, path string) error

	// Document operations (metadata records)

	// PutDocument creates or replaces the document with the given id.
	PutDocument(ctx context.Context, collection, id string, fields Document) error

	// GetDocument retrieves a single document. Returns ErrDocumentNotFound
	// if no document with that id exists.
	GetDocument(ctx context.Context, collection, id string) (Document, error)

	// QueryDocuments returns the documents of a collection matching the query.
	QueryDocuments(ctx context.Context, collection string, q Query) ([]Document, error)

	// DeleteDocument removes a document. Removing a missing document is not
	// an error.
	DeleteDocument(ctx context.Context, collection, id string) error

	// Health and utilities

	// Ping tests the connectivity for remote backends.
	Ping() error

	// Close closes the store and releases any resources it holds.
	Close() error

	// GetType retrieves the type of store being used.
	GetType() string
}

// ErrDocumentNotFound is returned by GetDocument when the id does not exist.
// "Not found" is a normal outcome for callers, not an exceptional one.
var ErrDocumentNotFound = fmt.Errorf("document not found")

// StoreType represents the different types of storage backends that can be used.
type StoreType string

// Supported storage types.
const (
	StoreTypeFileSystem StoreType = "filesystem"
	StoreTypeS3         StoreType = "s3"
	StoreTypeMongo      StoreType = "mongo"
	StoreTypeMemory     StoreType = "memory"
)

// StoreConfig provides configuration for different storage backends.
type StoreConfig struct {
	// Type specifies the storage backend to be used.
	Type StoreType `json:"type"`

	// Config contains backend-specific settings, e.g. {"path": "/data/vault"}
	// for filesystem or bucket/credential settings for S3.
	Config map[string]interface{} `json:"config"`
}

// matchFilter evaluates a single filter against a document field. Numeric
// comparisons are performed in float64 space, which covers every value that
// round-trips through JSON.
func matchFilter(doc Document, f Filter) bool {
	val, ok := doc[f.Field]
	if !ok {
		return false
	}

	switch f.Op {
	case "==", "":
		return compareValues(val, f.Value) == 0
	case "!=":
		return compareValues(val, f.Value) != 0
	case ">=":
		return compareValues(val, f.Value) >= 0
	case "<=":
		return compareValues(val, f.Value) <= 0
	case ">":
		return compareValues(val, f.Value) > 0
	case "<":
		return compareValues(val, f.Value) < 0
	default:
		return false
	}
}

// compareValues returns -1, 0 or 1. Mixed types that cannot be coerced
// compare as unequal (returns 2).
func compareValues(a, b interface{}) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
		return 2
	}

	if at, aok := toTime(a); aok {
		if bt, bok := toTime(b); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
		return 2
	}

	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case bool:
		// Booleans are not numbers; reject so they fall through to string compare
		return 0, false
	default:
		return 0, false
	}
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// applyQuery filters, orders and limits documents client-side. Backends
// without native query support delegate here after loading candidates.
func applyQuery(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		keep := true
		for _, f := range q.Filters {
			if !matchFilter(doc, f) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, doc)
		}
	}

	if q.OrderBy != "" {
		sortDocuments(out, q.OrderBy, q.Descending)
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func sortDocuments(docs []Document, field string, descending bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		c := compareValues(docs[i][field], docs[j][field])
		if c == 2 {
			return false
		}
		if descending {
			return c > 0
		}
		return c < 0
	})
}
