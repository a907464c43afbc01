package persist

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var mongoDBCounter atomic.Int64

// mongoURI returns a connection string for a MongoDB server: MONGO_URI when
// set, otherwise a testcontainers-managed instance torn down with the test.
// Skips when neither is available.
func mongoURI(t *testing.T) string {
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		return uri
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping: cannot start MongoDB container (docker unavailable?): %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate MongoDB container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

func newTestMongoStore(t *testing.T, uri string) *MongoStore {
	// A fresh database per store keeps subtests isolated on one server.
	database := fmt.Sprintf("vault_conformance_%d", mongoDBCounter.Add(1))
	s, err := NewMongoStore(MongoConfig{URI: uri, Database: database}, NewMemoryStore())
	require.NoError(t, err)
	return s
}

func TestMongoStoreConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	uri := mongoURI(t)

	storeConformance(t, func(t *testing.T) Store {
		return newTestMongoStore(t, uri)
	})
}

func TestMongoStoreObjectDelegation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	uri := mongoURI(t)
	ctx := context.Background()

	objects := NewMemoryStore()
	database := fmt.Sprintf("vault_conformance_%d", mongoDBCounter.Add(1))
	s, err := NewMongoStore(MongoConfig{URI: uri, Database: database}, objects)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.PutObject(ctx, "vault/u1/blob", []byte("ciphertext"), "", nil)
	require.NoError(t, err)

	// Blobs bypass mongo entirely and land in the inner object store.
	data, err := objects.GetObject(ctx, "vault/u1/blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)

	data, err = s.GetObject(ctx, "vault/u1/blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)

	require.NoError(t, s.DeleteObject(ctx, "vault/u1/blob"))
	_, err = objects.GetObject(ctx, "vault/u1/blob")
	assert.Error(t, err)
}

func TestMongoStoreServerSideQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	uri := mongoURI(t)
	ctx := context.Background()

	s := newTestMongoStore(t, uri)
	defer s.Close()

	for i, owner := range []string{"u1", "u1", "u2"} {
		doc := Document{
			"id":         fmt.Sprintf("doc-%d", i),
			"owner":      owner,
			"risk_score": (i + 1) * 20,
		}
		require.NoError(t, s.PutDocument(ctx, "events", doc["id"].(string), doc))
	}

	docs, err := s.QueryDocuments(ctx, "events", Query{
		Filters:    []Filter{{Field: "owner", Op: "==", Value: "u1"}, {Field: "risk_score", Op: ">=", Value: 30}},
		OrderBy:    "risk_score",
		Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0]["id"])

	_, err = s.QueryDocuments(ctx, "events", Query{
		Filters: []Filter{{Field: "owner", Op: "~", Value: "u1"}},
	})
	assert.Error(t, err, "unsupported operators must be rejected, not silently ignored")
}
