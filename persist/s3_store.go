package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const ctxTimeout = 10 * time.Second

// Ensure S3Store implements Store interface
var _ Store = (*S3Store)(nil)

// S3Config holds the connection settings for an S3-compatible backend.
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix"`
}

// S3Store implements the Store interface using MinIO as the backend.
//
// S3 object structure:
//
//	bucket/
//	├── [keyPrefix/]objects/<path>                # encrypted blobs
//	└── [keyPrefix/]collections/<name>/<id>.json  # document records
//
// Documents are stored as individual JSON objects; queries list the
// collection prefix and filter client-side, which is adequate for the
// per-user record counts this vault deals with.
type S3Store struct {
	client     *minio.Client
	bucketName string
	keyPrefix  string
}

// NewS3Store initializes a new S3Store instance using the provided
// configuration. It establishes a connection to the server and ensures that
// the configured bucket exists.
func NewS3Store(config S3Config) (*S3Store, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint cannot be empty")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket cannot be empty")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	store := &S3Store{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  strings.Trim(config.KeyPrefix, "/"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err = client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return store, nil
}

func (s *S3Store) key(parts ...string) string {
	all := parts
	if s.keyPrefix != "" {
		all = append([]string{s.keyPrefix}, parts...)
	}
	return strings.Join(all, "/")
}

func (s *S3Store) PutObject(ctx context.Context, path string, data []byte, contentType string, tags map[string]string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := s.key("objects", strings.TrimPrefix(path, "/"))
	_, err := s.client.PutObject(ctx, s.bucketName, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType, UserTags: tags})
	if err != nil {
		return "", fmt.Errorf("failed to store object %q: %w", path, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucketName, key), nil
}

func (s *S3Store) GetObject(ctx context.Context, path string) ([]byte, error) {
	key := s.key("objects", strings.TrimPrefix(path, "/"))
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve object %q: %w", path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %q not found", path)
		}
		return nil, fmt.Errorf("failed to read object %q: %w", path, err)
	}
	return data, nil
}

func (s *S3Store) DeleteObject(ctx context.Context, path string) error {
	key := s.key("objects", strings.TrimPrefix(path, "/"))
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %q: %w", path, err)
	}
	return nil
}

func (s *S3Store) PutDocument(ctx context.Context, collection, id string, fields Document) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	key := s.key("collections", collection, sanitizeID(id)+".json")
	_, err = s.client.PutObject(ctx, s.bucketName, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to store document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *S3Store) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	key := s.key("collections", collection, sanitizeID(id)+".json")
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve document %s/%s: %w", collection, id, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read document %s/%s: %w", collection, id, err)
	}

	var doc Document
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *S3Store) QueryDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	prefix := s.key("collections", collection) + "/"

	var docs []Document
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list collection %q: %w", collection, obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}

		handle, err := s.client.GetObject(ctx, s.bucketName, obj.Key, minio.GetObjectOptions{})
		if err != nil {
			continue
		}
		data, err := io.ReadAll(handle)
		handle.Close()
		if err != nil {
			continue
		}

		var doc Document
		if err = json.Unmarshal(data, &doc); err != nil {
			continue // skip corrupt records rather than failing the whole query
		}
		docs = append(docs, doc)
	}
	return applyQuery(docs, q), nil
}

func (s *S3Store) DeleteDocument(ctx context.Context, collection, id string) error {
	key := s.key("collections", collection, sanitizeID(id)+".json")
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *S3Store) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if _, err := s.client.BucketExists(ctx, s.bucketName); err != nil {
		return fmt.Errorf("s3 connectivity check failed: %w", err)
	}
	return nil
}

func (s *S3Store) Close() error { return nil }

func (s *S3Store) GetType() string { return string(StoreTypeS3) }
