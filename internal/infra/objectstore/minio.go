package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioConfig holds the connection settings for the MinIO object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore is a JSON document store on top of a MinIO bucket.
// Revision tokens are the bucket ETags; conditional puts translate to
// If-Match / If-None-Match preconditions on the PUT request.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Bool("ssl", cfg.UseSSL).
		Msg("Connecting to object store")

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("Created object store bucket")
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// GetJSON fetches a document, decodes it into v and returns its revision token.
func (s *MinioStore) GetJSON(ctx context.Context, key string, v any) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()

	// Stat forces the request and surfaces NoSuchKey before decoding.
	info, err := obj.Stat()
	if err != nil {
		return "", translateMinioErr(key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return "", fmt.Errorf("decode %s: %w", key, err)
	}
	return info.ETag, nil
}

// PutJSON writes a document unconditionally, overwriting any existing value.
func (s *MinioStore) PutJSON(ctx context.Context, key string, v any) error {
	return s.put(ctx, key, v, minio.PutObjectOptions{ContentType: "application/json"})
}

// PutJSONIf writes a document only if the stored revision still matches rev.
// An empty rev means "create only": the write fails with ErrRevisionMismatch
// if any document already exists at the key.
func (s *MinioStore) PutJSONIf(ctx context.Context, key string, v any, rev string) error {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if rev == "" {
		opts.SetMatchETagExcept("*")
	} else {
		opts.SetMatchETag(rev)
	}
	return s.put(ctx, key, v, opts)
}

func (s *MinioStore) put(ctx context.Context, key string, v any, opts minio.PutObjectOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return translateMinioErr(key, err)
	}
	return nil
}

// List returns the keys of all documents under the given prefix.
func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// translateMinioErr maps MinIO error responses onto the package sentinels.
func translateMinioErr(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	case resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed:
		return fmt.Errorf("%s: %w", key, ErrRevisionMismatch)
	}
	return fmt.Errorf("%s: %w", key, err)
}
