// Package objectstore provides S3-compatible and local-filesystem object
// storage backends for rendered manifests and the chart cache.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nathantilsley/argo-sentry/internal/render/domain"
)

// MinioConfig holds the connection settings for an S3-compatible endpoint
// (AWS S3, MinIO, Garage, ...).
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Secure          bool
	Bucket          string
	Prefix          string
}

// Minio implements ports.ObjectStore against an S3-compatible endpoint.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinio creates a minio-backed object store.
func NewMinio(cfg MinioConfig) (*Minio, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("object store bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	return &Minio{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *Minio) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Exists checks whether a key is present.
func (s *Minio) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.fullKey(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, translateAuthError(err)
	}
	return true, nil
}

// Get reads an object. Returns domain.ErrNotFound for missing keys.
func (s *Minio) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.fullKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, translateAuthError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, translateAuthError(err)
	}
	return data, nil
}

// Put writes an object. Writes are idempotent upserts: concurrent duplicate
// uploads of the same content are safe.
func (s *Minio) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.fullKey(key),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return translateAuthError(err)
	}
	return nil
}

// ListKeys returns all keys under the given prefix, relative to the store's
// base prefix.
func (s *Minio) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	full := s.fullKey(prefix)
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    full,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, translateAuthError(obj.Err)
		}
		key := obj.Key
		if s.prefix != "" {
			key = strings.TrimPrefix(key, s.prefix+"/")
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

// translateAuthError maps credential-expiry responses to the distinguished
// AuthExpiredError so fan-outs abort instead of producing a wall of
// identical authentication failures.
func translateAuthError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "ExpiredToken", "TokenRefreshRequired", "InvalidToken":
		return &domain.AuthExpiredError{Backend: "object store", Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "token") && (strings.Contains(msg, "expired") || strings.Contains(msg, "refresh failed")) {
		return &domain.AuthExpiredError{Backend: "object store", Err: err}
	}
	return err
}
