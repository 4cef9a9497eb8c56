package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"calmie/internal/config"
)

// ObjectStore keeps one object per key under a prefix in an S3-compatible
// bucket. S3 has no multi-object transactions, so Set restores the previous
// values when a batch fails halfway.
type ObjectStore struct {
	client *minio.Client
	cfg    config.S3Config
}

func NewObjectStore(ctx context.Context, cfg config.S3Config) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	store := &ObjectStore{
		client: client,
		cfg:    cfg,
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return classifyObjectError("bucket exists", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return classifyObjectError("create bucket", err)
		}
	}
	return nil
}

func (s *ObjectStore) objectName(key string) string {
	return s.cfg.Prefix + key
}

func (s *ObjectStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		value, ok, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = value
		}
	}
	return out, nil
}

func (s *ObjectStore) get(ctx context.Context, key string) (string, bool, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return "", false, classifyObjectError("get", err)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", false, nil
		}
		return "", false, classifyObjectError("read", err)
	}
	return string(raw), true, nil
}

func (s *ObjectStore) Set(ctx context.Context, entries map[string]string) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	previous, err := s.Get(ctx, keys...)
	if err != nil {
		return err
	}

	written := make([]string, 0, len(entries))
	for _, key := range keys {
		if err := s.put(ctx, key, entries[key]); err != nil {
			s.rollback(ctx, written, previous)
			return err
		}
		written = append(written, key)
	}
	return nil
}

func (s *ObjectStore) put(ctx context.Context, key, value string) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objectName(key),
		strings.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return classifyObjectError("put", err)
	}
	return nil
}

func (s *ObjectStore) rollback(ctx context.Context, written []string, previous map[string]string) {
	for _, key := range written {
		if old, ok := previous[key]; ok {
			_ = s.put(ctx, key, old)
			continue
		}
		_ = s.client.RemoveObject(ctx, s.cfg.Bucket, s.objectName(key), minio.RemoveObjectOptions{})
	}
}

func (s *ObjectStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.objectName(key), minio.RemoveObjectOptions{})
		if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return classifyObjectError("remove", err)
		}
	}
	return nil
}

func (s *ObjectStore) Close() error {
	return nil
}

func (s *ObjectStore) Client() *minio.Client {
	return s.client
}

func classifyObjectError(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "QuotaExceeded", "EntityTooLarge":
		return fmt.Errorf("object storage: %s: %w: %v", op, ErrQuotaExceeded, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ServiceUnavailable", "SlowDown":
		return fmt.Errorf("object storage: %s: %w: %v", op, ErrUnavailable, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("object storage: %s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("object storage: %s: %w", op, err)
}
