// Package s3storage implements storage.ObjectStore on S3-compatible
// services: MinIO through minio-go and AWS S3 through aws-sdk-go-v2.
package s3storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/PhotoDrop/internal/config"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
)

// MinioStore wraps MinIO interactions for originals and derivatives. All
// objects share one bucket; the path prefix separates the kinds.
type MinioStore struct {
	client   *minio.Client
	bucket   string
	region   string
	partSize uint64
}

var _ storage.ObjectStore = (*MinioStore)(nil)

// NewMinio creates a MinIO client from the storage configuration.
func NewMinio(cfg config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &MinioStore{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		partSize: cfg.PartSize(),
	}, nil
}

// EnsureBucket makes sure the bucket exists before use.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Put streams r into the bucket. With size -1 minio-go uploads in parts of
// partSize, which bounds the memory held per upload.
func (s *MinioStore) Put(ctx context.Context, p string, r io.Reader, size int64, opts storage.PutOptions) (storage.WriteOutcome, error) {
	if !opts.Upsert {
		exists, err := s.Exists(ctx, p)
		if err != nil {
			return 0, err
		}
		if exists {
			return storage.AlreadyExists, nil
		}
	}
	_, err := s.client.PutObject(ctx, s.bucket, p, r, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		PartSize:     s.partSize,
	})
	if err != nil {
		if isConflict(err) {
			return storage.AlreadyExists, nil
		}
		return 0, fmt.Errorf("put object %s: %w", p, err)
	}
	return storage.Created, nil
}

// Get fetches the whole object.
func (s *MinioStore) Get(ctx context.Context, p string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, p, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapErr(p, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapErr(p, err)
	}
	return buf, nil
}

// Open returns a reader for streaming the object to a client.
func (s *MinioStore) Open(ctx context.Context, p string) (io.ReadCloser, storage.ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, p, minio.GetObjectOptions{})
	if err != nil {
		return nil, storage.ObjectInfo{}, mapErr(p, err)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, storage.ObjectInfo{}, mapErr(p, err)
	}
	return obj, toInfo(st), nil
}

func (s *MinioStore) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, p, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", p, err)
}

// Copy duplicates src to dst inside the bucket without moving bytes through
// this process.
func (s *MinioStore) Copy(ctx context.Context, src, dst string, opts storage.PutOptions) (storage.WriteOutcome, error) {
	if !opts.Upsert {
		exists, err := s.Exists(ctx, dst)
		if err != nil {
			return 0, err
		}
		if exists {
			return storage.AlreadyExists, nil
		}
	}
	dstOpts := minio.CopyDestOptions{Bucket: s.bucket, Object: dst}
	if opts.ContentType != "" || opts.CacheControl != "" {
		dstOpts.ReplaceMetadata = true
		dstOpts.UserMetadata = map[string]string{}
		if opts.ContentType != "" {
			dstOpts.UserMetadata["Content-Type"] = opts.ContentType
		}
		if opts.CacheControl != "" {
			dstOpts.UserMetadata["Cache-Control"] = opts.CacheControl
		}
	}
	if _, err := s.client.CopyObject(ctx, dstOpts, minio.CopySrcOptions{Bucket: s.bucket, Object: src}); err != nil {
		if isConflict(err) {
			return storage.AlreadyExists, nil
		}
		return 0, mapErr(src, err)
	}
	return storage.Created, nil
}

func (s *MinioStore) List(ctx context.Context, prefix, search string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		if search != "" && !strings.Contains(path.Base(obj.Key), search) {
			continue
		}
		out = append(out, toInfo(obj))
	}
	return out, nil
}

// Remove deletes every path. Missing objects are not an error.
func (s *MinioStore) Remove(ctx context.Context, paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := s.client.RemoveObject(ctx, s.bucket, p, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// PresignGet returns a signed GET URL for the object.
func (s *MinioStore) PresignGet(ctx context.Context, p string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, p, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", p, err)
	}
	return u.String(), nil
}

// Ping checks that the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func toInfo(obj minio.ObjectInfo) storage.ObjectInfo {
	return storage.ObjectInfo{Path: obj.Key, Size: obj.Size, ContentType: obj.ContentType, LastModified: obj.LastModified}
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// isConflict matches the responses a store gives when a concurrent writer
// created the object first.
func isConflict(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed
}

func mapErr(p string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", p, storage.ErrNotFound)
	}
	return fmt.Errorf("object %s: %w", p, err)
}
