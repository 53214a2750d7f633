package s3storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dharsanguruparan/PhotoDrop/internal/config"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
)

// AWSStore implements storage.ObjectStore on AWS S3.
type AWSStore struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
	region   string
}

var _ storage.ObjectStore = (*AWSStore)(nil)

// NewAWS loads the AWS configuration. Static keys are used when configured,
// the default credential chain otherwise.
func NewAWS(ctx context.Context, cfg config.StorageConfig) (*AWSStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = int64(cfg.PartSize())
		u.Concurrency = 1
	})
	return &AWSStore{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: uploader,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
	}, nil
}

// EnsureBucket creates the bucket when HeadBucket reports it missing.
func (s *AWSStore) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isAWSNotFound(err) {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != "" && s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, in); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put streams r through the multipart uploader. Without upsert the write is
// conditional on the key being absent (If-None-Match: *).
func (s *AWSStore) Put(ctx context.Context, p string, r io.Reader, _ int64, opts storage.PutOptions) (storage.WriteOutcome, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
		Body:   r,
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		in.CacheControl = aws.String(opts.CacheControl)
	}
	if !opts.Upsert {
		exists, err := s.Exists(ctx, p)
		if err != nil {
			return 0, err
		}
		if exists {
			return storage.AlreadyExists, nil
		}
		in.IfNoneMatch = aws.String("*")
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		if isAWSConflict(err) {
			return storage.AlreadyExists, nil
		}
		return 0, fmt.Errorf("upload %s: %w", p, err)
	}
	return storage.Created, nil
}

func (s *AWSStore) Get(ctx context.Context, p string) ([]byte, error) {
	rc, _, err := s.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return buf, nil
}

func (s *AWSStore) Open(ctx context.Context, p string) (io.ReadCloser, storage.ObjectInfo, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(p)})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, storage.ObjectInfo{}, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
		}
		return nil, storage.ObjectInfo{}, fmt.Errorf("get %s: %w", p, err)
	}
	info := storage.ObjectInfo{
		Path:         p,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}
	return out.Body, info, nil
}

func (s *AWSStore) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(p)})
	if err == nil {
		return true, nil
	}
	if isAWSNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head %s: %w", p, err)
}

func (s *AWSStore) Copy(ctx context.Context, src, dst string, opts storage.PutOptions) (storage.WriteOutcome, error) {
	in := &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + src)),
	}
	if opts.ContentType != "" || opts.CacheControl != "" {
		in.MetadataDirective = types.MetadataDirectiveReplace
		if opts.ContentType != "" {
			in.ContentType = aws.String(opts.ContentType)
		}
		if opts.CacheControl != "" {
			in.CacheControl = aws.String(opts.CacheControl)
		}
	}
	if !opts.Upsert {
		exists, err := s.Exists(ctx, dst)
		if err != nil {
			return 0, err
		}
		if exists {
			return storage.AlreadyExists, nil
		}
	}
	if _, err := s.client.CopyObject(ctx, in); err != nil {
		if isAWSConflict(err) {
			return storage.AlreadyExists, nil
		}
		if isAWSNotFound(err) {
			return 0, fmt.Errorf("%s: %w", src, storage.ErrNotFound)
		}
		return 0, fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return storage.Created, nil
}

func (s *AWSStore) List(ctx context.Context, prefix, search string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if search != "" && !strings.Contains(path.Base(key), search) {
				continue
			}
			out = append(out, storage.ObjectInfo{
				Path:         key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

func (s *AWSStore) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	ids := make([]types.ObjectIdentifier, 0, len(paths))
	for _, p := range paths {
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(p)})
	}
	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	var errs []error
	for _, e := range out.Errors {
		errs = append(errs, fmt.Errorf("remove %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
	}
	return errors.Join(errs...)
}

func (s *AWSStore) PresignGet(ctx context.Context, p string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(p),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", p, err)
	}
	return req.URL, nil
}

func isAWSNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nf) || errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

func isAWSConflict(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
