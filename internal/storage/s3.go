package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Options locates a bucket on AWS S3 or any S3-compatible service.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// S3Storage publishes bundles into one S3 bucket. Each object carries the
// Content-Type and Cache-Control headers a CDN serves it with.
type S3Storage struct {
	client *minio.Client
	bucket string
	region string
}

// NewS3Storage creates a provider for opts.Bucket. No request is made until
// the first operation.
func NewS3Storage(opts S3Options) (*S3Storage, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Debug().
		Str("endpoint", opts.Endpoint).
		Str("bucket", opts.Bucket).
		Bool("ssl", opts.UseSSL).
		Msg("S3 publish target configured")

	return &S3Storage{client: client, bucket: opts.Bucket, region: opts.Region}, nil
}

func (s *S3Storage) Name() string {
	return "s3"
}

// Check fails unless the bucket exists and the credentials can see it.
func (s *S3Storage) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: bucket %s: %v", ErrTargetUnavailable, s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("%w: bucket %s does not exist", ErrTargetUnavailable, s.bucket)
	}
	return nil
}

func (s *S3Storage) Put(ctx context.Context, key string, data io.Reader, size int64) (*Object, error) {
	obj := &Object{
		Key:          key,
		ContentType:  ContentType(key),
		CacheControl: CacheControl(key),
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, data, size, minio.PutObjectOptions{
		ContentType:  obj.ContentType,
		CacheControl: obj.CacheControl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, key, err)
	}
	obj.Size = info.Size
	obj.ETag = info.ETag
	obj.LastModified = info.LastModified
	if obj.LastModified.IsZero() {
		obj.LastModified = time.Now()
	}

	log.Debug().Str("bucket", s.bucket).Str("key", key).Int64("size", obj.Size).Msg("Bundle uploaded")
	return obj, nil
}

func (s *S3Storage) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat s3://%s/%s: %w", s.bucket, key, err)
}

func (s *S3Storage) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove s3://%s/%s: %w", s.bucket, key, err)
	}
	log.Debug().Str("bucket", s.bucket).Str("key", key).Msg("Bundle removed")
	return nil
}

func (s *S3Storage) Keys(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, prefix, info.Err)
		}
		objects = append(objects, Object{
			Key:          info.Key,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
			ETag:         info.ETag,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}
