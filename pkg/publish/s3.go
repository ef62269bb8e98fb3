package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// S3Transport publishes into an S3 compatible bucket under an optional key
// prefix.
type S3Transport struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	initOnce sync.Once
	initErr  error
}

func NewS3Transport(cfg S3Config) (*S3Transport, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Transport{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Transport) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3Transport) key(remoteName string) string {
	if s.prefix == "" {
		return path.Clean(remoteName)
	}
	return path.Join(s.prefix, remoteName)
}

func (s *S3Transport) Put(ctx context.Context, localPath, remoteName string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	_, err := s.client.FPutObject(ctx, s.bucket, s.key(remoteName), localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func (s *S3Transport) Get(ctx context.Context, remoteName, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %s: %w", localPath, err)
	}
	err := s.client.FGetObject(ctx, s.bucket, s.key(remoteName), localPath, minio.GetObjectOptions{})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return fmt.Errorf("%w: %s", ErrNotFound, remoteName)
		}
		return err
	}
	return nil
}

func (s *S3Transport) Delete(ctx context.Context, remoteName string) error {
	return s.client.RemoveObject(ctx, s.bucket, s.key(remoteName), minio.RemoveObjectOptions{})
}

func (s *S3Transport) Exists(ctx context.Context, remoteName string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(remoteName), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	code := minio.ToErrorResponse(err).Code
	if code == "NoSuchKey" || code == "NoSuchBucket" {
		return false, nil
	}
	return false, err
}

func (s *S3Transport) String() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}
