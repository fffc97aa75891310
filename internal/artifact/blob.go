package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrBlobNotFound is returned when a blob backend has no bytes for a key.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore holds immutable artifact bytes keyed by fingerprint.
type BlobStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// diskStore keeps artifacts as <fingerprint>.wasm files under one directory.
// Files are content-addressed and immutable; the metadata table is the source
// of truth for existence and size.
type diskStore struct {
	dir string
}

func NewDiskStore(dir string) (BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &diskStore{dir: dir}, nil
}

func (d *diskStore) path(key string) string {
	return filepath.Join(d.dir, key+".wasm")
}

func (d *diskStore) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	return data, err
}

// Write stages to a temp file and renames, so a crashed write never leaves a
// half-present artifact behind.
func (d *diskStore) Write(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(d.dir, key+".tmp-*")
	if err != nil {
		return fmt.Errorf("stage artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.path(key))
}

func (d *diskStore) Delete(_ context.Context, key string) error {
	err := os.Remove(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (d *diskStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(d.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// S3Config configures the optional S3-compatible artifact mirror.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
}

type s3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds a blob store on an S3-compatible bucket. Path style is
// required for R2 and most local S3-compat layers.
func NewS3Store(cfg S3Config) (BlobStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &s3Store{client: client, bucket: cfg.BucketName}, nil
}

func (s *s3Store) Read(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key + ".wasm"),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer result.Body.Close()
	return io.ReadAll(result.Body)
}

func (s *s3Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key + ".wasm"),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key + ".wasm"),
	})
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key + ".wasm"),
	})
	if err != nil {
		var nfe *s3types.NotFound
		if errors.As(err, &nfe) {
			return false, nil
		}
		return false, fmt.Errorf("existence check failed: %w", err)
	}
	return true, nil
}

// tieredStore writes through to a mirror and falls back to it on local miss.
type tieredStore struct {
	local  BlobStore
	mirror BlobStore
}

// NewTieredStore layers a mirror (typically S3) behind the local disk store.
func NewTieredStore(local, mirror BlobStore) BlobStore {
	return &tieredStore{local: local, mirror: mirror}
}

func (t *tieredStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := t.local.Read(ctx, key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrBlobNotFound) {
		return nil, err
	}
	data, err = t.mirror.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	// Warm the local tier; a failure here only costs the next read.
	_ = t.local.Write(ctx, key, data)
	return data, nil
}

func (t *tieredStore) Write(ctx context.Context, key string, data []byte) error {
	if err := t.local.Write(ctx, key, data); err != nil {
		return err
	}
	return t.mirror.Write(ctx, key, data)
}

func (t *tieredStore) Delete(ctx context.Context, key string) error {
	if err := t.local.Delete(ctx, key); err != nil {
		return err
	}
	return t.mirror.Delete(ctx, key)
}

func (t *tieredStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := t.local.Exists(ctx, key)
	if err != nil || ok {
		return ok, err
	}
	return t.mirror.Exists(ctx, key)
}
