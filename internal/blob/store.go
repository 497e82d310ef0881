// Package blob stores message attachments in an S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	keyPrefix = "uploads/"
	// UploadExpiry bounds how long a presigned upload URL stays valid.
	UploadExpiry = 15 * time.Minute
	// DownloadExpiry bounds how long a presigned image URL stays valid.
	DownloadExpiry = time.Hour
)

var (
	ErrNotConfigured = errors.New("blob storage is not configured")
	ErrInvalidKey    = errors.New("invalid storage id")
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Upload is a presigned upload target.
type Upload struct {
	URL       string
	StorageID string
	ExpiresAt time.Time
}

type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// PresignUpload allocates a new storage id and a PUT URL for it.
func (s *Store) PresignUpload(ctx context.Context) (Upload, error) {
	key := keyPrefix + uuid.NewString()
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, UploadExpiry)
	if err != nil {
		return Upload{}, fmt.Errorf("presign upload: %w", err)
	}
	return Upload{URL: u.String(), StorageID: key, ExpiresAt: time.Now().Add(UploadExpiry)}, nil
}

// URL returns a presigned GET URL for a stored object.
func (s *Store) URL(ctx context.Context, storageID string) (string, error) {
	if err := ValidateKey(storageID); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, storageID, DownloadExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

// Exists reports whether an object was uploaded under storageID.
func (s *Store) Exists(ctx context.Context, storageID string) (bool, error) {
	if err := ValidateKey(storageID); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, storageID, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

// ValidateKey rejects storage ids this package did not allocate.
func ValidateKey(storageID string) error {
	id, ok := strings.CutPrefix(storageID, keyPrefix)
	if !ok {
		return ErrInvalidKey
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidKey
	}
	return nil
}
