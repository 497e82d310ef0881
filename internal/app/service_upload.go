package app

import (
	"context"

	"huddle/api/internal/blob"
)

// GenerateUploadURL returns a presigned target for one attachment upload.
func (s *Service) GenerateUploadURL(ctx context.Context, userID string) (UploadTarget, error) {
	if err := requireIdentity(userID); err != nil {
		return UploadTarget{}, err
	}
	if s.blobs == nil {
		return UploadTarget{}, blob.ErrNotConfigured
	}
	upload, err := s.blobs.PresignUpload(ctx)
	if err != nil {
		return UploadTarget{}, err
	}
	return UploadTarget{
		UploadURL: upload.URL,
		StorageID: upload.StorageID,
		ExpiresAt: millis(upload.ExpiresAt),
	}, nil
}

// imageURL resolves a stored attachment key to a download URL. A missing
// key or an unconfigured store yields nil.
func (s *Service) imageURL(ctx context.Context, storageID *string) *string {
	if storageID == nil || s.blobs == nil {
		return nil
	}
	url, err := s.blobs.URL(ctx, *storageID)
	if err != nil {
		s.log.WarnContext(ctx, "resolve image url", "storage_id", *storageID, "error", err)
		return nil
	}
	return &url
}
