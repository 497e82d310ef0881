package blob

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "huddle-test",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	return s
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{Bucket: "b"})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestPresignUpload(t *testing.T) {
	s := newTestStore(t)

	upload, err := s.PresignUpload(context.Background())
	require.NoError(t, err)
	require.NoError(t, ValidateKey(upload.StorageID))

	u, err := url.Parse(upload.URL)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.True(t, strings.HasPrefix(u.Path, "/huddle-test/uploads/"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
}

func TestPresignDownloadRejectsForeignKeys(t *testing.T) {
	s := newTestStore(t)

	_, err := s.URL(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.Exists(context.Background(), "uploads/not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("uploads/0b6f3a4e-52b4-4a39-9ad3-1d2c8e3f7a10"))
	assert.ErrorIs(t, ValidateKey("0b6f3a4e-52b4-4a39-9ad3-1d2c8e3f7a10"), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey(""), ErrInvalidKey)
}
