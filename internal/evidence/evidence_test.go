package evidence

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryObjects struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryObjects) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://objects.test/" + key + "?ttl=" + ttl.String(), nil
}

func TestHashIsBlake3(t *testing.T) {
	// BLAKE3-256 of the empty input.
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", Hash(nil))
	assert.Len(t, Hash([]byte("evidence")), 64)
}

func TestUploadIsContentAddressed(t *testing.T) {
	objects := newMemoryObjects()
	svc := NewService(objects, 1024)
	ctx := context.Background()

	first, err := svc.Upload(ctx, 1, 83, "text/plain", strings.NewReader("witness statement"))
	require.NoError(t, err)
	second, err := svc.Upload(ctx, 1, 83, "text/plain", strings.NewReader("witness statement"))
	require.NoError(t, err)

	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, ObjectKey(1, 83, Hash([]byte("witness statement"))), first.Key)
	assert.Equal(t, int64(len("witness statement")), first.Size)
	assert.Len(t, objects.objects, 1)
}

func TestUploadSniffsMissingContentType(t *testing.T) {
	objects := newMemoryObjects()
	svc := NewService(objects, 0)

	stored, err := svc.Upload(context.Background(), 1, 2, "", strings.NewReader("plain words"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", stored.ContentType)
	assert.Equal(t, stored.ContentType, objects.types[stored.Key])
}

func TestUploadLimits(t *testing.T) {
	svc := NewService(newMemoryObjects(), 4)

	_, err := svc.Upload(context.Background(), 1, 2, "text/plain", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = svc.Upload(context.Background(), 1, 2, "text/plain", strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = svc.Upload(context.Background(), 1, 2, "text/plain", strings.NewReader("1234"))
	assert.NoError(t, err)
}

func TestUploadPropagatesStorageError(t *testing.T) {
	objects := newMemoryObjects()
	objects.putErr = errors.New("bucket unavailable")
	svc := NewService(objects, 0)

	_, err := svc.Upload(context.Background(), 1, 2, "text/plain", strings.NewReader("data"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
}

func TestDownloadURL(t *testing.T) {
	svc := NewService(newMemoryObjects(), 0)
	u, err := svc.DownloadURL(context.Background(), "projects/1/records/2/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://objects.test/projects/1/records/2/abc?ttl=15m0s", u)
}
