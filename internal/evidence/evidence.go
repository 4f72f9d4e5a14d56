// Package evidence stores captured evidence bytes in object storage, keyed
// by their BLAKE3 content hash.
package evidence

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

var (
	ErrEmpty    = errors.New("evidence body is empty")
	ErrTooLarge = errors.New("evidence body exceeds size limit")
)

const (
	DefaultMaxBytes = 25 << 20
	presignTTL      = 15 * time.Minute
)

// ObjectStore is the blob backend. MinioStore is the production one.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Stored describes an uploaded object.
type Stored struct {
	Key         string
	ContentHash string
	ContentType string
	Size        int64
}

type Service struct {
	objects  ObjectStore
	maxBytes int64
}

func NewService(objects ObjectStore, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Service{objects: objects, maxBytes: maxBytes}
}

// Hash returns the hex BLAKE3-256 digest of data.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey is content addressed, so uploading the same bytes twice for a
// record writes the same object.
func ObjectKey(projectID, recordID int64, contentHash string) string {
	return fmt.Sprintf("projects/%d/records/%d/%s", projectID, recordID, contentHash)
}

// Upload reads body up to the size limit, hashes it and writes the object.
func (s *Service) Upload(ctx context.Context, projectID, recordID int64, contentType string, body io.Reader) (Stored, error) {
	data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return Stored{}, fmt.Errorf("read evidence body: %w", err)
	}
	if len(data) == 0 {
		return Stored{}, ErrEmpty
	}
	if int64(len(data)) > s.maxBytes {
		return Stored{}, ErrTooLarge
	}

	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	stored := Stored{
		ContentHash: Hash(data),
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	stored.Key = ObjectKey(projectID, recordID, stored.ContentHash)
	if err := s.objects.Put(ctx, stored.Key, bytes.NewReader(data), stored.Size, contentType); err != nil {
		return Stored{}, fmt.Errorf("put evidence object: %w", err)
	}
	return stored, nil
}

// DownloadURL returns a short-lived presigned URL for the object.
func (s *Service) DownloadURL(ctx context.Context, key string) (string, error) {
	return s.objects.PresignGet(ctx, key, presignTTL)
}
