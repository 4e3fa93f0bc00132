// Package blobstore archives rendered documents (printed assessments,
// checklists, consents, reports and spreadsheet exports). It defines the
// BlobStore interface, an in-memory implementation for development and
// tests, a MinIO implementation, and Echo handlers to list, download and
// delete archived documents per patient.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrMissingPatient     = errors.New("patient id is required")
)

// MaxFileSize bounds a single archived document (20 MB).
const MaxFileSize = 20 * 1024 * 1024

// AllowedKinds lists the document kinds that can be archived.
var AllowedKinds = map[string]bool{
	"assessment": true,
	"checklist":  true,
	"consent":    true,
	"report":     true,
	"export":     true,
}

var AllowedContentTypes = map[string]bool{
	"text/html; charset=utf-8": true,
	"text/html":                true,
	"application/json":         true,
	"application/pdf":          true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// BlobMetadata describes an archived document. RecordID is the assessment,
// checklist or document the blob was rendered from.
type BlobMetadata struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	RecordID    string    `json:"record_id,omitempty"`
	Kind        string    `json:"kind"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, patientID, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, patientID, id string) error
	ListByPatient(ctx context.Context, patientID, kind string, limit, offset int) ([]*BlobMetadata, int, error)
}

// prepare validates meta and reads the content, filling in the id, size,
// hash and creation time.
func prepare(meta BlobMetadata, content io.Reader) (BlobMetadata, []byte, error) {
	if meta.PatientID == "" {
		return meta, nil, ErrMissingPatient
	}
	if meta.FileName == "" {
		return meta, nil, ErrMissingFileName
	}
	if !AllowedKinds[meta.Kind] {
		return meta, nil, fmt.Errorf("unknown document kind %q", meta.Kind)
	}
	if !AllowedContentTypes[meta.ContentType] {
		return meta, nil, ErrInvalidContentType
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return meta, nil, ErrFileTooLarge
	}

	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	meta.CreatedAt = time.Now().UTC()
	return meta, data, nil
}

// page sorts newest first and applies limit/offset.
func page(items []*BlobMetadata, limit, offset int) []*BlobMetadata {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 20
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe BlobStore used when no MinIO endpoint is
// configured.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) get(patientID, id string) (*storedBlob, bool) {
	blob, ok := s.blobs[id]
	if !ok || blob.metadata.PatientID != patientID {
		return nil, false
	}
	return blob, true
}

func (s *InMemoryBlobStore) Download(_ context.Context, patientID, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.get(patientID, id)
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, patientID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(patientID, id); !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

func (s *InMemoryBlobStore) ListByPatient(_ context.Context, patientID, kind string, limit, offset int) ([]*BlobMetadata, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*BlobMetadata
	for _, b := range s.blobs {
		if b.metadata.PatientID != patientID {
			continue
		}
		if kind != "" && b.metadata.Kind != kind {
			continue
		}
		m := b.metadata
		matched = append(matched, &m)
	}
	return page(matched, limit, offset), len(matched), nil
}
