package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/anesth/preop/internal/platform/apperr"
)

const (
	ExportFormat  = "preop-assessment"
	ExportVersion = 1
)

// Envelope is the downloadable JSON file of one assessment.
type Envelope struct {
	Format     string    `json:"format"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Record     Record    `json:"record"`
}

// Encode writes r in an export envelope.
func Encode(r Record, at time.Time) ([]byte, error) {
	return json.MarshalIndent(Envelope{
		Format:     ExportFormat,
		Version:    ExportVersion,
		ExportedAt: at.UTC(),
		Record:     r,
	}, "", "  ")
}

// Decode parses an export file. The whole file is validated before a record
// is returned: unknown fields, trailing data, a foreign format or an
// unsupported version reject it. Derived fields are recomputed.
func Decode(data []byte) (Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Record{}, apperr.Validation("import file is empty")
	}
	var env Envelope
	if err := decodeStrict(data, &env); err != nil {
		return Record{}, err
	}
	if env.Format != ExportFormat {
		return Record{}, apperr.Validation("not an assessment export (format %q)", env.Format)
	}
	if env.Version != ExportVersion {
		return Record{}, apperr.Validation("unsupported export version %d", env.Version)
	}
	r := env.Record
	Reconcile(&r)
	return r, nil
}

func (s *Service) Export(ctx context.Context, id uuid.UUID) ([]byte, *Assessment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := Encode(a.Record, s.now())
	if err != nil {
		return nil, nil, err
	}
	return data, a, nil
}

// Import replaces the record of draft assessment id with the file content.
// Nothing is written unless the file is valid.
func (s *Service) Import(ctx context.Context, id uuid.UUID, data []byte, actor string) (*Assessment, error) {
	r, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, id, r, actor)
}

// ImportNew creates a new assessment from an export file.
func (s *Service) ImportNew(ctx context.Context, data []byte, actor string) (*Assessment, error) {
	r, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, r, actor)
}
