package checklist

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Checklist) error
	GetByID(ctx context.Context, id uuid.UUID) (*Checklist, error)
	Update(ctx context.Context, c *Checklist) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Checklist, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Checklist, int, error)
}
