package patient

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/anesth/preop/internal/platform/apperr"
	"github.com/anesth/preop/internal/platform/metrics"
)

type Service struct {
	repo    Repository
	metrics *metrics.Registry
}

func NewService(repo Repository, m *metrics.Registry) *Service {
	return &Service{repo: repo, metrics: m}
}

func normalize(p *Patient) {
	p.Identifier = strings.TrimSpace(p.Identifier)
	p.FamilyName = strings.TrimSpace(p.FamilyName)
	p.GivenName = strings.TrimSpace(p.GivenName)
}

func (s *Service) Create(ctx context.Context, p *Patient) error {
	normalize(p)
	if p.Identifier == "" {
		return apperr.Validation("patient identifier is required")
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.metrics.RecordSaved("patient", "create")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByIdentifier(ctx context.Context, identifier string) (*Patient, error) {
	return s.repo.GetByIdentifier(ctx, strings.TrimSpace(identifier))
}

func (s *Service) Update(ctx context.Context, p *Patient) error {
	normalize(p)
	if p.Identifier == "" {
		return apperr.Validation("patient identifier is required")
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.metrics.RecordSaved("patient", "update")
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordSaved("patient", "delete")
	return nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// Resolve returns the live patient carrying p.Identifier, creating it from p
// when none exists. Names and birth date already on file are kept; missing
// ones are filled in from p.
func (s *Service) Resolve(ctx context.Context, p *Patient) (*Patient, error) {
	normalize(p)
	if p.Identifier == "" {
		return nil, apperr.Validation("patient identifier is required")
	}
	existing, err := s.repo.GetByIdentifier(ctx, p.Identifier)
	if errors.Is(err, apperr.ErrNotFound) {
		if err := s.Create(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if !fillMissing(existing, p) {
		return existing, nil
	}
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func fillMissing(dst, src *Patient) bool {
	changed := false
	if dst.FamilyName == "" && src.FamilyName != "" {
		dst.FamilyName, changed = src.FamilyName, true
	}
	if dst.GivenName == "" && src.GivenName != "" {
		dst.GivenName, changed = src.GivenName, true
	}
	if dst.BirthDate == nil && src.BirthDate != nil {
		dst.BirthDate, changed = src.BirthDate, true
	}
	if dst.Sex == nil && src.Sex != nil {
		dst.Sex, changed = src.Sex, true
	}
	return changed
}

// DisplayName returns the name printed on documents for patient id.
func (s *Service) DisplayName(ctx context.Context, id uuid.UUID) (string, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return p.DisplayName(), nil
}
