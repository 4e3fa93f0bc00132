package checklist

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/anesth/preop/internal/platform/apperr"
	"github.com/anesth/preop/internal/platform/events"
	"github.com/anesth/preop/internal/platform/metrics"
)

type Service struct {
	repo    Repository
	events  *events.Emitter
	metrics *metrics.Registry
}

func NewService(repo Repository, e *events.Emitter, m *metrics.Registry) *Service {
	return &Service{repo: repo, events: e, metrics: m}
}

func validate(c *Checklist) error {
	if c.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	c.InterventionLabel = strings.TrimSpace(c.InterventionLabel)
	phases := map[string][]Item{
		PhaseBeforeInduction:   c.Phases.BeforeInduction,
		PhaseBeforeIncision:    c.Phases.BeforeIncision,
		PhaseAfterIntervention: c.Phases.AfterIntervention,
	}
	for phase, items := range phases {
		seen := map[string]bool{}
		for _, it := range items {
			if it.Code == "" {
				return apperr.Validation("%s: item code is required", phase)
			}
			if seen[it.Code] {
				return apperr.Validation("%s: duplicate item %q", phase, it.Code)
			}
			seen[it.Code] = true
			if !it.Answer.Valid() {
				return apperr.Validation("%s/%s: invalid answer %q", phase, it.Code, it.Answer)
			}
		}
	}
	return nil
}

func (s *Service) emit(eventType string, c *Checklist, actor string) {
	s.events.Emit(events.New(eventType, c.ID.String(), c.PatientID.String(), actor, map[string]interface{}{
		"status":     string(c.Status),
		"deviations": len(c.Deviations()),
	}))
}

// Create stores a new checklist. Phases left empty get the default items.
func (s *Service) Create(ctx context.Context, c *Checklist, actor string) error {
	c.Phases = withDefaults(c.Phases)
	if err := validate(c); err != nil {
		return err
	}
	c.Derive()
	c.CreatedBy = actor
	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}
	s.metrics.RecordSaved("checklist", "create")
	s.emit(events.ChecklistSaved, c, actor)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Checklist, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, c *Checklist, actor string) error {
	if err := validate(c); err != nil {
		return err
	}
	c.Derive()
	if err := s.repo.Update(ctx, c); err != nil {
		return err
	}
	s.metrics.RecordSaved("checklist", "update")
	s.emit(events.ChecklistSaved, c, actor)
	return nil
}

// SetAnswer records the answer to a single item, as done at the bedside.
func (s *Service) SetAnswer(ctx context.Context, id uuid.UUID, phase, code string, answer Answer, comment, actor string) (*Checklist, error) {
	if !answer.Valid() {
		return nil, apperr.Validation("invalid answer %q", answer)
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Phases = c.Phases.clone()
	items, ok := c.Phases.Phase(phase)
	if !ok {
		return nil, apperr.Validation("unknown phase %q", phase)
	}
	found := false
	for i := range items {
		if items[i].Code == code {
			items[i].Answer = answer
			items[i].Comment = strings.TrimSpace(comment)
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.Validation("unknown item %q in %s", code, phase)
	}
	if err := s.Update(ctx, c, actor); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordSaved("checklist", "delete")
	s.emit(events.ChecklistDeleted, c, actor)
	return nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Checklist, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Search filters by ?patient=, ?assessment=, ?status=, ?room=,
// ?intervention=, ?from= and ?to=.
func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Checklist, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
