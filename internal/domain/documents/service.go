package documents

import (
	"context"
	"strings"
	"time"

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

func validDate(s string) bool {
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func validate(d *Document) error {
	if d.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	switch d.Kind {
	case KindConsent:
		d.Report = nil
		if d.Consent == nil {
			d.Consent = &Consent{}
		}
		return validateConsent(d.Consent)
	case KindReport:
		d.Consent = nil
		if d.Report == nil {
			return apperr.Validation("report content is required")
		}
		return validateReport(d.Report)
	}
	return apperr.Validation("invalid kind %q", d.Kind)
}

func validateConsent(c *Consent) error {
	c.SignatoryName = strings.TrimSpace(c.SignatoryName)
	c.SignedOn = strings.TrimSpace(c.SignedOn)
	if c.InformationDate != "" && !validDate(c.InformationDate) {
		return apperr.Validation("information date %q is not a valid date", c.InformationDate)
	}
	if c.SignedOn != "" && !validDate(c.SignedOn) {
		return apperr.Validation("signature date %q is not a valid date", c.SignedOn)
	}
	if c.SignedOn != "" && c.SignatoryName == "" {
		return apperr.Validation("signatory name is required with a signature date")
	}
	if c.SignedOn != "" && !c.Refused && !c.InformationGiven {
		return apperr.Validation("consent cannot be signed before the information is given")
	}
	return nil
}

func validateReport(r *Report) error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return apperr.Validation("report title is required")
	}
	if r.Date != "" && !validDate(r.Date) {
		return apperr.Validation("report date %q is not a valid date", r.Date)
	}
	for i, s := range r.Sections {
		if strings.TrimSpace(s.Title) == "" {
			return apperr.Validation("section %d: title is required", i+1)
		}
	}
	return nil
}

func (s *Service) emit(eventType string, d *Document, actor string) {
	s.events.Emit(events.New(eventType, d.ID.String(), d.PatientID.String(), actor, map[string]interface{}{
		"kind":   string(d.Kind),
		"status": string(d.Status),
	}))
}

func (s *Service) Create(ctx context.Context, d *Document, actor string) error {
	if err := validate(d); err != nil {
		return err
	}
	d.Derive()
	d.Author = actor
	if err := s.repo.Create(ctx, d); err != nil {
		return err
	}
	s.metrics.RecordSaved(string(d.Kind), "create")
	s.emit(events.DocumentSaved, d, actor)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.repo.GetByID(ctx, id)
}

// Update replaces the content of document id. The kind is fixed at creation
// and a signed consent can no longer change.
func (s *Service) Update(ctx context.Context, d *Document, actor string) error {
	existing, err := s.repo.GetByID(ctx, d.ID)
	if err != nil {
		return err
	}
	if d.Kind == "" {
		d.Kind = existing.Kind
	}
	if d.Kind != existing.Kind {
		return apperr.Validation("document kind cannot change from %s to %s", existing.Kind, d.Kind)
	}
	if existing.Status == StatusSigned {
		return apperr.Validation("signed consent can no longer be modified")
	}
	if err := validate(d); err != nil {
		return err
	}
	d.Derive()
	if err := s.repo.Update(ctx, d); err != nil {
		return err
	}
	s.metrics.RecordSaved(string(d.Kind), "update")
	s.emit(events.DocumentSaved, d, actor)
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordSaved(string(d.Kind), "delete")
	s.emit(events.DocumentDeleted, d, actor)
	return nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Document, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Search filters by ?patient=, ?assessment=, ?kind=, ?status= and ?title=.
func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Document, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}
