package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anesth/preop/internal/domain/patient"
	"github.com/anesth/preop/internal/platform/apperr"
	"github.com/anesth/preop/internal/platform/autosave"
	"github.com/anesth/preop/internal/platform/db"
	"github.com/anesth/preop/internal/platform/events"
	"github.com/anesth/preop/internal/platform/metrics"
)

// PatientResolver finds or creates the patient row an assessment belongs to.
type PatientResolver interface {
	Resolve(ctx context.Context, p *patient.Patient) (*patient.Patient, error)
}

type Options struct {
	// DB opens the transaction that resolves the patient and writes the
	// assessment together. Writes run without a transaction when nil.
	DB            db.Beginner
	Drafts        autosave.DraftStore
	AutosaveDelay time.Duration
	Events        *events.Emitter
	Metrics       *metrics.Registry
	Logger        zerolog.Logger
}

// draft is a buffered autosave: the latest record and who typed it. Seq
// orders drafts of one process so a superseded one is never written.
type draft struct {
	Record Record `json:"record"`
	Actor  string `json:"actor"`
	Seq    uint64 `json:"seq,omitempty"`
}

type rowLock struct {
	mu   sync.Mutex
	refs int
}

type Service struct {
	repo     Repository
	patients PatientResolver
	db       db.Beginner
	drafts   autosave.DraftStore
	saver    *autosave.Debouncer[draft]
	events   *events.Emitter
	metrics  *metrics.Registry
	logger   zerolog.Logger
	now      func() time.Time

	seq     atomic.Uint64
	locksMu sync.Mutex
	locks   map[uuid.UUID]*rowLock
}

func NewService(repo Repository, patients PatientResolver, opts Options) *Service {
	s := &Service{
		repo:     repo,
		patients: patients,
		db:       opts.DB,
		drafts:   opts.Drafts,
		events:   opts.Events,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With().Str("component", "assessment").Logger(),
		now:      time.Now,
		locks:    make(map[uuid.UUID]*rowLock),
	}
	if s.drafts == nil {
		s.drafts = autosave.NewMemoryDraftStore(24 * time.Hour)
	}
	s.saver = autosave.NewDebouncer(s.flushDraft, autosave.Options{
		Delay:   opts.AutosaveDelay,
		Logger:  s.logger,
		Metrics: opts.Metrics,
	})
	return s
}

// Close writes pending autosaves.
func (s *Service) Close(ctx context.Context) error {
	return s.saver.Close(ctx)
}

// lock serializes writers of one assessment: explicit saves, finalization,
// deletion and autosave flushes. It is not reentrant.
func (s *Service) lock(id uuid.UUID) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &rowLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func (s *Service) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.db, fn)
}

// prepare stamps defaults, reconciles and validates a record about to be
// stored.
func (s *Service) prepare(r *Record) error {
	r.Patient.Identifier = strings.TrimSpace(r.Patient.Identifier)
	if strings.TrimSpace(r.Patient.ConsultationDate) == "" {
		r.Patient.ConsultationDate = s.now().Format("2006-01-02")
	}
	Reconcile(r)
	return validate(r)
}

func validate(r *Record) error {
	if r.Patient.Identifier == "" {
		return apperr.Validation("patient identifier is required")
	}
	if r.Patient.BirthDate != "" {
		if _, ok := ParseDate(r.Patient.BirthDate); !ok {
			return apperr.Validation("birth date %q is not a valid date", r.Patient.BirthDate)
		}
	}
	if _, ok := ParseDate(r.Patient.ConsultationDate); !ok {
		return apperr.Validation("consultation date %q is not a valid date", r.Patient.ConsultationDate)
	}
	return nil
}

func patientFrom(r *Record) *patient.Patient {
	p := &patient.Patient{
		Identifier: r.Patient.Identifier,
		FamilyName: r.Patient.FamilyName,
		GivenName:  r.Patient.GivenName,
	}
	if t, ok := ParseDate(r.Patient.BirthDate); ok {
		p.BirthDate = &t
	}
	if sex := strings.TrimSpace(r.Patient.Sex); sex != "" {
		p.Sex = &sex
	}
	return p
}

func (s *Service) resolvePatient(ctx context.Context, r *Record) (uuid.UUID, error) {
	p, err := s.patients.Resolve(ctx, patientFrom(r))
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func (s *Service) emit(eventType string, a *Assessment, actor string, data map[string]interface{}) {
	s.events.Emit(events.New(eventType, a.ID.String(), a.PatientID.String(), actor, data))
}

func eventData(a *Assessment) map[string]interface{} {
	d := a.Record.Derived
	return map[string]interface{}{
		"status":        string(a.Status),
		"stop_bang":     d.StopBang.Score,
		"apfel":         d.Apfel.Score,
		"lee":           d.Lee.Score,
		"postop_pain":   d.PostopPain.Score,
		"day_admission": string(d.DayAdmission),
	}
}

// Create stores a new draft assessment, creating the patient when its
// identifier is unknown.
func (s *Service) Create(ctx context.Context, r Record, actor string) (*Assessment, error) {
	r = r.Clone()
	if err := s.prepare(&r); err != nil {
		return nil, err
	}
	a := &Assessment{Status: StatusDraft, Record: r, CreatedBy: actor}
	err := s.withTx(ctx, func(ctx context.Context) error {
		pid, err := s.resolvePatient(ctx, &a.Record)
		if err != nil {
			return err
		}
		a.PatientID = pid
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSaved("assessment", "create")
	s.emit(events.AssessmentSaved, a, actor, eventData(a))
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) getEditable(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusFinal {
		return nil, apperr.Validation("assessment is finalized and can no longer be modified")
	}
	return a, nil
}

// Update replaces the record of a draft assessment. A pending autosave of
// the same assessment is superseded.
func (s *Service) Update(ctx context.Context, id uuid.UUID, r Record, actor string) (*Assessment, error) {
	r = r.Clone()
	if err := s.prepare(&r); err != nil {
		return nil, err
	}
	unlock := s.lock(id)
	defer unlock()

	var a *Assessment
	err := s.withTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.getEditable(ctx, id)
		if err != nil {
			return err
		}
		a.PatientID, err = s.resolvePatient(ctx, &r)
		if err != nil {
			return err
		}
		a.Record = r
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.dropDraft(ctx, id)
	s.metrics.RecordSaved("assessment", "update")
	s.emit(events.AssessmentSaved, a, actor, eventData(a))
	return a, nil
}

// UpdateSection applies one form section through Form so that exactly the
// dependent fields are recomputed, then stores the record.
func (s *Service) UpdateSection(ctx context.Context, id uuid.UUID, section string, raw []byte, actor string) (*Assessment, error) {
	a, err := s.getEditable(ctx, id)
	if err != nil {
		return nil, err
	}
	base := a.Record
	if pending, ok := s.saver.Pending(id.String()); ok {
		base = pending.Record
	}
	f := NewForm(base)
	if err := f.SetSection(section, raw); err != nil {
		return nil, err
	}
	return s.Update(ctx, id, f.Record(), actor)
}

// Finalize signs the assessment off. Any pending autosave is folded in
// first; afterwards the record is read-only.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, actor string) (*Assessment, error) {
	unlock := s.lock(id)
	defer unlock()

	var a *Assessment
	err := s.withTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.getEditable(ctx, id)
		if err != nil {
			return err
		}
		if pending, ok := s.saver.Pending(id.String()); ok {
			a.Record = pending.Record.Clone()
		}
		if err := s.prepare(&a.Record); err != nil {
			return err
		}
		if a.Record.Anesthesia.ASAClass == "" {
			return apperr.Validation("ASA class is required to finalize")
		}
		a.PatientID, err = s.resolvePatient(ctx, &a.Record)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		a.Status = StatusFinal
		a.FinalizedBy = &actor
		a.FinalizedAt = &now
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.dropDraft(ctx, id)
	s.metrics.RecordSaved("assessment", "finalize")
	s.emit(events.AssessmentFinalized, a, actor, eventData(a))
	return a, nil
}

// Delete retires the assessment; the row is kept with deleted_at set.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	unlock := s.lock(id)
	defer unlock()

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.dropDraft(ctx, id)
	s.metrics.RecordSaved("assessment", "delete")
	s.emit(events.AssessmentDeleted, a, actor, nil)
	return nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Assessment, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Assessment, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// SaveDraft buffers r as the latest autosave of assessment id and returns it
// reconciled. The write happens once edits pause; the draft is mirrored to
// the draft store so a restart does not lose it.
func (s *Service) SaveDraft(ctx context.Context, id uuid.UUID, r Record, actor string) (Record, error) {
	key := id.String()
	if _, ok := s.saver.Pending(key); !ok {
		if _, err := s.getEditable(ctx, id); err != nil {
			return Record{}, err
		}
	}
	r = r.Clone()
	if err := s.prepare(&r); err != nil {
		return Record{}, err
	}
	d := draft{Record: r, Actor: actor, Seq: s.seq.Add(1)}
	if data, err := json.Marshal(d); err == nil {
		if err := s.drafts.Save(ctx, key, data); err != nil {
			s.logger.Warn().Err(err).Str("assessment_id", key).Msg("draft mirror failed")
		}
	}
	if err := s.saver.Touch(key, d); err != nil {
		return Record{}, err
	}
	return r.Clone(), nil
}

// GetDraft returns the unsaved draft of assessment id: the buffered one,
// else the mirrored one.
func (s *Service) GetDraft(ctx context.Context, id uuid.UUID) (Record, error) {
	key := id.String()
	if d, ok := s.saver.Pending(key); ok {
		return d.Record.Clone(), nil
	}
	data, err := s.drafts.Load(ctx, key)
	if errors.Is(err, autosave.ErrDraftNotFound) {
		return Record{}, apperr.ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var d draft
	if err := json.Unmarshal(data, &d); err != nil {
		return Record{}, err
	}
	Reconcile(&d.Record)
	return d.Record, nil
}

// RecoverDraft schedules a mirrored draft (left by a previous process) for
// writing.
func (s *Service) RecoverDraft(ctx context.Context, id uuid.UUID) (Record, error) {
	key := id.String()
	data, err := s.drafts.Load(ctx, key)
	if errors.Is(err, autosave.ErrDraftNotFound) {
		return Record{}, apperr.ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var d draft
	if err := json.Unmarshal(data, &d); err != nil {
		return Record{}, err
	}
	return s.SaveDraft(ctx, id, d.Record, d.Actor)
}

// DiscardDraft drops the unsaved draft of assessment id.
func (s *Service) DiscardDraft(ctx context.Context, id uuid.UUID) {
	unlock := s.lock(id)
	defer unlock()
	s.dropDraft(ctx, id)
}

func (s *Service) dropDraft(ctx context.Context, id uuid.UUID) {
	key := id.String()
	s.saver.Cancel(key)
	if err := s.drafts.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", key).Msg("draft mirror delete failed")
	}
}

// flushDraft writes a buffered draft. Drafts that can never be written
// (assessment deleted or finalized meanwhile) are dropped; other failures
// are returned so the debouncer retries. The check that d is still the
// pending draft and the write happen under the assessment lock, so an
// explicit save, finalization or deletion is never overwritten by it.
func (s *Service) flushDraft(ctx context.Context, key string, d draft) error {
	id, err := uuid.Parse(key)
	if err != nil {
		return nil
	}
	unlock := s.lock(id)
	defer unlock()

	if p, ok := s.saver.Pending(key); !ok || p.Seq != d.Seq {
		// cancelled by an explicit save or delete, or superseded by a newer draft
		return nil
	}
	var a *Assessment
	err = s.withTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.getEditable(ctx, id)
		if err != nil {
			return err
		}
		a.PatientID, err = s.resolvePatient(ctx, &d.Record)
		if err != nil {
			return err
		}
		a.Record = d.Record
		return s.repo.Update(ctx, a)
	})
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation):
		s.logger.Warn().Err(err).Str("assessment_id", key).Msg("autosave dropped")
	case err != nil:
		return err
	default:
		s.metrics.RecordSaved("assessment", "autosave")
		s.emit(events.AssessmentSaved, a, d.Actor, eventData(a))
	}
	s.clearMirror(ctx, key, d)
	return nil
}

// clearMirror deletes the mirrored draft unless a newer edit replaced it.
func (s *Service) clearMirror(ctx context.Context, key string, d draft) {
	written, err := json.Marshal(d)
	if err != nil {
		return
	}
	stored, err := s.drafts.Load(ctx, key)
	if err != nil || !bytes.Equal(stored, written) {
		return
	}
	if err := s.drafts.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("assessment_id", key).Msg("draft mirror delete failed")
	}
}
