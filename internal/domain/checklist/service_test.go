package checklist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anesth/preop/internal/platform/apperr"
	"github.com/anesth/preop/internal/platform/events"
)

// -- Mock Repository --

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Checklist
	err   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Checklist)}
}

func copyOf(c *Checklist) *Checklist {
	out := *c
	out.Phases = c.Phases.clone()
	return &out
}

func (m *mockRepo) Create(_ context.Context, c *Checklist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.items[c.ID] = copyOf(c)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Checklist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return copyOf(c), nil
}

func (m *mockRepo) Update(_ context.Context, c *Checklist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	old, ok := m.items[c.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	c.CreatedBy = old.CreatedBy
	c.UpdatedAt = time.Now()
	m.items[c.ID] = copyOf(c)
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Checklist, int, error) {
	return m.Search(ctx, map[string]string{"patient": patientID.String()}, limit, offset)
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Checklist, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var result []*Checklist
	for _, c := range m.items {
		if p := params["patient"]; p != "" && c.PatientID.String() != p {
			continue
		}
		if st := params["status"]; st != "" && string(c.Status) != st {
			continue
		}
		result = append(result, copyOf(c))
	}
	total := len(result)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return result[offset:end], total, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func newTestService() (*Service, *mockRepo, *events.Emitter, *recordingPublisher) {
	repo := newMockRepo()
	pub := &recordingPublisher{}
	em := events.NewEmitter(pub, zerolog.Nop(), nil)
	return NewService(repo, em, nil), repo, em, pub
}

func TestService_Create_DefaultItems(t *testing.T) {
	svc, _, em, pub := newTestService()
	c := &Checklist{PatientID: uuid.New(), InterventionLabel: " Cholécystectomie "}

	if err := svc.Create(context.Background(), c, "nurse-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if len(c.Phases.BeforeInduction) != len(DefaultPhases().BeforeInduction) {
		t.Errorf("expected default items, got %d", len(c.Phases.BeforeInduction))
	}
	if c.Status != StatusInProgress || c.Complete {
		t.Errorf("expected in-progress, got %s", c.Status)
	}
	if c.InterventionLabel != "Cholécystectomie" || c.CreatedBy != "nurse-1" {
		t.Errorf("unexpected checklist %+v", c)
	}

	em.Close(context.Background())
	if len(pub.events) != 1 || pub.events[0].Type != events.ChecklistSaved {
		t.Errorf("expected one saved event, got %+v", pub.events)
	}
}

func TestService_Create_Validation(t *testing.T) {
	svc, _, _, _ := newTestService()
	tests := []struct {
		name string
		c    *Checklist
	}{
		{"no patient", &Checklist{}},
		{"invalid answer", &Checklist{PatientID: uuid.New(), Phases: Phases{BeforeInduction: []Item{{Code: "a", Answer: "maybe"}}}}},
		{"missing code", &Checklist{PatientID: uuid.New(), Phases: Phases{BeforeIncision: []Item{{Label: "x"}}}}},
		{"duplicate code", &Checklist{PatientID: uuid.New(), Phases: Phases{AfterIntervention: []Item{{Code: "a"}, {Code: "a"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Create(context.Background(), tt.c, "n"); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_SetAnswer(t *testing.T) {
	svc, repo, _, _ := newTestService()
	c := &Checklist{PatientID: uuid.New(), Phases: Phases{
		BeforeInduction:   []Item{{Code: "identity"}},
		BeforeIncision:    []Item{{Code: "antibiotic"}},
		AfterIntervention: []Item{{Code: "counts"}},
	}}
	svc.Create(context.Background(), c, "n")

	ctx := context.Background()
	svc.SetAnswer(ctx, c.ID, PhaseBeforeInduction, "identity", Yes, "", "n")
	svc.SetAnswer(ctx, c.ID, PhaseBeforeIncision, "antibiotic", NotApplicable, "", "n")
	got, err := svc.SetAnswer(ctx, c.ID, PhaseAfterIntervention, "counts", No, " compresse manquante ", "n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleteWithDeviation || !got.Complete {
		t.Errorf("expected complete-with-deviation, got %s", got.Status)
	}
	stored := repo.items[c.ID]
	if stored.Phases.AfterIntervention[0].Comment != "compresse manquante" {
		t.Errorf("unexpected comment %q", stored.Phases.AfterIntervention[0].Comment)
	}

	got, _ = svc.SetAnswer(ctx, c.ID, PhaseAfterIntervention, "counts", Yes, "", "n")
	if got.Status != StatusComplete {
		t.Errorf("expected complete, got %s", got.Status)
	}
}

func TestService_SetAnswer_Errors(t *testing.T) {
	svc, _, _, _ := newTestService()
	c := &Checklist{PatientID: uuid.New()}
	svc.Create(context.Background(), c, "n")
	ctx := context.Background()

	if _, err := svc.SetAnswer(ctx, c.ID, "during", "identity", Yes, "", "n"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown phase, got %v", err)
	}
	if _, err := svc.SetAnswer(ctx, c.ID, PhaseBeforeInduction, "nope", Yes, "", "n"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown item, got %v", err)
	}
	if _, err := svc.SetAnswer(ctx, c.ID, PhaseBeforeInduction, "identity", "oui", "", "n"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for bad answer, got %v", err)
	}
	if _, err := svc.SetAnswer(ctx, uuid.New(), PhaseBeforeInduction, "identity", Yes, "", "n"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	svc, repo, em, pub := newTestService()
	c := &Checklist{PatientID: uuid.New()}
	svc.Create(context.Background(), c, "n")

	if err := svc.Delete(context.Background(), c.ID, "n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.items) != 0 {
		t.Error("expected checklist removed")
	}
	if err := svc.Delete(context.Background(), c.ID, "n"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	em.Close(context.Background())
	var deleted int
	for _, e := range pub.events {
		if e.Type == events.ChecklistDeleted {
			deleted++
		}
	}
	if deleted != 1 {
		t.Errorf("expected one deleted event, got %d", deleted)
	}
}

func TestService_ListByPatient(t *testing.T) {
	svc, _, _, _ := newTestService()
	pid := uuid.New()
	svc.Create(context.Background(), &Checklist{PatientID: pid}, "n")
	svc.Create(context.Background(), &Checklist{PatientID: pid}, "n")
	svc.Create(context.Background(), &Checklist{PatientID: uuid.New()}, "n")

	items, total, err := svc.ListByPatient(context.Background(), pid, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2, got %d", total)
	}
}
