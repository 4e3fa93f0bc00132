package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anesth/preop/internal/domain/patient"
	"github.com/anesth/preop/internal/domain/scoring"
	"github.com/anesth/preop/internal/platform/apperr"
	"github.com/anesth/preop/internal/platform/autosave"
	"github.com/anesth/preop/internal/platform/events"
)

// -- Mock Repository --

type mockRepo struct {
	mu      sync.Mutex
	items   map[uuid.UUID]*Assessment
	err     error
	updates int
	gate    *readGate
}

// readGate parks the next GetByID until release is closed.
type readGate struct {
	entered chan struct{}
	release chan struct{}
}

func (m *mockRepo) holdNextRead() *readGate {
	g := &readGate{entered: make(chan struct{}), release: make(chan struct{})}
	m.mu.Lock()
	m.gate = g
	m.mu.Unlock()
	return g
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Assessment)}
}

func (m *mockRepo) copyOf(a *Assessment) *Assessment {
	c := *a
	c.Record = a.Record.Clone()
	return &c
}

func (m *mockRepo) Create(_ context.Context, a *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.items[a.ID] = m.copyOf(a)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Assessment, error) {
	m.mu.Lock()
	g := m.gate
	m.gate = nil
	m.mu.Unlock()
	if g != nil {
		close(g.entered)
		<-g.release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return m.copyOf(a), nil
}

func (m *mockRepo) Update(_ context.Context, a *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	stored, ok := m.items[a.ID]
	if !ok || stored.Status != StatusDraft {
		return apperr.ErrNotFound
	}
	a.UpdatedAt = time.Now()
	m.items[a.ID] = m.copyOf(a)
	m.updates++
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

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Assessment, int, error) {
	return m.Search(ctx, nil, limit, offset)
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Assessment
	for _, a := range m.items {
		if a.PatientID == patientID {
			result = append(result, m.copyOf(a))
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Assessment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var result []*Assessment
	for _, a := range m.items {
		if st := params["status"]; st != "" && string(a.Status) != st {
			continue
		}
		result = append(result, m.copyOf(a))
	}
	total := len(result)
	if offset > len(result) {
		offset = len(result)
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

// -- Fake patient resolver --

type fakePatients struct {
	mu  sync.Mutex
	ids map[string]uuid.UUID
	err error
}

func newFakePatients() *fakePatients {
	return &fakePatients{ids: make(map[string]uuid.UUID)}
}

func (f *fakePatients) Resolve(_ context.Context, p *patient.Patient) (*patient.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.ids[p.Identifier]
	if !ok {
		id = uuid.New()
		f.ids[p.Identifier] = id
	}
	p.ID = id
	return p, nil
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

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	svc      *Service
	repo     *mockRepo
	patients *fakePatients
	drafts   *autosave.MemoryDraftStore
	pub      *recordingPublisher
	emitter  *events.Emitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:     newMockRepo(),
		patients: newFakePatients(),
		drafts:   autosave.NewMemoryDraftStore(time.Hour),
		pub:      &recordingPublisher{},
	}
	env.emitter = events.NewEmitter(env.pub, zerolog.Nop(), nil)
	env.svc = NewService(env.repo, env.patients, Options{
		Drafts:        env.drafts,
		AutosaveDelay: time.Hour,
		Events:        env.emitter,
		Logger:        zerolog.Nop(),
	})
	env.svc.now = func() time.Time { return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { env.svc.Close(context.Background()) })
	return env
}

// waitEvents closes the emitter and returns the published event types.
func (e *testEnv) waitEvents(t *testing.T) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.emitter.Close(ctx)
	return e.pub.types()
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func sampleRecord() Record {
	return Record{
		Patient: PatientInfo{
			FamilyName: "Dupont",
			GivenName:  "Marie",
			Identifier: "IPP001",
			BirthDate:  "1958-06-20",
			Sex:        "F",
		},
		Intervention: Intervention{Label: "Prothèse totale de hanche", Date: "2024-04-02"},
		StopBang:     scoring.StopBangFactors{Snoring: true, Pressure: true, AgeOver50: true},
		Apfel:        scoring.ApfelFactors{FemaleSex: true, NonSmoker: true},
		PostopPain: scoring.PostopPainFactors{
			FemaleSex:   scoring.Yes,
			AgeBracket:  scoring.Age30To65,
			SurgeryType: scoring.SurgeryOrthopedic,
		},
		Physical: Physical{Weight: "70", Height: "175"},
	}
}

func TestService_Create(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.svc.Create(context.Background(), sampleRecord(), "dr-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == uuid.Nil || a.PatientID == uuid.Nil {
		t.Fatalf("expected ids to be set, got %+v", a)
	}
	if a.Status != StatusDraft {
		t.Errorf("expected draft, got %s", a.Status)
	}
	if a.Record.Patient.ConsultationDate != "2024-03-15" {
		t.Errorf("expected consultation date stamped, got %q", a.Record.Patient.ConsultationDate)
	}
	d := a.Record.Derived
	if d.Age == nil || *d.Age != 65 {
		t.Errorf("expected age 65, got %v", d.Age)
	}
	if d.BMI != "22.9" || d.StopBang.Score != 3 || !d.StopBang.ApneaRisk {
		t.Errorf("unexpected derived fields %+v", d)
	}
	if d.DayAdmission != scoring.NotAdmitted {
		t.Errorf("expected apnea risk to exclude day admission, got %s", d.DayAdmission)
	}
	if got := env.waitEvents(t); len(got) != 1 || got[0] != events.AssessmentSaved {
		t.Errorf("expected one saved event, got %v", got)
	}
}

func TestService_Create_IdentifierRequired(t *testing.T) {
	env := newTestEnv(t)
	r := sampleRecord()
	r.Patient.Identifier = "  "
	_, err := env.svc.Create(context.Background(), r, "dr-a")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if len(env.repo.items) != 0 {
		t.Error("expected nothing stored")
	}
}

func TestService_Create_InvalidBirthDate(t *testing.T) {
	env := newTestEnv(t)
	r := sampleRecord()
	r.Patient.BirthDate = "31/31/2000"
	if _, err := env.svc.Create(context.Background(), r, "dr-a"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_Create_OverwritesClientDerived(t *testing.T) {
	env := newTestEnv(t)
	r := sampleRecord()
	r.Derived.StopBang.Score = 8
	r.Derived.BMI = "99.9"
	r.Derived.DayAdmission = scoring.Admitted

	a, err := env.svc.Create(context.Background(), r, "dr-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Record.Derived.StopBang.Score != 3 || a.Record.Derived.BMI != "22.9" {
		t.Errorf("expected derived fields recomputed, got %+v", a.Record.Derived)
	}
	if a.Record.Derived.DayAdmission != scoring.NotAdmitted {
		t.Errorf("expected not-admitted, got %s", a.Record.Derived.DayAdmission)
	}
}

func TestService_Create_StorageError(t *testing.T) {
	env := newTestEnv(t)
	env.repo.err = errors.New("connection refused")
	r := sampleRecord()
	if _, err := env.svc.Create(context.Background(), r, "dr-a"); err == nil {
		t.Fatal("expected error")
	}
	if r.Patient.Identifier != "IPP001" || r.Derived.BMI != "" {
		t.Error("caller's record must not be modified")
	}
}

func TestService_Update_FinalIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	r := sampleRecord()
	r.Anesthesia.ASAClass = "II"
	a, _ := env.svc.Create(context.Background(), r, "dr-a")
	if _, err := env.svc.Finalize(context.Background(), a.ID, "dr-a"); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	r.Intervention.Label = "changed"
	if _, err := env.svc.Update(context.Background(), a.ID, r, "dr-a"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error on finalized record, got %v", err)
	}
	if _, err := env.svc.SaveDraft(context.Background(), a.ID, r, "dr-a"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error on draft of finalized record, got %v", err)
	}
}

func TestService_Finalize(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	if _, err := env.svc.Finalize(context.Background(), a.ID, "dr-b"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ASA class to be required, got %v", err)
	}

	r := sampleRecord()
	r.Anesthesia.ASAClass = "III"
	if _, err := env.svc.SaveDraft(context.Background(), a.ID, r, "dr-b"); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	got, err := env.svc.Finalize(context.Background(), a.ID, "dr-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusFinal || got.FinalizedBy == nil || *got.FinalizedBy != "dr-b" || got.FinalizedAt == nil {
		t.Errorf("unexpected finalized assessment %+v", got)
	}
	if got.Record.Anesthesia.ASAClass != "III" {
		t.Error("expected pending draft to be folded in")
	}
	if _, ok := env.svc.saver.Pending(a.ID.String()); ok {
		t.Error("expected pending draft to be dropped")
	}
}

func TestService_UpdateSection(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	got, err := env.svc.UpdateSection(context.Background(), a.ID, SectionStopBang, []byte(`{"snoring":true}`), "dr-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Record.Derived.StopBang.Score != 1 || got.Record.Derived.DayAdmission != scoring.Admitted {
		t.Errorf("expected dependent fields recomputed, got %+v", got.Record.Derived)
	}

	_, err = env.svc.UpdateSection(context.Background(), a.ID, SectionStopBang, []byte(`{"snorring":true}`), "dr-a")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown field, got %v", err)
	}
	stored, _ := env.repo.GetByID(context.Background(), a.ID)
	if stored.Record.Derived.StopBang.Score != 1 {
		t.Error("rejected section must leave the stored record unchanged")
	}
}

func TestService_Delete(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")
	env.svc.SaveDraft(context.Background(), a.ID, sampleRecord(), "dr-a")

	if err := env.svc.Delete(context.Background(), a.ID, "dr-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.Get(context.Background(), a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if env.svc.saver.Len() != 0 {
		t.Error("expected pending draft to be dropped")
	}
	if _, err := env.drafts.Load(context.Background(), a.ID.String()); !errors.Is(err, autosave.ErrDraftNotFound) {
		t.Error("expected mirrored draft to be deleted")
	}
	if got := env.waitEvents(t); !contains(got, events.AssessmentDeleted) {
		t.Errorf("expected a deleted event, got %v", got)
	}
}

func TestService_SaveDraft_FlushPersists(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	r := sampleRecord()
	r.Physical.Weight = "90"
	rec, err := env.svc.SaveDraft(context.Background(), a.ID, r, "dr-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Derived.BMI != "29.4" {
		t.Errorf("expected reconciled draft, got bmi %q", rec.Derived.BMI)
	}
	if env.repo.updates != 0 {
		t.Fatal("draft must not be written before the quiescence delay")
	}

	draft, err := env.svc.GetDraft(context.Background(), a.ID)
	if err != nil || draft.Physical.Weight != "90" {
		t.Fatalf("expected pending draft, got %+v, %v", draft.Physical, err)
	}

	if err := env.svc.saver.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	stored, _ := env.svc.Get(context.Background(), a.ID)
	if stored.Record.Physical.Weight != "90" || stored.Record.Derived.BMI != "29.4" {
		t.Errorf("expected draft persisted, got %+v", stored.Record.Physical)
	}
	if _, err := env.svc.GetDraft(context.Background(), a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected no draft after flush, got %v", err)
	}
}

func TestService_SaveDraft_FailedFlushKeepsEdits(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	r := sampleRecord()
	r.Anesthesia.Conclusion = "RAS"
	env.svc.SaveDraft(context.Background(), a.ID, r, "dr-a")

	env.repo.err = errors.New("connection refused")
	if err := env.svc.saver.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	draft, err := env.svc.GetDraft(context.Background(), a.ID)
	if err != nil || draft.Anesthesia.Conclusion != "RAS" {
		t.Fatalf("expected edits kept after failure, got %v", err)
	}

	env.repo.err = nil
	if err := env.svc.saver.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	stored, _ := env.svc.Get(context.Background(), a.ID)
	if stored.Record.Anesthesia.Conclusion != "RAS" {
		t.Error("expected edits written on retry")
	}
}

func TestService_SaveDraft_RequiresIdentifier(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	r := sampleRecord()
	r.Patient.Identifier = ""
	if _, err := env.svc.SaveDraft(context.Background(), a.ID, r, "dr-a"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if env.svc.saver.Len() != 0 {
		t.Error("invalid draft must not be buffered")
	}
}

func TestService_SaveDraft_UnknownAssessment(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.SaveDraft(context.Background(), uuid.New(), sampleRecord(), "dr-a"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_RecoverDraft(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	r := sampleRecord()
	r.Intervention.Label = "Arthroscopie"
	data, _ := json.Marshal(draft{Record: r, Actor: "dr-a"})
	env.drafts.Save(context.Background(), a.ID.String(), data)

	rec, err := env.svc.RecoverDraft(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Intervention.Label != "Arthroscopie" {
		t.Errorf("unexpected recovered record %+v", rec.Intervention)
	}
	if _, ok := env.svc.saver.Pending(a.ID.String()); !ok {
		t.Error("expected recovered draft to be scheduled")
	}
}

func TestService_Update_SupersedesDraft(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	stale := sampleRecord()
	stale.Intervention.Label = "stale"
	env.svc.SaveDraft(context.Background(), a.ID, stale, "dr-a")

	fresh := sampleRecord()
	fresh.Intervention.Label = "fresh"
	if _, err := env.svc.Update(context.Background(), a.ID, fresh, "dr-a"); err != nil {
		t.Fatalf("update: %v", err)
	}
	env.svc.saver.Flush(context.Background())

	stored, _ := env.svc.Get(context.Background(), a.ID)
	if stored.Record.Intervention.Label != "fresh" {
		t.Errorf("expected explicit save to win, got %q", stored.Record.Intervention.Label)
	}
}

// startFlush writes pending drafts in the background with the first
// assessment read held at the gate. It returns once that read is parked.
func (e *testEnv) startFlush(t *testing.T) (release func(), done <-chan error) {
	t.Helper()
	g := e.repo.holdNextRead()
	errc := make(chan error, 1)
	go func() { errc <- e.svc.saver.Flush(context.Background()) }()
	select {
	case <-g.entered:
	case <-time.After(time.Second):
		t.Fatal("flush never read the assessment")
	}
	return func() { close(g.release) }, errc
}

func TestService_Update_WinsOverRunningAutosave(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	stale := sampleRecord()
	stale.Physical.Weight = "90"
	env.svc.SaveDraft(context.Background(), a.ID, stale, "dr-a")
	release, flushed := env.startFlush(t)

	fresh := sampleRecord()
	fresh.Physical.Weight = "60"
	updated := make(chan error, 1)
	go func() {
		_, err := env.svc.Update(context.Background(), a.ID, fresh, "dr-a")
		updated <- err
	}()
	time.Sleep(20 * time.Millisecond)
	release()

	if err := <-flushed; err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := <-updated; err != nil {
		t.Fatalf("update: %v", err)
	}
	stored, _ := env.svc.Get(context.Background(), a.ID)
	if stored.Record.Physical.Weight != "60" {
		t.Errorf("expected explicit save to survive the autosave, got weight %q", stored.Record.Physical.Weight)
	}
}

func TestService_Finalize_WinsOverRunningAutosave(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	r := sampleRecord()
	r.Anesthesia.ASAClass = "II"
	env.svc.SaveDraft(context.Background(), a.ID, r, "dr-a")
	release, flushed := env.startFlush(t)

	finalized := make(chan error, 1)
	go func() {
		_, err := env.svc.Finalize(context.Background(), a.ID, "dr-b")
		finalized <- err
	}()
	time.Sleep(20 * time.Millisecond)
	release()

	if err := <-flushed; err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := <-finalized; err != nil {
		t.Fatalf("finalize: %v", err)
	}
	stored, _ := env.svc.Get(context.Background(), a.ID)
	if stored.Status != StatusFinal {
		t.Errorf("expected assessment to stay final, got %s", stored.Status)
	}
	if stored.Record.Anesthesia.ASAClass != "II" {
		t.Errorf("expected finalized record kept, got asa %q", stored.Record.Anesthesia.ASAClass)
	}
}

func TestService_Update_FinalRowIsNeverRewritten(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")
	r := sampleRecord()
	r.Anesthesia.ASAClass = "I"
	env.svc.Update(context.Background(), a.ID, r, "dr-a")
	final, err := env.svc.Finalize(context.Background(), a.ID, "dr-a")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	final.Status = StatusDraft
	final.Record.Physical.Weight = "120"
	if err := env.repo.Update(context.Background(), final); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for a finalized row, got %v", err)
	}
}

func TestService_ListByPatient(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.svc.Create(context.Background(), sampleRecord(), "dr-a")
	other := sampleRecord()
	other.Patient.Identifier = "IPP999"
	env.svc.Create(context.Background(), other, "dr-a")
	env.svc.Create(context.Background(), sampleRecord(), "dr-a")

	items, total, err := env.svc.ListByPatient(context.Background(), a.PatientID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 assessments for patient, got %d", total)
	}
}
