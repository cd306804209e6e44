package encounter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldchart/fieldchart/internal/domain/audit"
	"github.com/fieldchart/fieldchart/internal/validation"
)

// -- Mock Repository --

type mockRepo struct {
	encounters    map[uuid.UUID]*Encounter
	statusHistory []*StatusHistory
}

func newMockRepo() *mockRepo {
	return &mockRepo{encounters: make(map[uuid.UUID]*Encounter)}
}

func (m *mockRepo) Create(_ context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	enc.CreatedAt = time.Now()
	enc.UpdatedAt = time.Now()
	cp := *enc
	m.encounters[enc.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Encounter, error) {
	enc, ok := m.encounters[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *enc
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, enc *Encounter) error {
	cp := *enc
	m.encounters[enc.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Encounter, int, error) {
	var result []*Encounter
	for _, enc := range m.encounters {
		result = append(result, enc)
	}
	return result, len(result), nil
}

func (m *mockRepo) ListByProvider(_ context.Context, providerID string, limit, offset int) ([]*Encounter, int, error) {
	var result []*Encounter
	for _, enc := range m.encounters {
		if enc.ProviderID == providerID {
			result = append(result, enc)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) AddStatusHistory(_ context.Context, sh *StatusHistory) error {
	sh.ID = uuid.New()
	m.statusHistory = append(m.statusHistory, sh)
	return nil
}

func (m *mockRepo) GetStatusHistory(_ context.Context, encounterID uuid.UUID) ([]*StatusHistory, error) {
	var result []*StatusHistory
	for _, sh := range m.statusHistory {
		if sh.EncounterID == encounterID {
			result = append(result, sh)
		}
	}
	return result, nil
}

// -- Mock audit recorder --

type mockRecorder struct {
	entries []audit.Entry
}

func (m *mockRecorder) Record(_ context.Context, entry audit.Entry) (*audit.Event, error) {
	m.entries = append(m.entries, entry)
	return &audit.Event{ID: uuid.New()}, nil
}

func (m *mockRecorder) lastAction() string {
	if len(m.entries) == 0 {
		return ""
	}
	return m.entries[len(m.entries)-1].Action
}

func (m *mockRecorder) hasAction(action string) bool {
	for _, e := range m.entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

// -- Helpers --

func newTestService() (*Service, *mockRepo, *mockRecorder) {
	repo := newMockRepo()
	rec := &mockRecorder{}
	return NewService(repo, rec, nil, zerolog.Nop()), repo, rec
}

func completeSnapshot() *validation.Snapshot {
	return &validation.Snapshot{
		SchemaVersion: validation.SnapshotSchemaVersion,
		Incident: validation.IncidentSection{
			EncounterDate:  time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC),
			EncounterType:  "urgent_care",
			ChiefComplaint: "left ankle pain after fall",
			ProviderID:     "prov-17",
		},
		Patient: validation.PatientSection{
			FirstName:   "Jordan",
			LastName:    "Reyes",
			DateOfBirth: "1988-03-02",
		},
		ObjectiveFindings: validation.ObjectiveFindingsSection{
			Vitals:       map[string]string{"bp": "128/82"},
			PhysicalExam: "swelling over lateral malleolus",
		},
		Narrative: validation.NarrativeSection{
			HPI:       "twisted ankle stepping off a curb",
			Narrative: "patient ambulatory with a limp, pain 4/10 at rest",
		},
		Disposition: validation.DispositionSection{
			Disposition: "discharged home",
		},
		Signatures: validation.SignaturesSection{
			ProviderSignature: "sig-ref-0091",
		},
	}
}

// -- Tests --

func TestCreateFromSnapshot(t *testing.T) {
	svc, _, rec := newTestService()

	enc, err := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if enc.Status != StatusInProgress {
		t.Errorf("expected status in_progress, got %s", enc.Status)
	}
	if enc.ChiefComplaint != "left ankle pain after fall" {
		t.Errorf("chief complaint not applied: %q", enc.ChiefComplaint)
	}
	if enc.ProviderID != "prov-17" {
		t.Errorf("provider not applied: %q", enc.ProviderID)
	}
	if !rec.hasAction("encounter.create") {
		t.Error("expected encounter.create audit event")
	}
}

func TestCreateFromSnapshot_BadPatientID(t *testing.T) {
	svc, _, _ := newTestService()

	snap := completeSnapshot()
	snap.Patient.PatientID = "not-a-uuid"
	if _, err := svc.CreateFromSnapshot(context.Background(), "dr-1", snap); err == nil {
		t.Error("expected error for malformed patient_id")
	}
}

func TestUpdateFromSnapshot(t *testing.T) {
	svc, repo, rec := newTestService()

	enc, err := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())
	if err != nil {
		t.Fatal(err)
	}

	snap := completeSnapshot()
	snap.Narrative.Narrative = "updated narrative with significantly more detail"
	updated, err := svc.UpdateFromSnapshot(context.Background(), "dr-1", enc.ID, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Narrative != snap.Narrative.Narrative {
		t.Errorf("narrative not applied: %q", updated.Narrative)
	}

	stored, _ := repo.GetByID(context.Background(), enc.ID)
	if stored.Narrative != snap.Narrative.Narrative {
		t.Error("update not persisted")
	}
	if !rec.hasAction("encounter.update") {
		t.Error("expected encounter.update audit event")
	}
}

func TestUpdateFromSnapshot_LockedRejects(t *testing.T) {
	svc, _, rec := newTestService()

	enc, _ := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())
	if _, err := svc.Lock(context.Background(), "dr-1", enc.ID); err != nil {
		t.Fatal(err)
	}

	_, err := svc.UpdateFromSnapshot(context.Background(), "dr-2", enc.ID, completeSnapshot())
	if !errors.Is(err, ErrLockedForEdits) {
		t.Fatalf("got %v, want ErrLockedForEdits", err)
	}
	if !rec.hasAction("encounter.update.denied") {
		t.Error("expected denied audit event for rejected write")
	}
}

func TestSubmitForReview_Valid(t *testing.T) {
	svc, repo, rec := newTestService()

	enc, _ := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())
	outcome, err := svc.SubmitForReview(context.Background(), "dr-1", enc.ID, completeSnapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success, got errors: %v", outcome.Errors)
	}

	stored, _ := repo.GetByID(context.Background(), enc.ID)
	if stored.Status != StatusPendingReview {
		t.Errorf("status = %s, want pending_review", stored.Status)
	}

	history, _ := repo.GetStatusHistory(context.Background(), enc.ID)
	if len(history) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(history))
	}
	if history[0].Status != StatusInProgress {
		t.Errorf("history records %s, want the state being left (in_progress)", history[0].Status)
	}
	if !rec.hasAction("encounter.submit") {
		t.Error("expected encounter.submit audit event")
	}
}

func TestSubmitForReview_Incomplete(t *testing.T) {
	svc, repo, rec := newTestService()

	enc, _ := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())

	snap := completeSnapshot()
	snap.Signatures.ProviderSignature = ""
	snap.Patient.FirstName = ""

	outcome, err := svc.SubmitForReview(context.Background(), "dr-1", enc.ID, snap)
	if err != nil {
		t.Fatalf("validation failure must not be an error: %v", err)
	}
	if outcome.Success {
		t.Fatal("expected rejection")
	}
	if len(outcome.Errors) != 2 {
		t.Errorf("expected 2 field errors, got %v", outcome.Errors)
	}
	if _, ok := outcome.Errors["providerSignature"]; !ok {
		t.Error("missing providerSignature error")
	}

	// rejected submit leaves the encounter untouched
	stored, _ := repo.GetByID(context.Background(), enc.ID)
	if stored.Status != StatusInProgress {
		t.Errorf("status = %s, want in_progress", stored.Status)
	}
	if rec.hasAction("encounter.submit") {
		t.Error("no submit event expected on rejection")
	}
	if !rec.hasAction("encounter.submit_rejected") {
		t.Error("expected submit_rejected audit event")
	}
}

func TestUpdateStatus(t *testing.T) {
	svc, repo, _ := newTestService()

	enc, _ := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())

	updated, err := svc.UpdateStatus(context.Background(), "dr-1", enc.ID, StatusPendingReview)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusPendingReview {
		t.Errorf("status = %s", updated.Status)
	}

	if _, err := svc.UpdateStatus(context.Background(), "supervisor-1", enc.ID, StatusComplete); err != nil {
		t.Fatalf("complete: %v", err)
	}

	history, _ := repo.GetStatusHistory(context.Background(), enc.ID)
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[1].ChangedBy != "supervisor-1" {
		t.Errorf("changed_by = %s", history[1].ChangedBy)
	}
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	svc, repo, rec := newTestService()

	enc, _ := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())

	_, err := svc.UpdateStatus(context.Background(), "dr-1", enc.ID, StatusComplete)
	if !errors.Is(err, ErrBadTransition) {
		t.Fatalf("got %v, want ErrBadTransition", err)
	}

	// no history row for a rejected transition
	history, _ := repo.GetStatusHistory(context.Background(), enc.ID)
	if len(history) != 0 {
		t.Errorf("expected no history rows, got %d", len(history))
	}
	if !rec.hasAction("encounter.status_change.denied") {
		t.Error("expected denied audit event")
	}
}

func TestLockAndRelockAudit(t *testing.T) {
	svc, _, rec := newTestService()

	enc, _ := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())

	if _, err := svc.Lock(context.Background(), "dr-1", enc.ID); err != nil {
		t.Fatal(err)
	}
	if rec.lastAction() != "encounter.lock" {
		t.Errorf("last action = %s, want encounter.lock", rec.lastAction())
	}

	if _, err := svc.Lock(context.Background(), "dr-1", enc.ID); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("double lock: got %v", err)
	}
	if !rec.hasAction("encounter.lock.denied") {
		t.Error("expected lock.denied audit event")
	}

	if _, err := svc.StartAmendment(context.Background(), "dr-1", enc.ID, "missing vitals"); err != nil {
		t.Fatal(err)
	}
	if rec.lastAction() != "encounter.amend" {
		t.Errorf("last action = %s, want encounter.amend", rec.lastAction())
	}

	if _, err := svc.Lock(context.Background(), "dr-1", enc.ID); err != nil {
		t.Fatalf("relock: %v", err)
	}
	if rec.lastAction() != "encounter.relock" {
		t.Errorf("last action = %s, want encounter.relock", rec.lastAction())
	}
}

func TestStartAmendment_Persisted(t *testing.T) {
	svc, repo, _ := newTestService()

	enc, _ := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())
	svc.Lock(context.Background(), "dr-1", enc.ID)

	if _, err := svc.StartAmendment(context.Background(), "dr-2", enc.ID, "addendum for imaging results"); err != nil {
		t.Fatal(err)
	}

	stored, _ := repo.GetByID(context.Background(), enc.ID)
	if !stored.IsAmended {
		t.Error("IsAmended not persisted")
	}
	if stored.AmendedBy == nil || *stored.AmendedBy != "dr-2" {
		t.Error("AmendedBy not persisted")
	}
	if stored.LockedAt == nil {
		t.Error("amendment must not clear the lock")
	}
}

func TestStartAmendment_BlankReason(t *testing.T) {
	svc, _, _ := newTestService()

	enc, _ := svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())
	svc.Lock(context.Background(), "dr-1", enc.ID)

	if _, err := svc.StartAmendment(context.Background(), "dr-1", enc.ID, ""); !errors.Is(err, ErrBlankReason) {
		t.Errorf("got %v, want ErrBlankReason", err)
	}
}

func TestListEncountersByProvider(t *testing.T) {
	svc, _, _ := newTestService()

	svc.CreateFromSnapshot(context.Background(), "dr-1", completeSnapshot())
	other := completeSnapshot()
	other.Incident.ProviderID = "prov-99"
	svc.CreateFromSnapshot(context.Background(), "dr-1", other)

	items, total, err := svc.ListEncountersByProvider(context.Background(), "prov-17", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected 1 encounter for prov-17, got %d", total)
	}
}

// -- Transaction scoping --

// countingTxRunner executes fn directly while recording each invocation
// and, on failure, rolling the mock repo back to its pre-fn state.
func countingTxRunner(repo *mockRepo, calls *int) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		*calls++
		encounters := make(map[uuid.UUID]*Encounter, len(repo.encounters))
		for id, enc := range repo.encounters {
			cp := *enc
			encounters[id] = &cp
		}
		history := append([]*StatusHistory(nil), repo.statusHistory...)

		if err := fn(ctx); err != nil {
			repo.encounters = encounters
			repo.statusHistory = history
			return err
		}
		return nil
	}
}

func TestSubmitForReview_TransactionScope(t *testing.T) {
	repo := newMockRepo()
	rec := &mockRecorder{}
	var txCalls int
	svc := NewService(repo, rec, countingTxRunner(repo, &txCalls), zerolog.Nop())

	enc := &Encounter{Status: StatusInProgress, ChiefComplaint: "chest pain"}
	repo.Create(context.Background(), enc)

	out, err := svc.SubmitForReview(context.Background(), "dr-1", enc.ID, completeSnapshot())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got %v", out.Errors)
	}
	if txCalls != 1 {
		t.Errorf("tx runner calls = %d, want 1", txCalls)
	}
	if len(repo.statusHistory) != 1 {
		t.Errorf("history rows = %d, want 1", len(repo.statusHistory))
	}
}

func TestUpdateStatus_DeniedAuditSurvivesRollback(t *testing.T) {
	repo := newMockRepo()
	rec := &mockRecorder{}
	var txCalls int
	svc := NewService(repo, rec, countingTxRunner(repo, &txCalls), zerolog.Nop())

	enc := &Encounter{Status: StatusScheduled, ChiefComplaint: "x"}
	repo.Create(context.Background(), enc)

	_, err := svc.UpdateStatus(context.Background(), "dr-1", enc.ID, StatusComplete)
	if err == nil {
		t.Fatal("expected invalid transition to fail")
	}
	if txCalls != 1 {
		t.Errorf("tx runner calls = %d, want 1", txCalls)
	}
	if len(repo.statusHistory) != 0 {
		t.Error("rolled-back transition left a history row")
	}
	if !rec.hasAction("encounter.status_change.denied") {
		t.Error("denial must be audited even though the transaction rolled back")
	}
	if repo.encounters[enc.ID].Status != StatusScheduled {
		t.Errorf("status mutated to %s", repo.encounters[enc.ID].Status)
	}
}
