package localstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldchart/fieldchart/internal/validation"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldchart.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testRecord(key string) *EncounterRecord {
	return &EncounterRecord{
		Key:     key,
		LocalID: key,
		Snapshot: validation.Snapshot{
			SchemaVersion: validation.SnapshotSchemaVersion,
			Incident: validation.IncidentSection{
				EncounterDate:  time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC),
				EncounterType:  "urgent_care",
				ChiefComplaint: "ankle pain",
				ProviderID:     "prov-17",
			},
			Narrative: validation.NarrativeSection{
				Narrative: "patient ambulatory with a limp",
			},
		},
		OfflineStatus: StatusDraft,
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	s, _ := newTestStore(t)

	rec := testRecord("local-1")
	require.NoError(t, s.Put(rec))

	got, err := s.Get("local-1")
	require.NoError(t, err)
	assert.Equal(t, "local-1", got.Key)
	assert.Equal(t, StatusDraft, got.OfflineStatus)
	assert.Equal(t, "ankle pain", got.Snapshot.Incident.ChiefComplaint)
	assert.False(t, got.SavedAt.IsZero())
	assert.Nil(t, got.SubmittedAt)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPut_EmptyKey(t *testing.T) {
	s, _ := newTestStore(t)

	rec := testRecord("")
	assert.Error(t, s.Put(rec))
}

func TestPut_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldchart.db")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Put(testRecord("local-1")))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("local-1")
	require.NoError(t, err)
	assert.Equal(t, "ankle pain", got.Snapshot.Incident.ChiefComplaint)
}

func TestPut_StatusNeverRegresses(t *testing.T) {
	s, _ := newTestStore(t)

	rec := testRecord("local-1")
	rec.OfflineStatus = StatusSynced
	require.NoError(t, s.Put(rec))

	// a later write carrying an earlier status keeps the stored status
	again := testRecord("local-1")
	again.OfflineStatus = StatusDraft
	again.Snapshot.Narrative.Narrative = "edited after sync"
	require.NoError(t, s.Put(again))

	got, err := s.Get("local-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, got.OfflineStatus)
	assert.Equal(t, "edited after sync", got.Snapshot.Narrative.Narrative, "snapshot is last-writer-wins")
}

func TestPut_StatusAdvances(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(testRecord("local-1")))

	rec := testRecord("local-1")
	rec.OfflineStatus = StatusPendingSubmission
	require.NoError(t, s.Put(rec))

	got, err := s.Get("local-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingSubmission, got.OfflineStatus)
}

func TestPut_ServerIDImmutable(t *testing.T) {
	s, _ := newTestStore(t)

	rec := testRecord("local-1")
	rec.ServerID = "srv-100"
	require.NoError(t, s.Put(rec))

	// omitting the server id keeps the stored one
	again := testRecord("local-1")
	require.NoError(t, s.Put(again))
	got, err := s.Get("local-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-100", got.ServerID)

	// reassigning it is rejected
	conflicting := testRecord("local-1")
	conflicting.ServerID = "srv-200"
	assert.ErrorIs(t, s.Put(conflicting), ErrServerIDChange)
}

func TestPromote(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(testRecord("local-1")))

	rec, err := s.Promote("local-1", "srv-100", "srv-100")
	require.NoError(t, err)
	assert.Equal(t, "srv-100", rec.Key)
	assert.Equal(t, "srv-100", rec.ServerID)
	assert.Equal(t, "local-1", rec.LocalID)

	_, err = s.Get("local-1")
	assert.ErrorIs(t, err, ErrNotFound, "old key removed")

	got, err := s.Get("srv-100")
	require.NoError(t, err)
	assert.Equal(t, "ankle pain", got.Snapshot.Incident.ChiefComplaint)
}

func TestPromote_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(testRecord("local-1")))

	_, err := s.Promote("local-1", "srv-100", "srv-100")
	require.NoError(t, err)

	// a retry after the first promotion already succeeded
	rec, err := s.Promote("local-1", "srv-100", "srv-100")
	require.NoError(t, err)
	assert.Equal(t, "srv-100", rec.Key)
}

func TestPromote_ConflictingServerID(t *testing.T) {
	s, _ := newTestStore(t)

	rec := testRecord("local-1")
	rec.ServerID = "srv-100"
	require.NoError(t, s.Put(rec))

	_, err := s.Promote("local-1", "srv-200", "srv-200")
	assert.ErrorIs(t, err, ErrServerIDChange)
}

func TestListPendingAndCount(t *testing.T) {
	s, _ := newTestStore(t)

	a := testRecord("local-a")
	a.OfflineStatus = StatusPendingSubmission
	a.SavedAt = time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(a))

	b := testRecord("local-b")
	b.OfflineStatus = StatusPendingSubmission
	b.SavedAt = time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(b))

	require.NoError(t, s.Put(testRecord("local-c"))) // draft, not pending

	pending, err := s.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "local-b", pending[0].Key, "oldest first")
	assert.Equal(t, "local-a", pending[1].Key)

	n, err := s.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOfflineStatusAtLeast(t *testing.T) {
	assert.True(t, StatusSynced.AtLeast(StatusDraft))
	assert.True(t, StatusSynced.AtLeast(StatusSynced))
	assert.False(t, StatusDraft.AtLeast(StatusPendingSubmission))
	assert.True(t, StatusDraft.AtLeast(OfflineStatus("garbage")), "unknown status ranks lowest")
}
