package localstore

import (
	"time"

	"github.com/fieldchart/fieldchart/internal/validation"
)

// OfflineStatus tracks how far an encounter record has progressed toward
// the server. It only ever advances: draft -> pending_submission -> synced.
type OfflineStatus string

const (
	StatusDraft             OfflineStatus = "draft"
	StatusPendingSubmission OfflineStatus = "pending_submission"
	StatusSynced            OfflineStatus = "synced"
)

// rank orders statuses for the monotonic-advance rule. Unknown statuses
// rank lowest so a corrupted value never blocks progress.
func (s OfflineStatus) rank() int {
	switch s {
	case StatusDraft:
		return 1
	case StatusPendingSubmission:
		return 2
	case StatusSynced:
		return 3
	}
	return 0
}

// AtLeast reports whether s has advanced at least as far as other.
func (s OfflineStatus) AtLeast(other OfflineStatus) bool {
	return s.rank() >= other.rank()
}

// EncounterRecord is the client-local durability ledger for one encounter.
// The client owns it until a server identifier is assigned; after that the
// server record is authoritative for content and the ledger remains the
// retry record for the same content.
type EncounterRecord struct {
	// Key is the identifier the record is stored under: ServerID when
	// assigned, LocalID before that.
	Key             string
	LocalID         string
	ServerID        string
	Snapshot        validation.Snapshot
	OfflineStatus   OfflineStatus
	AttemptedSubmit bool
	SavedAt         time.Time
	SubmittedAt     *time.Time
	ServerSyncedAt  *time.Time
}
