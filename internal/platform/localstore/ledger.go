package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Get when no record exists under the key.
	ErrNotFound = errors.New("localstore: record not found")
	// ErrServerIDChange is returned when a write would reassign an
	// already-set server identifier.
	ErrServerIDChange = errors.New("localstore: server id is immutable once assigned")
)

const recordCols = `key, local_id, server_id, snapshot, offline_status,
	attempted_submit, saved_at, submitted_at, server_synced_at`

// Put writes the record under rec.Key in a single transaction. The write
// is last-writer-wins on the snapshot, but two ledger invariants are
// enforced here rather than trusted to callers:
//
//   - offline_status never regresses: a write carrying an earlier status
//     keeps the stored status
//   - server_id is set once and never reassigned
func (s *Store) Put(rec *EncounterRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("localstore: record key is empty")
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var prevStatus OfflineStatus
	var prevServerID string
	err = tx.QueryRow(
		`SELECT offline_status, server_id FROM encounter_record WHERE key = ?`, rec.Key,
	).Scan(&prevStatus, &prevServerID)
	switch {
	case err == sql.ErrNoRows:
		// First write under this key.
	case err != nil:
		return fmt.Errorf("read previous record: %w", err)
	default:
		if !rec.OfflineStatus.AtLeast(prevStatus) {
			rec.OfflineStatus = prevStatus
		}
		if prevServerID != "" {
			if rec.ServerID == "" {
				rec.ServerID = prevServerID
			} else if rec.ServerID != prevServerID {
				return ErrServerIDChange
			}
		}
	}

	snap, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO encounter_record (`+recordCols+`)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET
			local_id = excluded.local_id,
			server_id = excluded.server_id,
			snapshot = excluded.snapshot,
			offline_status = excluded.offline_status,
			attempted_submit = excluded.attempted_submit,
			saved_at = excluded.saved_at,
			submitted_at = excluded.submitted_at,
			server_synced_at = excluded.server_synced_at`,
		rec.Key, rec.LocalID, rec.ServerID, string(snap), string(rec.OfflineStatus),
		boolToInt(rec.AttemptedSubmit), formatTime(rec.SavedAt),
		formatTimePtr(rec.SubmittedAt), formatTimePtr(rec.ServerSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	return tx.Commit()
}

// Get returns the last record written under key, or ErrNotFound.
func (s *Store) Get(key string) (*EncounterRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+recordCols+` FROM encounter_record WHERE key = ?`, key)
	return scanRecord(row)
}

// Promote rewrites the record stored under oldKey to newKey with the
// assigned server identifier. It is idempotent: if oldKey is already gone
// and newKey exists, promotion has already happened and Promote returns
// the promoted record.
func (s *Store) Promote(oldKey, newKey, serverID string) (*EncounterRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRow(
		`SELECT `+recordCols+` FROM encounter_record WHERE key = ?`, oldKey))
	if errors.Is(err, ErrNotFound) {
		// Already promoted?
		rec, err = scanRecord(tx.QueryRow(
			`SELECT `+recordCols+` FROM encounter_record WHERE key = ?`, newKey))
		if err != nil {
			return nil, err
		}
		return rec, tx.Commit()
	}
	if err != nil {
		return nil, err
	}
	if rec.ServerID != "" && rec.ServerID != serverID {
		return nil, ErrServerIDChange
	}

	rec.Key = newKey
	rec.ServerID = serverID

	snap, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO encounter_record (`+recordCols+`)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET
			local_id = excluded.local_id,
			server_id = excluded.server_id,
			snapshot = excluded.snapshot,
			offline_status = excluded.offline_status,
			attempted_submit = excluded.attempted_submit,
			saved_at = excluded.saved_at,
			submitted_at = excluded.submitted_at,
			server_synced_at = excluded.server_synced_at`,
		rec.Key, rec.LocalID, rec.ServerID, string(snap), string(rec.OfflineStatus),
		boolToInt(rec.AttemptedSubmit), formatTime(rec.SavedAt),
		formatTimePtr(rec.SubmittedAt), formatTimePtr(rec.ServerSyncedAt),
	); err != nil {
		return nil, fmt.Errorf("write promoted record: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM encounter_record WHERE key = ?`, oldKey); err != nil {
		return nil, fmt.Errorf("remove old key: %w", err)
	}

	return rec, tx.Commit()
}

// ListPending returns records awaiting submission, oldest first.
func (s *Store) ListPending() ([]*EncounterRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+recordCols+` FROM encounter_record
		 WHERE offline_status = ? ORDER BY saved_at`, string(StatusPendingSubmission))
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []*EncounterRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PendingCount reports how many records are queued for submission. The
// connectivity indicator surfaces this next to the online/offline state.
func (s *Store) PendingCount() (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM encounter_record WHERE offline_status = ?`,
		string(StatusPendingSubmission)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*EncounterRecord, error) {
	var rec EncounterRecord
	var snap, status, savedAt string
	var submittedAt, syncedAt sql.NullString
	var attempted int

	err := row.Scan(&rec.Key, &rec.LocalID, &rec.ServerID, &snap, &status,
		&attempted, &savedAt, &submittedAt, &syncedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	if err := json.Unmarshal([]byte(snap), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	rec.OfflineStatus = OfflineStatus(status)
	rec.AttemptedSubmit = attempted != 0

	if rec.SavedAt, err = parseTime(savedAt); err != nil {
		return nil, fmt.Errorf("parse saved_at: %w", err)
	}
	if rec.SubmittedAt, err = parseTimePtr(submittedAt); err != nil {
		return nil, fmt.Errorf("parse submitted_at: %w", err)
	}
	if rec.ServerSyncedAt, err = parseTimePtr(syncedAt); err != nil {
		return nil, fmt.Errorf("parse server_synced_at: %w", err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
