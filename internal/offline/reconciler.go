// Package offline implements the client-side write-then-sync protocol.
// Every save or submit durably persists to the local store first; the
// network attempt that follows is best-effort and its failure is reported
// as a status, never as data loss.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldchart/fieldchart/internal/platform/localstore"
	"github.com/fieldchart/fieldchart/internal/validation"
)

// ErrSubmitInFlight is returned when a submit is attempted while another
// submit for the same reconciler is still outstanding. The backend has no
// idempotency key, so this guard is the sole defense against duplicate
// submissions from double-clicks.
var ErrSubmitInFlight = errors.New("offline: a submission is already in flight")

// Reconciler orchestrates durable-write-then-sync for encounter records.
type Reconciler struct {
	store  *localstore.Store
	remote RemoteAPI
	net    Connectivity
	log    zerolog.Logger

	submitInFlight atomic.Bool
}

// NewReconciler wires a reconciler over the durable store, the remote
// encounter API and the connectivity signal.
func NewReconciler(store *localstore.Store, remote RemoteAPI, net Connectivity, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, remote: remote, net: net, log: log}
}

// NewLocalID generates a client-assigned draft identifier, stable for the
// lifetime of the draft until the server assigns a real one.
func NewLocalID() string {
	return "local-" + uuid.NewString()
}

// Save durably persists the snapshot locally and then, when online,
// pushes it to the server, promoting the local key to the server id on
// the first successful create. Network and server failures are downgraded
// to OutcomeSavedLocallyOnly; only a local durability failure returns an
// error.
func (r *Reconciler) Save(ctx context.Context, rec *localstore.EncounterRecord) (*Outcome, error) {
	r.normalize(rec)
	if !rec.OfflineStatus.AtLeast(localstore.StatusDraft) {
		rec.OfflineStatus = localstore.StatusDraft
	}
	rec.SavedAt = time.Now().UTC()

	if err := r.store.Put(rec); err != nil {
		return nil, fmt.Errorf("durable write: %w", err)
	}

	if !r.net.IsOnline() {
		r.log.Debug().Str("key", rec.Key).Msg("offline, saved locally")
		return &Outcome{Kind: OutcomeSavedLocallyOnly, Key: rec.Key, ServerID: rec.ServerID,
			Message: "saved locally"}, nil
	}

	if rec.ServerID == "" {
		return r.createAndPromote(ctx, rec, "saved")
	}

	if err := r.remote.UpdateEncounter(ctx, rec.ServerID, &rec.Snapshot); err != nil {
		r.log.Warn().Err(err).Str("key", rec.Key).Msg("remote update failed, saved locally")
		return &Outcome{Kind: OutcomeSavedLocallyOnly, Key: rec.Key, ServerID: rec.ServerID,
			Message: "saved locally, will retry"}, nil
	}

	return &Outcome{Kind: OutcomeOK, Key: rec.Key, ServerID: rec.ServerID, Message: "saved"}, nil
}

// Submit runs the validation gate, durably queues the record, and then
// attempts create (when needed) plus submit-for-review on the server.
// The gate rejection path is the only one that can refuse user input, and
// it refuses before any write. All network-side failures leave the record
// queued for a later retry.
func (r *Reconciler) Submit(ctx context.Context, rec *localstore.EncounterRecord) (*Outcome, error) {
	if !r.submitInFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmitInFlight
	}
	defer r.submitInFlight.Store(false)

	r.normalize(rec)

	// Gate first: invalid input never reaches the ledger as a submission.
	res := validation.Validate(&rec.Snapshot)
	if !res.IsValid {
		return &Outcome{
			Kind:            OutcomeValidationRejected,
			Key:             rec.Key,
			ServerID:        rec.ServerID,
			Message:         "submission blocked by validation",
			Errors:          res.Errors,
			FirstInvalidTab: validation.FirstTabOf(res.Errors),
		}, nil
	}

	now := time.Now().UTC()
	rec.OfflineStatus = localstore.StatusPendingSubmission
	rec.AttemptedSubmit = true
	rec.SavedAt = now
	rec.SubmittedAt = &now

	if err := r.store.Put(rec); err != nil {
		return nil, fmt.Errorf("durable write: %w", err)
	}

	if !r.net.IsOnline() {
		r.log.Info().Str("key", rec.Key).Msg("offline, submission queued")
		return &Outcome{Kind: OutcomeQueued, Key: rec.Key, ServerID: rec.ServerID,
			Message: "queued for submission"}, nil
	}

	// Submission needs an addressable server record.
	if rec.ServerID == "" {
		out, err := r.createAndPromote(ctx, rec, "")
		if err != nil {
			return nil, err
		}
		if out.Kind != OutcomeOK {
			out.Kind = OutcomeQueued
			out.Message = "queued for submission"
			return out, nil
		}
	}

	sr, err := r.remote.SubmitForReview(ctx, rec.ServerID, &rec.Snapshot)
	if err != nil {
		r.log.Warn().Err(err).Str("key", rec.Key).Msg("remote submit failed, queued")
		return &Outcome{Kind: OutcomeQueued, Key: rec.Key, ServerID: rec.ServerID,
			Message: "queued for submission"}, nil
	}

	if !sr.Success {
		errs := mapServerErrors(sr.Errors)
		return &Outcome{
			Kind:            OutcomeValidationRejected,
			Key:             rec.Key,
			ServerID:        rec.ServerID,
			Message:         sr.Message,
			Errors:          errs,
			FirstInvalidTab: validation.FirstTabOf(errs),
		}, nil
	}

	synced := time.Now().UTC()
	rec.OfflineStatus = localstore.StatusSynced
	rec.ServerSyncedAt = &synced
	if err := r.store.Put(rec); err != nil {
		return nil, fmt.Errorf("durable write after sync: %w", err)
	}

	r.log.Info().Str("key", rec.Key).Str("server_id", rec.ServerID).Msg("encounter submitted")
	return &Outcome{Kind: OutcomeOK, Key: rec.Key, ServerID: rec.ServerID,
		Message: "submitted for review"}, nil
}

// PendingCount reports how many records are queued for submission, for
// display next to the connectivity indicator.
func (r *Reconciler) PendingCount() (int, error) {
	return r.store.PendingCount()
}

// createAndPromote attempts the first remote create for a record and, on
// success, rewrites the local key from the local id to the server id.
// Promotion happens exactly once: all later writes address the server id.
func (r *Reconciler) createAndPromote(ctx context.Context, rec *localstore.EncounterRecord, okMessage string) (*Outcome, error) {
	serverID, err := r.remote.CreateEncounter(ctx, &rec.Snapshot)
	if err != nil {
		r.log.Warn().Err(err).Str("key", rec.Key).Msg("remote create failed, saved locally")
		return &Outcome{Kind: OutcomeSavedLocallyOnly, Key: rec.Key,
			Message: "saved locally, will retry"}, nil
	}

	promoted, err := r.store.Promote(rec.Key, serverID, serverID)
	if err != nil {
		return nil, fmt.Errorf("promote local key: %w", err)
	}
	rec.Key = promoted.Key
	rec.ServerID = promoted.ServerID

	r.log.Info().Str("local_id", rec.LocalID).Str("server_id", serverID).Msg("local record promoted")
	return &Outcome{Kind: OutcomeOK, Key: rec.Key, ServerID: rec.ServerID, Message: okMessage}, nil
}

// normalize fills identifiers so the record is addressable: a fresh draft
// gets a local id, and the storage key is the server id once assigned.
func (r *Reconciler) normalize(rec *localstore.EncounterRecord) {
	if rec.LocalID == "" {
		rec.LocalID = NewLocalID()
	}
	if rec.ServerID != "" {
		rec.Key = rec.ServerID
	} else if rec.Key == "" {
		rec.Key = rec.LocalID
	}
}

func mapServerErrors(errs map[string]string) []validation.FieldError {
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := make([]validation.FieldError, 0, len(errs))
	for _, field := range fields {
		tab := validation.TabForField(field)
		out = append(out, validation.FieldError{
			Field:   field,
			Message: errs[field],
			TabID:   tab.ID,
			TabName: tab.Name,
			Path:    validation.PathForField(field),
		})
	}
	return out
}
