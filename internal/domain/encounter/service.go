package encounter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldchart/fieldchart/internal/domain/audit"
	"github.com/fieldchart/fieldchart/internal/validation"
)

// Recorder is the slice of the audit service this package needs.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) (*audit.Event, error)
}

// TxRunner runs fn atomically; the repositories route their queries
// through the transaction carried on fn's context. A nil runner executes
// fn directly.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	repo  Repository
	audit Recorder
	tx    TxRunner
	log   zerolog.Logger
}

func NewService(repo Repository, rec Recorder, tx TxRunner, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		audit: rec,
		tx:    tx,
		log:   log.With().Str("component", "encounter").Logger(),
	}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx(ctx, fn)
}

// SubmitOutcome is the verdict of a submit-for-review attempt. A failed
// validation is a normal outcome, not an error.
type SubmitOutcome struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// CreateFromSnapshot creates an encounter from a client form snapshot.
// Documentation arrives with the chart already being written, so new
// encounters start in_progress rather than scheduled.
func (s *Service) CreateFromSnapshot(ctx context.Context, actor string, snap *validation.Snapshot) (*Encounter, error) {
	enc := &Encounter{
		ID:     uuid.New(),
		Status: StatusInProgress,
	}
	if snap.Patient.PatientID != "" {
		pid, err := uuid.Parse(snap.Patient.PatientID)
		if err != nil {
			return nil, fmt.Errorf("invalid patient_id: %w", err)
		}
		enc.PatientID = &pid
	}
	if err := enc.ApplySnapshot(snap); err != nil {
		return nil, err
	}
	if enc.EncounterDate.IsZero() {
		enc.EncounterDate = time.Now().UTC()
	}
	if err := s.repo.Create(ctx, enc); err != nil {
		return nil, fmt.Errorf("create encounter: %w", err)
	}

	s.record(ctx, actor, "encounter.create", enc.ID, audit.CategoryClinical, nil)
	s.log.Info().Str("encounter_id", enc.ID.String()).Msg("encounter created")
	return enc, nil
}

// UpdateFromSnapshot replaces the clinical content of an existing
// encounter with a newer form snapshot. The write is rejected as a whole
// when the record is locked with no open amendment window.
func (s *Service) UpdateFromSnapshot(ctx context.Context, actor string, id uuid.UUID, snap *validation.Snapshot) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("encounter not found: %w", err)
	}
	if err := enc.ApplySnapshot(snap); err != nil {
		s.recordDenied(ctx, actor, "encounter.update", id, err)
		return nil, err
	}
	if err := s.repo.Update(ctx, enc); err != nil {
		return nil, fmt.Errorf("update encounter: %w", err)
	}

	s.record(ctx, actor, "encounter.update", id, audit.CategoryClinical, nil)
	return enc, nil
}

// SubmitForReview validates the snapshot against the completion gate and,
// when valid, moves the encounter to pending_review. Validation failures
// come back as a SubmitOutcome with per-field errors; the encounter is
// not modified in that case.
func (s *Service) SubmitForReview(ctx context.Context, actor string, id uuid.UUID, snap *validation.Snapshot) (*SubmitOutcome, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("encounter not found: %w", err)
	}

	result := validation.Validate(snap)
	if !result.IsValid {
		errs := make(map[string]string, len(result.Errors))
		for _, fe := range result.Errors {
			errs[fe.Field] = fe.Message
		}
		s.record(ctx, actor, "encounter.submit_rejected", id, audit.CategoryWorkflow, map[string]interface{}{
			"error_count": len(errs),
			"first_tab":   validation.FirstTabOf(result.Errors),
		})
		return &SubmitOutcome{
			Success: false,
			Message: "encounter is incomplete",
			Errors:  errs,
		}, nil
	}

	if err := enc.ApplySnapshot(snap); err != nil {
		s.recordDenied(ctx, actor, "encounter.submit", id, err)
		return nil, err
	}
	// The status transition, its history row and the content update land
	// in one transaction so a failure cannot leave them out of step.
	err = s.inTx(ctx, func(txCtx context.Context) error {
		if enc.Status != StatusPendingReview {
			if err := s.transition(txCtx, actor, enc, StatusPendingReview); err != nil {
				return err
			}
		}
		if err := s.repo.Update(txCtx, enc); err != nil {
			return fmt.Errorf("update encounter: %w", err)
		}
		return nil
	})
	if err != nil {
		// Denials are audited outside the transaction so the rollback
		// cannot erase them.
		if IsLifecycleViolation(err) {
			s.recordDenied(ctx, actor, "encounter.status_change", id, err)
		}
		return nil, err
	}

	s.record(ctx, actor, "encounter.submit", id, audit.CategoryWorkflow, nil)
	s.log.Info().Str("encounter_id", id.String()).Msg("encounter submitted for review")
	return &SubmitOutcome{Success: true, Message: "submitted for review"}, nil
}

// UpdateStatus moves the encounter through the workflow graph and records
// one status-history row for the state being left.
func (s *Service) UpdateStatus(ctx context.Context, actor string, id uuid.UUID, next Status) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("encounter not found: %w", err)
	}
	err = s.inTx(ctx, func(txCtx context.Context) error {
		if err := s.transition(txCtx, actor, enc, next); err != nil {
			return err
		}
		if err := s.repo.Update(txCtx, enc); err != nil {
			return fmt.Errorf("update encounter: %w", err)
		}
		return nil
	})
	if err != nil {
		if IsLifecycleViolation(err) {
			s.recordDenied(ctx, actor, "encounter.status_change", id, err)
		}
		return nil, err
	}

	s.record(ctx, actor, "encounter.status_change", id, audit.CategoryWorkflow, map[string]interface{}{
		"new_status": string(next),
	})
	return enc, nil
}

func (s *Service) transition(ctx context.Context, actor string, enc *Encounter, next Status) error {
	prev := enc.Status
	if err := enc.TransitionStatus(next); err != nil {
		return err
	}
	sh := &StatusHistory{
		EncounterID: enc.ID,
		Status:      prev,
		ChangedBy:   actor,
		ChangedAt:   time.Now().UTC(),
	}
	if err := s.repo.AddStatusHistory(ctx, sh); err != nil {
		return fmt.Errorf("add status history: %w", err)
	}
	return nil
}

// Lock freezes the chart. Relocking after an amendment closes the
// amendment window.
func (s *Service) Lock(ctx context.Context, actor string, id uuid.UUID) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("encounter not found: %w", err)
	}
	wasAmended := enc.IsAmended
	if err := enc.Lock(actor); err != nil {
		s.recordDenied(ctx, actor, "encounter.lock", id, err)
		return nil, err
	}
	if err := s.repo.Update(ctx, enc); err != nil {
		return nil, fmt.Errorf("update encounter: %w", err)
	}

	action := "encounter.lock"
	if wasAmended {
		action = "encounter.relock"
	}
	s.record(ctx, actor, action, id, audit.CategoryClinical, nil)
	return enc, nil
}

// StartAmendment opens a single correction window on a locked encounter.
func (s *Service) StartAmendment(ctx context.Context, actor string, id uuid.UUID, reason string) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("encounter not found: %w", err)
	}
	if err := enc.StartAmendment(reason, actor); err != nil {
		s.recordDenied(ctx, actor, "encounter.amend", id, err)
		return nil, err
	}
	if err := s.repo.Update(ctx, enc); err != nil {
		return nil, fmt.Errorf("update encounter: %w", err)
	}

	s.record(ctx, actor, "encounter.amend", id, audit.CategoryClinical, map[string]interface{}{
		"reason": reason,
	})
	return enc, nil
}

func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListEncounters(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListEncountersByProvider(ctx context.Context, providerID string, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByProvider(ctx, providerID, limit, offset)
}

func (s *Service) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error) {
	return s.repo.GetStatusHistory(ctx, id)
}

func (s *Service) record(ctx context.Context, actor, action string, id uuid.UUID, category string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(ctx, audit.Entry{
		UserID:       actor,
		Action:       action,
		ResourceType: "encounter",
		ResourceID:   id.String(),
		Details:      details,
		Category:     category,
	}); err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("audit record failed")
	}
}

// recordDenied writes a security event when a lifecycle guard rejects a
// mutation. The denial itself is part of the trail.
func (s *Service) recordDenied(ctx context.Context, actor, action string, id uuid.UUID, cause error) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(ctx, audit.Entry{
		UserID:       actor,
		Action:       action + ".denied",
		ResourceType: "encounter",
		ResourceID:   id.String(),
		Details:      map[string]interface{}{"reason": cause.Error()},
		Severity:     audit.SeverityWarning,
		Category:     audit.CategorySecurity,
	}); err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("audit record failed")
	}
}
