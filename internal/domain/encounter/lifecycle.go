package encounter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldchart/fieldchart/internal/validation"
)

// Sentinel reasons for lifecycle violations. A lifecycle violation is a
// broken workflow invariant, not a transient condition: it is raised
// immediately and never silently ignored.
var (
	ErrAlreadyLocked   = errors.New("encounter is already locked")
	ErrNotLocked       = errors.New("encounter is not locked")
	ErrLockedForEdits  = errors.New("encounter is locked for clinical edits")
	ErrAmendmentOpen   = errors.New("an amendment window is already open")
	ErrBlankReason     = errors.New("amendment reason is required")
	ErrBadTransition   = errors.New("invalid status transition")
	ErrUnknownStatus   = errors.New("unknown status")
)

// ErrChiefComplaintRequired blocks completion of an encounter with no
// chief complaint. It is a validation failure, not a lifecycle violation.
var ErrChiefComplaintRequired = errors.New("chief complaint is required to complete an encounter")

// LifecycleError wraps a sentinel reason with the operation that tripped
// it. Matched with errors.Is against the sentinels above.
type LifecycleError struct {
	Op  string
	Err error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle violation in %s: %v", e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// IsLifecycleViolation reports whether err is (or wraps) a LifecycleError.
func IsLifecycleViolation(err error) bool {
	var le *LifecycleError
	return errors.As(err, &le)
}

func violation(op string, reason error) error {
	return &LifecycleError{Op: op, Err: reason}
}

// statusTransitions is the allowed workflow graph. cancelled and no_show
// are reachable from every pre-complete state; complete, cancelled and
// no_show are terminal. pending_review may return to in_progress when a
// reviewer sends the chart back for correction.
var statusTransitions = map[Status][]Status{
	StatusScheduled:     {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:     {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress:    {StatusPendingReview, StatusCancelled, StatusNoShow},
	StatusPendingReview: {StatusComplete, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusComplete:      {},
	StatusCancelled:     {},
	StatusNoShow:        {},
}

// TransitionStatus moves the encounter to next. Status transitions are
// deliberately unguarded by the clinical lock: workflow state can change
// while the chart content is frozen.
func (e *Encounter) TransitionStatus(next Status) error {
	if !validStatuses[next] {
		return violation("transition", fmt.Errorf("%w: %q", ErrUnknownStatus, next))
	}
	if next == StatusComplete && strings.TrimSpace(e.ChiefComplaint) == "" {
		return ErrChiefComplaintRequired
	}
	for _, allowed := range statusTransitions[e.Status] {
		if allowed == next {
			e.Status = next
			return nil
		}
	}
	return violation("transition", fmt.Errorf("%w: %s -> %s", ErrBadTransition, e.Status, next))
}

// Lock freezes the clinical fields. Locking twice without an intervening
// amendment fails; locking while an amendment window is open closes that
// window (the window is single-use per amendment episode).
func (e *Encounter) Lock(userID string) error {
	if e.Locked() && !e.IsAmended {
		return violation("lock", ErrAlreadyLocked)
	}
	now := time.Now().UTC()
	e.LockedAt = &now
	e.LockedBy = &userID
	e.IsAmended = false
	return nil
}

// StartAmendment opens exactly one additional write window on a locked
// encounter. It does not unlock: LockedAt stays set, and the next Lock
// call closes the window.
func (e *Encounter) StartAmendment(reason, userID string) error {
	if !e.Locked() {
		return violation("amend", ErrNotLocked)
	}
	if strings.TrimSpace(reason) == "" {
		return violation("amend", ErrBlankReason)
	}
	if e.IsAmended {
		return violation("amend", ErrAmendmentOpen)
	}
	now := time.Now().UTC()
	e.IsAmended = true
	e.AmendmentReason = &reason
	e.AmendedAt = &now
	e.AmendedBy = &userID
	return nil
}

// guardClinicalWrite is the single mutation guard every clinical setter
// calls: writes are rejected when the record is locked and no amendment
// window is open.
func (e *Encounter) guardClinicalWrite(field string) error {
	if e.Locked() && !e.IsAmended {
		return violation("set "+field, ErrLockedForEdits)
	}
	return nil
}

func (e *Encounter) SetChiefComplaint(v string) error {
	if err := e.guardClinicalWrite("chief_complaint"); err != nil {
		return err
	}
	e.ChiefComplaint = v
	return nil
}

func (e *Encounter) SetHPI(v string) error {
	if err := e.guardClinicalWrite("hpi"); err != nil {
		return err
	}
	e.HPI = v
	return nil
}

func (e *Encounter) SetROS(v string) error {
	if err := e.guardClinicalWrite("ros"); err != nil {
		return err
	}
	e.ROS = v
	return nil
}

func (e *Encounter) SetPhysicalExam(v string) error {
	if err := e.guardClinicalWrite("physical_exam"); err != nil {
		return err
	}
	e.PhysicalExam = v
	return nil
}

func (e *Encounter) SetNarrative(v string) error {
	if err := e.guardClinicalWrite("narrative"); err != nil {
		return err
	}
	e.Narrative = v
	return nil
}

func (e *Encounter) SetAssessment(v string) error {
	if err := e.guardClinicalWrite("assessment"); err != nil {
		return err
	}
	e.Assessment = v
	return nil
}

func (e *Encounter) SetPlan(v string) error {
	if err := e.guardClinicalWrite("plan"); err != nil {
		return err
	}
	e.Plan = v
	return nil
}

func (e *Encounter) SetDisposition(v string) error {
	if err := e.guardClinicalWrite("disposition"); err != nil {
		return err
	}
	e.Disposition = v
	return nil
}

func (e *Encounter) SetVitals(v map[string]string) error {
	if err := e.guardClinicalWrite("vitals"); err != nil {
		return err
	}
	e.Vitals = v
	return nil
}

func (e *Encounter) SetICDCodes(v []string) error {
	if err := e.guardClinicalWrite("icd_codes"); err != nil {
		return err
	}
	e.ICDCodes = v
	return nil
}

func (e *Encounter) SetCPTCodes(v []string) error {
	if err := e.guardClinicalWrite("cpt_codes"); err != nil {
		return err
	}
	e.CPTCodes = v
	return nil
}

func (e *Encounter) SetEncounterDate(v time.Time) error {
	if err := e.guardClinicalWrite("encounter_date"); err != nil {
		return err
	}
	e.EncounterDate = v
	return nil
}

func (e *Encounter) SetAssignment(providerID string, clinicID *string) error {
	if err := e.guardClinicalWrite("assignment"); err != nil {
		return err
	}
	e.ProviderID = providerID
	e.ClinicID = clinicID
	return nil
}

func (e *Encounter) SetClinicalData(v map[string]interface{}) error {
	if err := e.guardClinicalWrite("clinical_data"); err != nil {
		return err
	}
	e.ClinicalData = v
	return nil
}

// ApplySnapshot writes the full form snapshot into the encounter's
// clinical fields through the mutation guard. The guard is checked once
// up front so a locked record rejects the whole payload atomically.
func (e *Encounter) ApplySnapshot(snap *validation.Snapshot) error {
	if err := e.guardClinicalWrite("snapshot"); err != nil {
		return err
	}

	e.EncounterType = snap.Incident.EncounterType
	e.EncounterDate = snap.Incident.EncounterDate
	e.ChiefComplaint = snap.Incident.ChiefComplaint
	e.ProviderID = snap.Incident.ProviderID
	if snap.Incident.ClinicID != "" {
		clinic := snap.Incident.ClinicID
		e.ClinicID = &clinic
	}
	e.Vitals = snap.ObjectiveFindings.Vitals
	e.PhysicalExam = snap.ObjectiveFindings.PhysicalExam
	e.ROS = snap.ObjectiveFindings.ROS
	e.HPI = snap.Narrative.HPI
	e.Narrative = snap.Narrative.Narrative
	e.Assessment = snap.Narrative.Assessment
	e.Plan = snap.Narrative.Plan
	e.Disposition = snap.Disposition.Disposition
	e.ICDCodes = snap.Disposition.ICDCodes
	e.CPTCodes = snap.Disposition.CPTCodes
	e.ClinicalData = snap.AdditionalClinicalData
	return nil
}
