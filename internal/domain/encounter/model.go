package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Status is the authoritative workflow state of an encounter.
type Status string

const (
	StatusScheduled     Status = "scheduled"
	StatusCheckedIn     Status = "checked_in"
	StatusInProgress    Status = "in_progress"
	StatusPendingReview Status = "pending_review"
	StatusComplete      Status = "complete"
	StatusCancelled     Status = "cancelled"
	StatusNoShow        Status = "no_show"
)

// validStatuses lists every status the state machine knows about.
var validStatuses = map[Status]bool{
	StatusScheduled:     true,
	StatusCheckedIn:     true,
	StatusInProgress:    true,
	StatusPendingReview: true,
	StatusComplete:      true,
	StatusCancelled:     true,
	StatusNoShow:        true,
}

// Encounter maps to the encounter table. Clinical fields are guarded by
// the lock/amend rules in lifecycle.go; workflow status is not.
type Encounter struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	ProviderID    string     `db:"provider_id" json:"provider_id"`
	ClinicID      *string    `db:"clinic_id" json:"clinic_id,omitempty"`
	EncounterType string     `db:"encounter_type" json:"encounter_type"`
	EncounterDate time.Time  `db:"encounter_date" json:"encounter_date"`
	Status        Status     `db:"status" json:"status"`

	// Clinical content. Every write funnels through the mutation guard.
	ChiefComplaint string                 `db:"chief_complaint" json:"chief_complaint"`
	HPI            string                 `db:"hpi" json:"hpi"`
	ROS            string                 `db:"ros" json:"ros"`
	PhysicalExam   string                 `db:"physical_exam" json:"physical_exam"`
	Narrative      string                 `db:"narrative" json:"narrative"`
	Assessment     string                 `db:"assessment" json:"assessment"`
	Plan           string                 `db:"plan" json:"plan"`
	Disposition    string                 `db:"disposition" json:"disposition"`
	Vitals         map[string]string      `db:"vitals" json:"vitals,omitempty"`
	ICDCodes       []string               `db:"icd_codes" json:"icd_codes,omitempty"`
	CPTCodes       []string               `db:"cpt_codes" json:"cpt_codes,omitempty"`
	ClinicalData   map[string]interface{} `db:"clinical_data" json:"clinical_data,omitempty"`

	// Lock and amendment state.
	LockedAt        *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	LockedBy        *string    `db:"locked_by" json:"locked_by,omitempty"`
	IsAmended       bool       `db:"is_amended" json:"is_amended"`
	AmendmentReason *string    `db:"amendment_reason" json:"amendment_reason,omitempty"`
	AmendedAt       *time.Time `db:"amended_at" json:"amended_at,omitempty"`
	AmendedBy       *string    `db:"amended_by" json:"amended_by,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Locked reports whether clinical fields are currently frozen.
func (e *Encounter) Locked() bool { return e.LockedAt != nil }

// StatusHistory maps to the encounter_status_history table. One row is
// recorded per status change, preserving the status that ended and who
// moved the encounter off it.
type StatusHistory struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id"`
	Status      Status    `db:"status" json:"status"`
	ChangedBy   string    `db:"changed_by" json:"changed_by"`
	ChangedAt   time.Time `db:"changed_at" json:"changed_at"`
}
