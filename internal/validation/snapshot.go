package validation

import "time"

// SnapshotSchemaVersion is the current wire version of the form snapshot.
// Older clients sending a lower version are still accepted; unknown extra
// fields travel in AdditionalClinicalData rather than loose maps.
const SnapshotSchemaVersion = 1

// Snapshot is the full form payload for one encounter, organized by the
// workspace tabs the operator fills in.
type Snapshot struct {
	SchemaVersion          int                       `json:"schema_version"`
	Incident               IncidentSection           `json:"incident"`
	Patient                PatientSection            `json:"patient"`
	ObjectiveFindings      ObjectiveFindingsSection  `json:"objective_findings"`
	Narrative              NarrativeSection          `json:"narrative"`
	Disposition            DispositionSection        `json:"disposition"`
	Signatures             SignaturesSection         `json:"signatures"`
	AdditionalClinicalData map[string]interface{}    `json:"additional_clinical_data,omitempty"`
}

// IncidentSection covers when/where/why the encounter happened and who is
// responsible for it.
type IncidentSection struct {
	EncounterDate  time.Time `json:"encounter_date"`
	EncounterType  string    `json:"encounter_type"`
	Location       string    `json:"location,omitempty"`
	ChiefComplaint string    `json:"chief_complaint"`
	ProviderID     string    `json:"provider_id"`
	ClinicID       string    `json:"clinic_id,omitempty"`
}

// PatientSection carries the demographics captured at the point of care.
type PatientSection struct {
	PatientID   string `json:"patient_id,omitempty"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
	Sex         string `json:"sex,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
}

// ObjectiveFindingsSection holds vitals and exam findings.
type ObjectiveFindingsSection struct {
	Vitals       map[string]string `json:"vitals,omitempty"`
	PhysicalExam string            `json:"physical_exam"`
	ROS          string            `json:"ros,omitempty"`
}

// NarrativeSection holds the free-text clinical story.
type NarrativeSection struct {
	HPI        string `json:"hpi"`
	Narrative  string `json:"narrative"`
	Assessment string `json:"assessment,omitempty"`
	Plan       string `json:"plan,omitempty"`
}

// DispositionSection records the outcome of the encounter and coding.
type DispositionSection struct {
	Disposition string   `json:"disposition"`
	ICDCodes    []string `json:"icd_codes,omitempty"`
	CPTCodes    []string `json:"cpt_codes,omitempty"`
	FollowUp    string   `json:"follow_up,omitempty"`
}

// SignaturesSection records captured signature references.
type SignaturesSection struct {
	ProviderSignature string     `json:"provider_signature"`
	PatientSignature  string     `json:"patient_signature,omitempty"`
	SignedAt          *time.Time `json:"signed_at,omitempty"`
}
