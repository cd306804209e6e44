// Package validation implements the submission gate for encounter form
// snapshots. Validate is a pure function: the same snapshot always yields
// the same result, so callers can (and must) run it fresh on every submit
// attempt instead of caching results across edits.
package validation

import "strings"

// MinNarrativeLength is the minimum number of characters required in the
// narrative before an encounter may leave the draft state.
const MinNarrativeLength = 20

// Tab identifies one workspace tab in its fixed display order.
type Tab struct {
	ID   string
	Name string
}

// TabOrder is the fixed ordering used to route the operator to the first
// section containing an error.
var TabOrder = []Tab{
	{ID: "incident", Name: "Incident"},
	{ID: "patient", Name: "Patient"},
	{ID: "objectiveFindings", Name: "Objective Findings"},
	{ID: "narrative", Name: "Narrative"},
	{ID: "disposition", Name: "Disposition"},
	{ID: "signatures", Name: "Signatures"},
}

// FieldError describes one blocking problem, with enough addressing
// information for the caller to route the user to the offending section.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	TabID   string `json:"tab_id"`
	TabName string `json:"tab_name"`
	Path    string `json:"path"`
}

// Result is the outcome of validating a snapshot.
type Result struct {
	IsValid              bool         `json:"is_valid"`
	Errors               []FieldError `json:"errors"`
	CompletionPercentage int          `json:"completion_percentage"`
}

// requiredField is one required entry in the gate's checklist.
type requiredField struct {
	tab     Tab
	field   string
	path    string
	message string
	filled  func(s *Snapshot) bool
}

func tabByID(id string) Tab {
	for _, t := range TabOrder {
		if t.ID == id {
			return t
		}
	}
	return Tab{ID: id, Name: id}
}

// requiredFields lists every field that must be complete before an
// encounter may be submitted for review, in tab order.
var requiredFields = []requiredField{
	{tabByID("incident"), "encounterDate", "incident.encounter_date", "encounter date is required",
		func(s *Snapshot) bool { return !s.Incident.EncounterDate.IsZero() }},
	{tabByID("incident"), "encounterType", "incident.encounter_type", "encounter type is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Incident.EncounterType) != "" }},
	{tabByID("incident"), "chiefComplaint", "incident.chief_complaint", "chief complaint is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Incident.ChiefComplaint) != "" }},
	{tabByID("incident"), "providerId", "incident.provider_id", "provider assignment is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Incident.ProviderID) != "" }},
	{tabByID("patient"), "firstName", "patient.first_name", "patient first name is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Patient.FirstName) != "" }},
	{tabByID("patient"), "lastName", "patient.last_name", "patient last name is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Patient.LastName) != "" }},
	{tabByID("patient"), "dateOfBirth", "patient.date_of_birth", "patient date of birth is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Patient.DateOfBirth) != "" }},
	{tabByID("objectiveFindings"), "vitals", "objective_findings.vitals", "at least one vital sign is required",
		func(s *Snapshot) bool { return len(s.ObjectiveFindings.Vitals) > 0 }},
	{tabByID("objectiveFindings"), "physicalExam", "objective_findings.physical_exam", "physical exam is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.ObjectiveFindings.PhysicalExam) != "" }},
	{tabByID("narrative"), "hpi", "narrative.hpi", "history of present illness is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Narrative.HPI) != "" }},
	{tabByID("narrative"), "narrative", "narrative.narrative", "narrative is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Narrative.Narrative) != "" }},
	{tabByID("disposition"), "disposition", "disposition.disposition", "disposition is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Disposition.Disposition) != "" }},
	{tabByID("signatures"), "providerSignature", "signatures.provider_signature", "provider signature is required",
		func(s *Snapshot) bool { return strings.TrimSpace(s.Signatures.ProviderSignature) != "" }},
}

// Validate checks a snapshot against the required-field checklist plus the
// narrative length rule. It is the sole gate between draft and
// pending_review.
func Validate(s *Snapshot) Result {
	var errs []FieldError
	completed := 0

	for _, rf := range requiredFields {
		if rf.filled(s) {
			completed++
			continue
		}
		errs = append(errs, FieldError{
			Field:   rf.field,
			Message: rf.message,
			TabID:   rf.tab.ID,
			TabName: rf.tab.Name,
			Path:    rf.path,
		})
	}

	// Narrative length rule applies only once the field is non-empty;
	// the emptiness case is already reported above.
	if n := strings.TrimSpace(s.Narrative.Narrative); n != "" && len(n) < MinNarrativeLength {
		tab := tabByID("narrative")
		errs = append(errs, FieldError{
			Field:   "narrative",
			Message: "narrative is too short",
			TabID:   tab.ID,
			TabName: tab.Name,
			Path:    "narrative.narrative",
		})
	}

	return Result{
		IsValid:              len(errs) == 0,
		Errors:               errs,
		CompletionPercentage: completed * 100 / len(requiredFields),
	}
}

// FirstInvalidTab returns the earliest tab (in TabOrder) containing at
// least one error, or "" when the snapshot is valid.
func FirstInvalidTab(s *Snapshot) string {
	res := Validate(s)
	if res.IsValid {
		return ""
	}
	for _, tab := range TabOrder {
		for _, e := range res.Errors {
			if e.TabID == tab.ID {
				return tab.ID
			}
		}
	}
	return ""
}

// FirstTabOf returns the earliest tab that owns any of the given errors.
// It is used to route the operator when errors come back from the server
// rather than from a local Validate call.
func FirstTabOf(errs []FieldError) string {
	for _, tab := range TabOrder {
		for _, e := range errs {
			if e.TabID == tab.ID {
				return tab.ID
			}
		}
	}
	if len(errs) > 0 {
		return errs[0].TabID
	}
	return ""
}

// TabForField maps a server-reported field name to the tab that owns it,
// falling back to the narrative tab for unknown fields (free-text problems
// are the common server-side rejection).
func TabForField(field string) Tab {
	for _, rf := range requiredFields {
		if rf.field == field {
			return rf.tab
		}
	}
	return tabByID("narrative")
}

// PathForField returns the checklist path for a known field, so errors
// reported by the server address the form the same way local gate errors
// do. Unknown fields get a path under their fallback tab.
func PathForField(field string) string {
	for _, rf := range requiredFields {
		if rf.field == field {
			return rf.path
		}
	}
	return TabForField(field).ID + "." + field
}
