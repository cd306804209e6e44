package offline

import "github.com/fieldchart/fieldchart/internal/validation"

// OutcomeKind discriminates what actually happened to a save or submit,
// so callers branch on an explicit result instead of nested error checks.
type OutcomeKind int

const (
	// OutcomeOK means the operation reached the server: the record is
	// saved remotely (save) or accepted for review (submit).
	OutcomeOK OutcomeKind = iota
	// OutcomeSavedLocallyOnly means the durable local write succeeded but
	// the server was unreachable or rejected the call transiently; the
	// save will be retried later.
	OutcomeSavedLocallyOnly
	// OutcomeQueued means a submission is durably queued locally and will
	// be re-attempted when connectivity returns.
	OutcomeQueued
	// OutcomeValidationRejected means the submission was blocked by the
	// validation gate (locally or server-side). No data was lost; the
	// operator must correct the listed fields and resubmit.
	OutcomeValidationRejected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeSavedLocallyOnly:
		return "saved_locally"
	case OutcomeQueued:
		return "queued"
	case OutcomeValidationRejected:
		return "validation_rejected"
	}
	return "unknown"
}

// Outcome is the result of one reconciler operation.
type Outcome struct {
	Kind OutcomeKind
	// Key is the identifier the record is now stored under locally. After
	// the first successful remote create this is the server id.
	Key string
	// ServerID is the server-assigned identifier, when known.
	ServerID string
	// Message is a short operator-facing notice ("saved locally, will
	// sync later", "queued for submission", ...).
	Message string
	// Errors and FirstInvalidTab are set when Kind is
	// OutcomeValidationRejected, in the same shape whether the rejection
	// came from the local gate or the server.
	Errors          []validation.FieldError
	FirstInvalidTab string
}
