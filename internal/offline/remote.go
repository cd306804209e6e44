package offline

import (
	"context"

	"github.com/fieldchart/fieldchart/internal/validation"
)

// RemoteAPI is the narrow interface to the encounter server. Every method
// may fail with a network or server error; the reconciler treats those
// identically and never surfaces them as hard failures.
type RemoteAPI interface {
	// CreateEncounter creates a new server record and returns its
	// server-assigned identifier.
	CreateEncounter(ctx context.Context, snap *validation.Snapshot) (string, error)
	// UpdateEncounter replaces the content of an existing server record.
	UpdateEncounter(ctx context.Context, id string, snap *validation.Snapshot) error
	// SubmitForReview asks the server to move the encounter to
	// pending_review. A non-nil result with Success=false carries the
	// server's field-level validation errors; a non-nil error means the
	// request did not complete.
	SubmitForReview(ctx context.Context, id string, snap *validation.Snapshot) (*SubmitResult, error)
}

// SubmitResult is the server's answer to a submit-for-review call.
type SubmitResult struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Connectivity reports whether the device currently has a usable network
// path to the server. It is supplied by the surrounding application's
// network-state collaborator.
type Connectivity interface {
	IsOnline() bool
}

// ConnectivityFunc adapts a plain function to the Connectivity interface.
type ConnectivityFunc func() bool

// IsOnline implements Connectivity.
func (f ConnectivityFunc) IsOnline() bool { return f() }
