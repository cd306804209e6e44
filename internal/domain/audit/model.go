package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Categories group events for search.
const (
	CategoryClinical = "clinical"
	CategoryWorkflow = "workflow"
	CategorySecurity = "security"
)

// Event is one append-only audit record. Events are created once per
// state-changing call and never updated or deleted; the checksum is
// derived purely from the immutable identity fields so tampering with
// Details after write time is detectable.
type Event struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	UserID       string                 `db:"user_id" json:"user_id"`
	Action       string                 `db:"action" json:"action"`
	ResourceType string                 `db:"resource_type" json:"resource_type"`
	ResourceID   string                 `db:"resource_id" json:"resource_id"`
	Details      map[string]interface{} `db:"details" json:"details,omitempty"`
	Severity     string                 `db:"severity" json:"severity"`
	Category     string                 `db:"category" json:"category"`
	Checksum     string                 `db:"checksum" json:"checksum"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}

// ComputeChecksum derives the integrity checksum from the event's
// immutable fields: eventId|userId|action|resourceType|resourceId|createdAt.
func (e *Event) ComputeChecksum() string {
	payload := strings.Join([]string{
		e.ID.String(),
		e.UserID,
		e.Action,
		e.ResourceType,
		e.ResourceID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// IntegrityError reports a checksum mismatch found during verification.
// Mismatches are reported, never auto-corrected.
type IntegrityError struct {
	EventID  uuid.UUID
	Stored   string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit event %s failed integrity check", e.EventID)
}

// IsIntegrityFailure reports whether err is (or wraps) an IntegrityError.
func IsIntegrityFailure(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
