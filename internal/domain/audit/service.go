package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log.With().Str("component", "audit").Logger()}
}

// Entry is what callers hand to Record. Severity and Category default to
// info/workflow when blank.
type Entry struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]interface{}
	Severity     string
	Category     string
}

// Record appends one event. Details are PHI-sanitized before they are
// written and the checksum is computed from the final immutable fields.
// Recording failures are surfaced to the caller: a write whose audit
// event cannot be persisted must not be treated as fully succeeded.
func (s *Service) Record(ctx context.Context, entry Entry) (*Event, error) {
	e := &Event{
		ID:           uuid.New(),
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      sanitizeDetails(entry.Details),
		Severity:     entry.Severity,
		Category:     entry.Category,
		CreatedAt:    time.Now().UTC(),
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.Category == "" {
		e.Category = CategoryWorkflow
	}
	e.Checksum = e.ComputeChecksum()

	if err := s.repo.Append(ctx, e); err != nil {
		s.log.Error().Err(err).
			Str("action", e.Action).
			Str("resource_type", e.ResourceType).
			Str("resource_id", e.ResourceID).
			Msg("audit append failed")
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	return e, nil
}

func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) SearchEvents(ctx context.Context, params map[string]string, limit, offset int) ([]*Event, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// Verify recomputes the checksum of a stored event and returns an
// IntegrityError on mismatch.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*Event, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if computed := e.ComputeChecksum(); computed != e.Checksum {
		s.log.Warn().Str("event_id", e.ID.String()).Msg("audit checksum mismatch")
		return e, &IntegrityError{EventID: e.ID, Stored: e.Checksum, Computed: computed}
	}
	return e, nil
}
