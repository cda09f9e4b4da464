package tracker

import (
	"context"
	"log/slog"

	"github.com/trackd/trackd/internal/models"
)

// recordHistory appends one audit entry for an issue. History writes are
// best-effort: the primary mutation has already committed by the time this
// runs, so a failure here is logged and swallowed rather than surfaced.
func (s *Service) recordHistory(ctx context.Context, issueID string, event models.EventType, description string) {
	h := &models.IssueHistory{
		IssueID:     issueID,
		EventType:   event,
		Description: description,
	}
	if err := s.store.CreateHistory(ctx, h); err != nil {
		slog.Warn("failed to record issue history",
			"issue", issueID, "event", string(event), "error", err)
	}
}
