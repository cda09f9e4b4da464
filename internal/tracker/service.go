package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/trackd/trackd/internal/llm"
	"github.com/trackd/trackd/internal/models"
	"github.com/trackd/trackd/internal/store"
)

// drafter generates issue descriptions. Satisfied by *llm.Client.
type drafter interface {
	DraftDescription(ctx context.Context, title string) (string, error)
}

// Service implements the issue-tracking operations shared by the HTTP API,
// the CLI, and the MCP server. All mutations go through here so the audit
// history stays consistent across transports.
type Service struct {
	store store.Store
	llm   drafter // optional; nil disables enrichment
}

// NewService creates a Service. llmClient may be nil if no API key is
// configured.
func NewService(s store.Store, llmClient *llm.Client) *Service {
	svc := &Service{store: s}
	if llmClient != nil {
		svc.llm = llmClient
	}
	return svc
}

// Store exposes the underlying store for read-only queries.
func (s *Service) Store() store.Store {
	return s.store
}

// CreateIssueInput holds the fields accepted when creating an issue.
type CreateIssueInput struct {
	Title       string
	Description string
	Status      models.IssueStatus
	AssigneeID  string
}

// CreateIssue validates the input, persists a new issue (version 1, status
// defaulting to open) and records a "created" history entry.
func (s *Service) CreateIssue(ctx context.Context, in CreateIssueInput) (*models.Issue, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Status == "" {
		in.Status = models.IssueStatusOpen
	}
	if !models.ValidStatus(in.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}
	if in.AssigneeID != "" {
		if _, err := s.store.GetUser(ctx, in.AssigneeID); err != nil {
			return nil, fmt.Errorf("%w: assignee %s does not exist", ErrInvalidInput, in.AssigneeID)
		}
	}

	issue := &models.Issue{
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		AssigneeID:  in.AssigneeID,
	}

	// Best-effort enrichment: draft a description when none was supplied.
	if s.llm != nil && issue.Description == "" {
		if desc, err := s.llm.DraftDescription(ctx, issue.Title); err == nil {
			issue.Description = desc
		}
	}

	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}

	s.recordHistory(ctx, issue.ID, models.EventCreated, "Issue was created")
	return issue, nil
}

// IssueUpdate holds a partial update. Nil fields are left unchanged; a
// pointer to the empty string clears the assignee.
type IssueUpdate struct {
	Title         *string
	Description   *string
	Status        *models.IssueStatus
	AssigneeID    *string
	ClientVersion int
}

// UpdateIssue applies an optimistic-concurrency partial update. The update
// succeeds only if ClientVersion matches the stored version; otherwise
// store.ErrConflict is returned and nothing changes. Version increases by
// exactly 1 on success, and one history entry is recorded for each of
// status and assignee that actually changed.
//
// Note the single-item path never touches resolved_at; only the bulk path
// sets it when closing.
func (s *Service) UpdateIssue(ctx context.Context, id string, upd IssueUpdate) (*models.Issue, error) {
	issue, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Status != nil && !models.ValidStatus(*upd.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *upd.Status)
	}
	if upd.AssigneeID != nil && *upd.AssigneeID != "" {
		if _, err := s.store.GetUser(ctx, *upd.AssigneeID); err != nil {
			return nil, fmt.Errorf("%w: assignee %s does not exist", ErrInvalidInput, *upd.AssigneeID)
		}
	}

	oldStatus := issue.Status
	oldAssignee := issue.AssigneeID

	if upd.Title != nil {
		if strings.TrimSpace(*upd.Title) == "" {
			return nil, fmt.Errorf("%w: title cannot be blank", ErrInvalidInput)
		}
		issue.Title = *upd.Title
	}
	if upd.Description != nil {
		issue.Description = *upd.Description
	}
	if upd.Status != nil {
		issue.Status = *upd.Status
	}
	if upd.AssigneeID != nil {
		issue.AssigneeID = *upd.AssigneeID
	}

	if err := s.store.UpdateIssueVersioned(ctx, issue, upd.ClientVersion); err != nil {
		return nil, err
	}

	if oldStatus != issue.Status {
		s.recordHistory(ctx, issue.ID, models.EventStatusChanged,
			fmt.Sprintf("Status changed from %s to %s", oldStatus, issue.Status))
	}
	if oldAssignee != issue.AssigneeID {
		s.recordHistory(ctx, issue.ID, models.EventAssigneeChanged, "Assignee changed")
	}

	return issue, nil
}

// AddComment persists a comment on an issue and records a "comment_added"
// history entry. Blank bodies are rejected.
func (s *Service) AddComment(ctx context.Context, issueID, authorID, body string) (*models.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: comment body cannot be empty", ErrInvalidInput)
	}
	if _, err := s.store.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, authorID); err != nil {
		return nil, fmt.Errorf("%w: author %s does not exist", ErrInvalidInput, authorID)
	}

	c := &models.Comment{
		IssueID:  issueID,
		AuthorID: authorID,
		Body:     body,
	}
	if err := s.store.CreateComment(ctx, c); err != nil {
		return nil, err
	}

	s.recordHistory(ctx, issueID, models.EventCommentAdded, "Comment added")
	return c, nil
}

// ReplaceLabels swaps the issue's full label set for the given names in one
// transaction, then records a "labels_updated" history entry. The history
// write happens after the transaction commits, so a history failure never
// undoes the label change.
func (s *Service) ReplaceLabels(ctx context.Context, issueID string, names []string) error {
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: label names cannot be blank", ErrInvalidInput)
		}
	}
	if err := s.store.ReplaceIssueLabels(ctx, issueID, names); err != nil {
		return err
	}
	s.recordHistory(ctx, issueID, models.EventLabelsUpdated, "Labels updated")
	return nil
}

// BulkStatus validates every change upfront, reporting all invalid items at
// once, then applies the batch all-or-nothing. A missing issue id rolls the
// whole batch back. The bulk path records no history.
func (s *Service) BulkStatus(ctx context.Context, changes []store.StatusChange) error {
	var invalid []ItemError
	for i, ch := range changes {
		if ch.IssueID == "" {
			invalid = append(invalid, ItemError{Index: i, Message: "issue_id is required"})
		}
		if !models.ValidStatus(ch.Status) {
			invalid = append(invalid, ItemError{Index: i, Message: fmt.Sprintf("unknown status %q", ch.Status)})
		}
	}
	if len(invalid) > 0 {
		return &BulkValidationError{Items: invalid}
	}

	return s.store.BulkSetStatus(ctx, changes)
}

// Timeline returns the issue's audit history in created_at ascending order.
func (s *Service) Timeline(ctx context.Context, issueID string) ([]*models.IssueHistory, error) {
	if _, err := s.store.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, issueID)
}
