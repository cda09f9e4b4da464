package store

import (
	"context"
	"errors"
	"time"

	"github.com/trackd/trackd/internal/models"
)

// Sentinel errors returned by Store implementations. Callers match with
// errors.Is and map them to transport-level responses.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("version conflict")
)

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	Status      models.IssueStatus
	AssigneeID  string
	Label       string
	Search      string // matches title or description, case-insensitive
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
	Offset      int
}

// StatusChange is one item of a bulk status update.
type StatusChange struct {
	IssueID string
	Status  models.IssueStatus
}

// AssigneeCount is one row of the top-assignees report.
type AssigneeCount struct {
	AssigneeID   string
	AssigneeName string
	TotalIssues  int
}

// Store defines the persistence interface for trackd.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByName(ctx context.Context, name string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	DeleteUser(ctx context.Context, id string) error

	// Issues
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	// UpdateIssueVersioned applies the issue's fields only if clientVersion
	// matches the stored version, incrementing the version by 1 in the same
	// statement. Returns ErrConflict on a stale version, ErrNotFound if the
	// issue does not exist. The issue's Version field is bumped on success.
	UpdateIssueVersioned(ctx context.Context, issue *models.Issue, clientVersion int) error
	DeleteIssue(ctx context.Context, id string) error
	// BulkSetStatus applies all changes in input order inside one
	// transaction. Closing an issue sets resolved_at; reopening leaves it.
	// Any missing issue rolls back the whole batch.
	BulkSetStatus(ctx context.Context, changes []StatusChange) error

	// Labels
	ListLabels(ctx context.Context) ([]*models.Label, error)
	GetIssueLabels(ctx context.Context, issueID string) ([]*models.Label, error)
	// ReplaceIssueLabels removes every label association for the issue and
	// recreates one per name (find-or-create), all in one transaction.
	ReplaceIssueLabels(ctx context.Context, issueID string, names []string) error

	// Comments
	CreateComment(ctx context.Context, c *models.Comment) error
	ListComments(ctx context.Context, issueID string) ([]*models.Comment, error)

	// History
	CreateHistory(ctx context.Context, h *models.IssueHistory) error
	ListHistory(ctx context.Context, issueID string) ([]*models.IssueHistory, error)

	// Reports
	TopAssignees(ctx context.Context) ([]AssigneeCount, error)
	// AvgResolutionTime returns nil when no issue has been resolved.
	AvgResolutionTime(ctx context.Context) (*time.Duration, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
