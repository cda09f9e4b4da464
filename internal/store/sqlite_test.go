package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackd/trackd/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func makeUser(t *testing.T, s *SQLiteStore, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func makeIssue(t *testing.T, s *SQLiteStore, title string) *models.Issue {
	t.Helper()
	issue := &models.Issue{Title: title}
	require.NoError(t, s.CreateIssue(context.Background(), issue))
	return issue
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- User CRUD ---

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &models.User{Name: "alice", Email: "alice@example.com"}
	err := s.CreateUser(ctx, u)
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name)

	got, err = s.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	err = s.DeleteUser(ctx, u.ID)
	require.NoError(t, err)

	_, err = s.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUser_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	makeUser(t, s, "alice")
	err := s.CreateUser(ctx, &models.User{Name: "alice"})
	assert.Error(t, err)
}

func TestDeleteUser_UnassignsIssues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice")
	issue := &models.Issue{Title: "assigned", AssigneeID: u.ID}
	require.NoError(t, s.CreateIssue(ctx, issue))

	require.NoError(t, s.DeleteUser(ctx, u.ID))

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AssigneeID, "ON DELETE SET NULL should clear the assignee")
}

// --- Issue CRUD ---

func TestIssueCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := &models.Issue{Title: "first issue", Description: "something broke"}
	err := s.CreateIssue(ctx, issue)
	require.NoError(t, err)
	assert.NotEmpty(t, issue.ID)
	assert.Equal(t, 1, issue.Version)
	assert.Equal(t, models.IssueStatusOpen, issue.Status)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "first issue", got.Title)
	assert.Equal(t, 1, got.Version)
	assert.Nil(t, got.ResolvedAt)

	err = s.DeleteIssue(ctx, issue.ID)
	require.NoError(t, err)

	_, err = s.GetIssue(ctx, issue.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListIssues_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice")

	open := &models.Issue{Title: "login broken", Description: "auth fails"}
	require.NoError(t, s.CreateIssue(ctx, open))
	assigned := &models.Issue{Title: "slow dashboard", Status: models.IssueStatusInProgress, AssigneeID: u.ID}
	require.NoError(t, s.CreateIssue(ctx, assigned))

	require.NoError(t, s.ReplaceIssueLabels(ctx, open.ID, []string{"bug"}))

	issues, err := s.ListIssues(ctx, IssueListFilter{Status: models.IssueStatusOpen})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Equal(t, open.ID, issues[0].ID)

	issues, err = s.ListIssues(ctx, IssueListFilter{AssigneeID: u.ID})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Equal(t, assigned.ID, issues[0].ID)

	issues, err = s.ListIssues(ctx, IssueListFilter{Label: "bug"})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Equal(t, open.ID, issues[0].ID)

	issues, err = s.ListIssues(ctx, IssueListFilter{Search: "dashboard"})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Equal(t, assigned.ID, issues[0].ID)

	issues, err = s.ListIssues(ctx, IssueListFilter{Search: "auth"})
	require.NoError(t, err)
	assert.Len(t, issues, 1)

	issues, err = s.ListIssues(ctx, IssueListFilter{})
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

// --- Versioned updates ---

func TestUpdateIssueVersioned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue(t, s, "original")

	issue.Title = "updated"
	err := s.UpdateIssueVersioned(ctx, issue, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, issue.Version)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Title)
	assert.Equal(t, 2, got.Version)
}

func TestUpdateIssueVersioned_StaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue(t, s, "original")

	// First writer wins.
	issue.Title = "writer one"
	require.NoError(t, s.UpdateIssueVersioned(ctx, issue, 1))

	// Second writer still holds version 1 and must be rejected.
	stale := &models.Issue{ID: issue.ID, Title: "writer two", Status: models.IssueStatusOpen}
	err := s.UpdateIssueVersioned(ctx, stale, 1)
	assert.ErrorIs(t, err, ErrConflict)

	// The rejected write must not leave any trace.
	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "writer one", got.Title)
	assert.Equal(t, 2, got.Version)
}

func TestUpdateIssueVersioned_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing := &models.Issue{ID: "01MISSING0000000000000000", Title: "x", Status: models.IssueStatusOpen}
	err := s.UpdateIssueVersioned(ctx, missing, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrConflict)
}

// --- Bulk status ---

func TestBulkSetStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeIssue(t, s, "a")
	b := makeIssue(t, s, "b")

	err := s.BulkSetStatus(ctx, []StatusChange{
		{IssueID: a.ID, Status: models.IssueStatusClosed},
		{IssueID: b.ID, Status: models.IssueStatusInProgress},
	})
	require.NoError(t, err)

	gotA, err := s.GetIssue(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusClosed, gotA.Status)
	assert.NotNil(t, gotA.ResolvedAt, "closing should stamp resolved_at")

	gotB, err := s.GetIssue(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusInProgress, gotB.Status)
	assert.Nil(t, gotB.ResolvedAt)
}

func TestBulkSetStatus_RollbackOnMissingIssue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeIssue(t, s, "a")

	err := s.BulkSetStatus(ctx, []StatusChange{
		{IssueID: a.ID, Status: models.IssueStatusClosed},
		{IssueID: "01MISSING0000000000000000", Status: models.IssueStatusClosed},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	// The first change must have been rolled back with the batch.
	got, err := s.GetIssue(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusOpen, got.Status)
	assert.Nil(t, got.ResolvedAt)
}

func TestBulkSetStatus_ReopenKeepsResolvedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue(t, s, "flaky")

	require.NoError(t, s.BulkSetStatus(ctx, []StatusChange{{IssueID: issue.ID, Status: models.IssueStatusClosed}}))
	closed, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.ResolvedAt)

	require.NoError(t, s.BulkSetStatus(ctx, []StatusChange{{IssueID: issue.ID, Status: models.IssueStatusOpen}}))
	reopened, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusOpen, reopened.Status)
	assert.NotNil(t, reopened.ResolvedAt, "reopening must not clear resolved_at")
	assert.Equal(t, *closed.ResolvedAt, *reopened.ResolvedAt)
}

// --- Labels ---

func TestReplaceIssueLabels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue(t, s, "labeled")

	err := s.ReplaceIssueLabels(ctx, issue.ID, []string{"bug", "urgent"})
	require.NoError(t, err)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bug", "urgent"}, got.Labels)

	// Shrinking the set detaches but does not delete the label entity.
	err = s.ReplaceIssueLabels(ctx, issue.ID, []string{"bug"})
	require.NoError(t, err)

	got, err = s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bug"}, got.Labels)

	labels, err := s.ListLabels(ctx)
	require.NoError(t, err)
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	assert.ElementsMatch(t, []string{"bug", "urgent"}, names, "orphaned label survives")
}

func TestReplaceIssueLabels_ReusesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeIssue(t, s, "a")
	b := makeIssue(t, s, "b")

	require.NoError(t, s.ReplaceIssueLabels(ctx, a.ID, []string{"bug"}))
	require.NoError(t, s.ReplaceIssueLabels(ctx, b.ID, []string{"bug"}))

	labels, err := s.ListLabels(ctx)
	require.NoError(t, err)
	assert.Len(t, labels, 1, "same name should map to one label row")
}

func TestReplaceIssueLabels_MissingIssue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.ReplaceIssueLabels(ctx, "01MISSING0000000000000000", []string{"bug"})
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Comments and history ---

func TestComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := makeUser(t, s, "alice")
	issue := makeIssue(t, s, "discussed")

	c := &models.Comment{IssueID: issue.ID, AuthorID: u.ID, Body: "looking into it"}
	require.NoError(t, s.CreateComment(ctx, c))
	assert.NotEmpty(t, c.ID)

	comments, err := s.ListComments(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "looking into it", comments[0].Body)
}

func TestHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue(t, s, "tracked")

	h := &models.IssueHistory{IssueID: issue.ID, EventType: models.EventCreated, Description: "Issue was created"}
	require.NoError(t, s.CreateHistory(ctx, h))

	entries, err := s.ListHistory(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.EventCreated, entries[0].EventType)
}

func TestHistory_CascadeOnIssueDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue(t, s, "short lived")
	require.NoError(t, s.CreateHistory(ctx, &models.IssueHistory{
		IssueID: issue.ID, EventType: models.EventCreated, Description: "Issue was created",
	}))

	require.NoError(t, s.DeleteIssue(ctx, issue.ID))

	entries, err := s.ListHistory(ctx, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// --- Reports ---

func TestTopAssignees(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := makeUser(t, s, "alice")
	bob := makeUser(t, s, "bob")

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateIssue(ctx, &models.Issue{Title: "for alice", AssigneeID: alice.ID}))
	}
	require.NoError(t, s.CreateIssue(ctx, &models.Issue{Title: "for bob", AssigneeID: bob.ID}))
	require.NoError(t, s.CreateIssue(ctx, &models.Issue{Title: "unassigned"}))

	counts, err := s.TopAssignees(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 2, "unassigned issues are excluded")
	assert.Equal(t, "alice", counts[0].AssigneeName)
	assert.Equal(t, 3, counts[0].TotalIssues)
	assert.Equal(t, "bob", counts[1].AssigneeName)
	assert.Equal(t, 1, counts[1].TotalIssues)
}

func TestAvgResolutionTime_NoneResolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	makeIssue(t, s, "still open")

	avg, err := s.AvgResolutionTime(ctx)
	require.NoError(t, err)
	assert.Nil(t, avg)
}

func TestAvgResolutionTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issue := makeIssue(t, s, "resolved quickly")
	require.NoError(t, s.BulkSetStatus(ctx, []StatusChange{{IssueID: issue.ID, Status: models.IssueStatusClosed}}))

	avg, err := s.AvgResolutionTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.GreaterOrEqual(t, avg.Seconds(), 0.0)
}
