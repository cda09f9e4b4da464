package tracker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackd/trackd/internal/models"
	"github.com/trackd/trackd/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	return NewService(s, nil)
}

func makeUser(t *testing.T, svc *Service, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com"}
	require.NoError(t, svc.Store().CreateUser(context.Background(), u))
	return u
}

func TestCreateIssue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issue, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "broken login"})
	require.NoError(t, err)
	assert.Equal(t, 1, issue.Version)
	assert.Equal(t, models.IssueStatusOpen, issue.Status)

	// Creation writes a single history entry.
	events, err := svc.Timeline(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCreated, events[0].EventType)
	assert.Equal(t, "Issue was created", events[0].Description)
}

func TestCreateIssue_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateIssue(ctx, CreateIssueInput{Title: "x", Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateIssue(ctx, CreateIssueInput{Title: "x", AssigneeID: "01MISSING0000000000000000"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateIssue_VersionIncrements(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issue, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "v1"})
	require.NoError(t, err)

	title := "v2"
	updated, err := svc.UpdateIssue(ctx, issue.ID, IssueUpdate{Title: &title, ClientVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	title = "v3"
	updated, err = svc.UpdateIssue(ctx, issue.ID, IssueUpdate{Title: &title, ClientVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
}

func TestUpdateIssue_StaleVersionConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issue, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "contested"})
	require.NoError(t, err)

	first := "first writer"
	_, err = svc.UpdateIssue(ctx, issue.ID, IssueUpdate{Title: &first, ClientVersion: 1})
	require.NoError(t, err)

	second := "second writer"
	_, err = svc.UpdateIssue(ctx, issue.ID, IssueUpdate{Title: &second, ClientVersion: 1})
	assert.ErrorIs(t, err, store.ErrConflict)

	// The losing write left no trace.
	got, err := svc.Store().GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "first writer", got.Title)
	assert.Equal(t, 2, got.Version)
}

func TestUpdateIssue_HistoryPerChangedField(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	alice := makeUser(t, svc, "alice")

	issue, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "watched"})
	require.NoError(t, err)

	// Title-only update: no status/assignee history.
	title := "renamed"
	_, err = svc.UpdateIssue(ctx, issue.ID, IssueUpdate{Title: &title, ClientVersion: 1})
	require.NoError(t, err)

	events, err := svc.Timeline(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "only the creation entry so far")

	// Status and assignee both change: two new entries.
	st := models.IssueStatusInProgress
	_, err = svc.UpdateIssue(ctx, issue.ID, IssueUpdate{Status: &st, AssigneeID: &alice.ID, ClientVersion: 2})
	require.NoError(t, err)

	events, err = svc.Timeline(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventStatusChanged, events[1].EventType)
	assert.Equal(t, "Status changed from open to in_progress", events[1].Description)
	assert.Equal(t, models.EventAssigneeChanged, events[2].EventType)
	assert.Equal(t, "Assignee changed", events[2].Description)

	// Setting the same status again records nothing.
	_, err = svc.UpdateIssue(ctx, issue.ID, IssueUpdate{Status: &st, ClientVersion: 3})
	require.NoError(t, err)

	events, err = svc.Timeline(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestUpdateIssue_ClearAssignee(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	alice := makeUser(t, svc, "alice")

	issue, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "assigned", AssigneeID: alice.ID})
	require.NoError(t, err)

	empty := ""
	updated, err := svc.UpdateIssue(ctx, issue.ID, IssueUpdate{AssigneeID: &empty, ClientVersion: 1})
	require.NoError(t, err)
	assert.Empty(t, updated.AssigneeID)
}

func TestAddComment(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	alice := makeUser(t, svc, "alice")
	issue, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "discussed"})
	require.NoError(t, err)

	c, err := svc.AddComment(ctx, issue.ID, alice.ID, "on it")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	events, err := svc.Timeline(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventCommentAdded, events[1].EventType)
}

func TestAddComment_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	alice := makeUser(t, svc, "alice")
	issue, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "discussed"})
	require.NoError(t, err)

	_, err = svc.AddComment(ctx, issue.ID, alice.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.AddComment(ctx, "01MISSING0000000000000000", alice.ID, "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.AddComment(ctx, issue.ID, "01MISSING0000000000000000", "hello")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReplaceLabels(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issue, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "labeled"})
	require.NoError(t, err)

	require.NoError(t, svc.ReplaceLabels(ctx, issue.ID, []string{"bug", "urgent"}))
	require.NoError(t, svc.ReplaceLabels(ctx, issue.ID, []string{"bug"}))

	got, err := svc.Store().GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bug"}, got.Labels)

	// Detached labels survive as entities.
	labels, err := svc.Store().ListLabels(ctx)
	require.NoError(t, err)
	assert.Len(t, labels, 2)

	err = svc.ReplaceLabels(ctx, issue.ID, []string{" "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBulkStatus_CollectsAllInvalidItems(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	err := svc.BulkStatus(ctx, []store.StatusChange{
		{IssueID: "", Status: models.IssueStatusClosed},
		{IssueID: "01OK00000000000000000000", Status: "bogus"},
	})
	require.Error(t, err)

	var bve *BulkValidationError
	require.ErrorAs(t, err, &bve)
	assert.ErrorIs(t, err, ErrInvalidInput)
	require.Len(t, bve.Items, 2)
	assert.Equal(t, 0, bve.Items[0].Index)
	assert.Equal(t, 1, bve.Items[1].Index)
}

func TestBulkStatus_RollbackAndNoHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "a"})
	require.NoError(t, err)
	b, err := svc.CreateIssue(ctx, CreateIssueInput{Title: "b"})
	require.NoError(t, err)

	// One missing id fails the whole batch.
	err = svc.BulkStatus(ctx, []store.StatusChange{
		{IssueID: a.ID, Status: models.IssueStatusClosed},
		{IssueID: "01MISSING0000000000000000", Status: models.IssueStatusClosed},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := svc.Store().GetIssue(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusOpen, got.Status)

	// A valid batch succeeds but records no history entries.
	err = svc.BulkStatus(ctx, []store.StatusChange{
		{IssueID: a.ID, Status: models.IssueStatusClosed},
		{IssueID: b.ID, Status: models.IssueStatusClosed},
	})
	require.NoError(t, err)

	events, err := svc.Timeline(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "only the creation entry; bulk writes no history")
}
