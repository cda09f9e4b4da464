package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackd/trackd/internal/models"
	"github.com/trackd/trackd/internal/output"
	"github.com/trackd/trackd/internal/store"
	"github.com/trackd/trackd/internal/tracker"
)

var (
	issueTitle    string
	issueDesc     string
	issueStatus   string
	issueAssignee string
	issueLabel    string
	issueSearch   string
	issueUnassign bool
	commentAuthor string
	commentBody   string
	labelNames    []string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage issues",
	Long:  "Create, list, update, and inspect issues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new issue",
	Long:  "Add a new issue. With an API key configured and no --desc, a description is drafted by the LLM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAddRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <issue-id>",
	Short: "Update an issue",
	Long:  "Update an issue. The current version is read first, so a concurrent edit makes this fail with a conflict.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueUpdateRun(args[0])
	},
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <issue-id>...",
	Short: "Close one or more issues",
	Long:  "Close issues in a single transaction, stamping resolved_at on each.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCloseRun(args)
	},
}

var issueCommentCmd = &cobra.Command{
	Use:   "comment <issue-id>",
	Short: "Add a comment to an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCommentRun(args[0])
	},
}

var issueLabelCmd = &cobra.Command{
	Use:   "label <issue-id>",
	Short: "Replace an issue's labels",
	Long:  "Replace the issue's label set with the given names. Missing labels are created.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueLabelRun(args[0])
	},
}

var issueTimelineCmd = &cobra.Command{
	Use:   "timeline <issue-id>",
	Short: "Show an issue's audit history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueTimelineRun(args[0])
	},
}

func init() {
	issueAddCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueAddCmd.Flags().StringVar(&issueDesc, "desc", "", "Issue description")
	issueAddCmd.Flags().StringVar(&issueStatus, "status", "", "Initial status: open, in_progress, closed")
	issueAddCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Assignee user id")
	issueAddCmd.Flags().StringSliceVar(&labelNames, "label", nil, "Label to apply (repeatable)")
	_ = issueAddCmd.MarkFlagRequired("title")

	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: open, in_progress, closed")
	issueListCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Filter by assignee user id")
	issueListCmd.Flags().StringVar(&issueLabel, "label", "", "Filter by label name")
	issueListCmd.Flags().StringVar(&issueSearch, "search", "", "Search title and description")

	issueUpdateCmd.Flags().StringVar(&issueTitle, "title", "", "New title")
	issueUpdateCmd.Flags().StringVar(&issueDesc, "desc", "", "New description")
	issueUpdateCmd.Flags().StringVar(&issueStatus, "status", "", "New status")
	issueUpdateCmd.Flags().StringVar(&issueAssignee, "assignee", "", "New assignee user id")
	issueUpdateCmd.Flags().BoolVar(&issueUnassign, "unassign", false, "Clear the assignee")

	issueCommentCmd.Flags().StringVar(&commentAuthor, "author", "", "Author user id (required)")
	issueCommentCmd.Flags().StringVar(&commentBody, "body", "", "Comment body (required)")
	_ = issueCommentCmd.MarkFlagRequired("author")
	_ = issueCommentCmd.MarkFlagRequired("body")

	issueLabelCmd.Flags().StringSliceVar(&labelNames, "set", nil, "Label name (repeatable, empty set clears all)")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueCloseCmd)
	issueCmd.AddCommand(issueCommentCmd)
	issueCmd.AddCommand(issueLabelCmd)
	issueCmd.AddCommand(issueTimelineCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueAddRun() error {
	svc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would add issue: %s", issueTitle)
		return nil
	}

	issue, err := svc.CreateIssue(ctx, tracker.CreateIssueInput{
		Title:       issueTitle,
		Description: issueDesc,
		Status:      models.IssueStatus(issueStatus),
		AssigneeID:  issueAssignee,
	})
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	if len(labelNames) > 0 {
		if err := svc.ReplaceLabels(ctx, issue.ID, labelNames); err != nil {
			ui.Warning("Issue created but labels failed: %v", err)
		}
	}

	ui.Success("Created issue %s: %s", output.Cyan(shortID(issue.ID)), issue.Title)
	return nil
}

func issueListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issues, err := s.ListIssues(ctx, store.IssueListFilter{
		Status:     models.IssueStatus(issueStatus),
		AssigneeID: issueAssignee,
		Label:      issueLabel,
		Search:     issueSearch,
	})
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Assignee", "Ver", "Created"})
	for _, issue := range issues {
		_ = table.Append([]string{
			shortID(issue.ID),
			issue.Title,
			output.StatusColor(string(issue.Status)),
			shortID(issue.AssigneeID),
			fmt.Sprintf("%d", issue.Version),
			issue.CreatedAt.Format("2006-01-02"),
		})
	}
	_ = table.Render()
	return nil
}

func issueShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(issue.ID)), issue.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "  Version:    %d\n", issue.Version)
	if issue.AssigneeID != "" {
		assignee := issue.AssigneeID
		if u, err := s.GetUser(ctx, issue.AssigneeID); err == nil {
			assignee = u.Name
		}
		fmt.Fprintf(ui.Out, "  Assignee:   %s\n", assignee)
	}
	if issue.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", issue.Description)
	}
	if len(issue.Labels) > 0 {
		fmt.Fprintf(ui.Out, "  Labels:     %s\n", strings.Join(issue.Labels, ", "))
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", issue.CreatedAt.Format(time.RFC3339))
	if issue.ResolvedAt != nil {
		fmt.Fprintf(ui.Out, "  Resolved:   %s\n", issue.ResolvedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", issue.ID)

	return nil
}

func issueUpdateRun(id string) error {
	svc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, svc.Store(), id)
	if err != nil {
		return err
	}

	upd := tracker.IssueUpdate{ClientVersion: issue.Version}
	if issueTitle != "" {
		upd.Title = &issueTitle
	}
	if issueDesc != "" {
		upd.Description = &issueDesc
	}
	if issueStatus != "" {
		st := models.IssueStatus(issueStatus)
		upd.Status = &st
	}
	if issueUnassign {
		empty := ""
		upd.AssigneeID = &empty
	} else if issueAssignee != "" {
		upd.AssigneeID = &issueAssignee
	}

	if upd.Title == nil && upd.Description == nil && upd.Status == nil && upd.AssigneeID == nil {
		return fmt.Errorf("no updates specified (use --title, --desc, --status, --assignee, or --unassign)")
	}

	if dryRun {
		ui.DryRunMsg("Would update issue %s (version %d)", shortID(issue.ID), issue.Version)
		return nil
	}

	updated, err := svc.UpdateIssue(ctx, issue.ID, upd)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}

	ui.Success("Updated issue %s (now version %d)", output.Cyan(shortID(updated.ID)), updated.Version)
	return nil
}

func issueCloseRun(ids []string) error {
	svc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	changes := make([]store.StatusChange, 0, len(ids))
	for _, id := range ids {
		issue, err := findIssue(ctx, svc.Store(), id)
		if err != nil {
			return err
		}
		changes = append(changes, store.StatusChange{IssueID: issue.ID, Status: models.IssueStatusClosed})
	}

	if dryRun {
		ui.DryRunMsg("Would close %d issues", len(changes))
		return nil
	}

	if err := svc.BulkStatus(ctx, changes); err != nil {
		return fmt.Errorf("close issues: %w", err)
	}

	ui.Success("Closed %d issues", len(changes))
	return nil
}

func issueCommentRun(id string) error {
	svc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, svc.Store(), id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would comment on issue %s", shortID(issue.ID))
		return nil
	}

	if _, err := svc.AddComment(ctx, issue.ID, commentAuthor, commentBody); err != nil {
		return fmt.Errorf("add comment: %w", err)
	}

	ui.Success("Commented on issue %s", output.Cyan(shortID(issue.ID)))
	return nil
}

func issueLabelRun(id string) error {
	svc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, svc.Store(), id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would set labels on issue %s: %s", shortID(issue.ID), strings.Join(labelNames, ", "))
		return nil
	}

	if err := svc.ReplaceLabels(ctx, issue.ID, labelNames); err != nil {
		return fmt.Errorf("replace labels: %w", err)
	}

	if len(labelNames) == 0 {
		ui.Success("Cleared labels on issue %s", output.Cyan(shortID(issue.ID)))
	} else {
		ui.Success("Labels on issue %s: %s", output.Cyan(shortID(issue.ID)), strings.Join(labelNames, ", "))
	}
	return nil
}

func issueTimelineRun(id string) error {
	svc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, svc.Store(), id)
	if err != nil {
		return err
	}

	events, err := svc.Timeline(ctx, issue.ID)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		ui.Info("No history for issue %s.", shortID(issue.ID))
		return nil
	}

	table := ui.Table([]string{"When", "Event", "Description"})
	for _, e := range events {
		_ = table.Append([]string{
			e.CreatedAt.Format("2006-01-02 15:04"),
			string(e.EventType),
			e.Description,
		})
	}
	_ = table.Render()
	return nil
}

// findIssue finds an issue by full ID or prefix match.
func findIssue(ctx context.Context, s store.Store, id string) (*models.Issue, error) {
	// Try exact match first
	if issue, err := s.GetIssue(ctx, id); err == nil {
		return issue, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	issues, err := s.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Issue
	for _, issue := range issues {
		if strings.HasPrefix(issue.ID, upper) {
			matches = append(matches, issue)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("issue not found: %s", id)
	case 1:
		// Re-fetch to get labels loaded
		return s.GetIssue(ctx, matches[0].ID)
	default:
		return nil, fmt.Errorf("ambiguous issue ID %s: matches %d issues", id, len(matches))
	}
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
