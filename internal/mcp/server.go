package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/trackd/trackd/internal/models"
	"github.com/trackd/trackd/internal/store"
	"github.com/trackd/trackd/internal/tracker"
)

// Server wraps the trackd data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	tracker *tracker.Service
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, svc *tracker.Service) *Server {
	return &Server{store: s, tracker: svc}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("trackd", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.updateIssueTool())
	srv.AddTool(s.addCommentTool())
	srv.AddTool(s.bulkStatusTool())
	srv.AddTool(s.topAssigneesTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type issueOut struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	AssigneeID  string   `json:"assignee_id,omitempty"`
	Version     int      `json:"version"`
	Labels      []string `json:"labels,omitempty"`
}

func toIssueOut(i *models.Issue) issueOut {
	return issueOut{
		ID:          i.ID,
		Title:       i.Title,
		Description: i.Description,
		Status:      string(i.Status),
		AssigneeID:  i.AssigneeID,
		Version:     i.Version,
		Labels:      i.Labels,
	}
}

// trackd_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_list_issues",
		mcp.WithDescription("List issues. Returns a JSON array with id, title, status, assignee, version, and labels."),
		mcp.WithString("status", mcp.Description("Filter by status: open, in_progress, closed")),
		mcp.WithString("label", mcp.Description("Filter by label name")),
		mcp.WithString("search", mcp.Description("Free-text search over title and description")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.IssueListFilter{
		Status: models.IssueStatus(request.GetString("status", "")),
		Label:  request.GetString("label", ""),
		Search: request.GetString("search", ""),
	}
	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	out := make([]issueOut, len(issues))
	for i, issue := range issues {
		out[i] = toIssueOut(issue)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issues: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// trackd_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_create_issue",
		mcp.WithDescription("Create a new issue. Returns the created issue as JSON."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title")),
		mcp.WithString("description", mcp.Description("Issue description")),
		mcp.WithString("status", mcp.Description("Initial status (default: open)")),
		mcp.WithString("assignee_id", mcp.Description("User id to assign the issue to")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	issue, err := s.tracker.CreateIssue(ctx, tracker.CreateIssueInput{
		Title:       title,
		Description: request.GetString("description", ""),
		Status:      models.IssueStatus(request.GetString("status", "")),
		AssigneeID:  request.GetString("assignee_id", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}

	data, _ := json.Marshal(toIssueOut(issue))
	return mcp.NewToolResultText(string(data)), nil
}

// trackd_update_issue
func (s *Server) updateIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_update_issue",
		mcp.WithDescription("Update an issue with optimistic concurrency. client_version must match the issue's current version or the update is rejected with a conflict."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithNumber("client_version", mcp.Required(), mcp.Description("The version the caller last read")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Description("New status: open, in_progress, closed")),
		mcp.WithString("assignee_id", mcp.Description("New assignee user id (empty string clears)")),
	)
	return tool, s.handleUpdateIssue
}

func (s *Server) handleUpdateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	clientVersion, err := request.RequireInt("client_version")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: client_version"), nil
	}

	upd := tracker.IssueUpdate{ClientVersion: clientVersion}
	args := request.GetArguments()
	if v, ok := args["title"].(string); ok {
		upd.Title = &v
	}
	if v, ok := args["description"].(string); ok {
		upd.Description = &v
	}
	if v, ok := args["status"].(string); ok {
		st := models.IssueStatus(v)
		upd.Status = &st
	}
	if v, ok := args["assignee_id"].(string); ok {
		upd.AssigneeID = &v
	}

	issue, err := s.tracker.UpdateIssue(ctx, id, upd)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update issue: %v", err)), nil
	}

	data, _ := json.Marshal(toIssueOut(issue))
	return mcp.NewToolResultText(string(data)), nil
}

// trackd_add_comment
func (s *Server) addCommentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_add_comment",
		mcp.WithDescription("Add a comment to an issue. The body must not be blank."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue id")),
		mcp.WithString("author_id", mcp.Required(), mcp.Description("User id of the comment author")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Comment text")),
	)
	return tool, s.handleAddComment
}

func (s *Server) handleAddComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	authorID, err := request.RequireString("author_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: author_id"), nil
	}
	body, err := request.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: body"), nil
	}

	comment, err := s.tracker.AddComment(ctx, issueID, authorID, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add comment: %v", err)), nil
	}

	data, _ := json.Marshal(map[string]string{
		"id":       comment.ID,
		"issue_id": comment.IssueID,
		"body":     comment.Body,
	})
	return mcp.NewToolResultText(string(data)), nil
}

// trackd_bulk_status
func (s *Server) bulkStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_bulk_status",
		mcp.WithDescription(`Apply many status changes in one transaction (all-or-nothing). Pass items as a JSON array string: [{"issue_id":"...","status":"closed"}, ...]`),
		mcp.WithString("items", mcp.Required(), mcp.Description("JSON array of {issue_id, status} objects")),
	)
	return tool, s.handleBulkStatus
}

func (s *Server) handleBulkStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("items")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: items"), nil
	}

	var items []struct {
		IssueID string `json:"issue_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("items must be a JSON array: %v", err)), nil
	}

	changes := make([]store.StatusChange, len(items))
	for i, item := range items {
		changes[i] = store.StatusChange{
			IssueID: item.IssueID,
			Status:  models.IssueStatus(item.Status),
		}
	}

	if err := s.tracker.BulkStatus(ctx, changes); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("bulk status failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"updated":%d}`, len(changes))), nil
}

// trackd_top_assignees
func (s *Server) topAssigneesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackd_top_assignees",
		mcp.WithDescription("Report: issue counts grouped by assignee, most-loaded first. Unassigned issues are excluded."),
	)
	return tool, s.handleTopAssignees
}

func (s *Server) handleTopAssignees(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.store.TopAssignees(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build report: %v", err)), nil
	}

	type row struct {
		AssigneeID   string `json:"assignee_id"`
		AssigneeName string `json:"assignee_name"`
		TotalIssues  int    `json:"total_issues"`
	}
	out := make([]row, len(counts))
	for i, c := range counts {
		out[i] = row{AssigneeID: c.AssigneeID, AssigneeName: c.AssigneeName, TotalIssues: c.TotalIssues}
	}
	data, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(data)), nil
}
