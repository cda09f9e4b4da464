package models

import "time"

// IssueStatus represents the state of an issue.
type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusClosed     IssueStatus = "closed"
)

// ValidStatus reports whether s is one of the recognized issue statuses.
func ValidStatus(s IssueStatus) bool {
	switch s {
	case IssueStatusOpen, IssueStatusInProgress, IssueStatusClosed:
		return true
	}
	return false
}

// Issue represents a tracked issue.
//
// Version starts at 1 and increases by exactly 1 on every successful update;
// writers must present the current version or the update is rejected.
// ResolvedAt is set when a bulk status change closes the issue and is never
// cleared, even if the issue is later reopened.
type Issue struct {
	ID          string
	Title       string
	Description string
	Status      IssueStatus
	AssigneeID  string // user id, empty = unassigned
	Version     int
	Labels      []string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}
