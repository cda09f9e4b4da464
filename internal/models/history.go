package models

import "time"

// EventType identifies the kind of change an IssueHistory entry records.
type EventType string

const (
	EventCreated         EventType = "created"
	EventStatusChanged   EventType = "status_changed"
	EventAssigneeChanged EventType = "assignee_changed"
	EventCommentAdded    EventType = "comment_added"
	EventLabelsUpdated   EventType = "labels_updated"
)

// IssueHistory is one immutable audit entry for an issue. Entries are only
// ever appended; they are removed solely by cascade when the issue goes away.
type IssueHistory struct {
	ID          string
	IssueID     string
	EventType   EventType
	Description string
	CreatedAt   time.Time
}
