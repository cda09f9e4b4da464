package models

import "time"

// Comment is a user comment on an issue. Comments are cascade-deleted with
// their issue.
type Comment struct {
	ID        string
	IssueID   string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}
