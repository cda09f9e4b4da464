package models

import "time"

// Label represents a named label that can be applied to issues.
// Names are globally unique; labels orphaned by a replacement are kept.
type Label struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
