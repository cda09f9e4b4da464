package models

import "time"

// User is someone who can be assigned to issues and author comments.
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}
