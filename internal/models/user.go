package models

import "time"

// User represents a parent account. Only the contact details needed to alert
// parents about conflicts are kept here.
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
