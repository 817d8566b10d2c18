package models

import "time"

// Class represents a class session that students enroll in.
type Class struct {
	ID            string    `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	Description   string    `db:"description" json:"description"`
	StartDatetime time.Time `db:"start_datetime" json:"start_datetime"`
	InstructorID  *string   `db:"instructor_id" json:"instructor,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ClassView extends Class with the derived presentation fields: the owning
// instructor's username, the live participant count and whether the
// requesting user holds an enrollment.
type ClassView struct {
	Class
	InstructorUsername *string `db:"instructor_username" json:"instructor_username,omitempty"`
	ParticipantsCount  int     `db:"participants_count" json:"participants_count"`
	Enrolled           bool    `db:"enrolled" json:"enrolled"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	Search   string
	Page     int
	PageSize int
}
