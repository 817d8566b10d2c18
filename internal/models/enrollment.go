package models

import "time"

// Enrollment is the join entity between a student and a class. Its lifetime
// is bounded by both parents; there is no intermediate state between absent
// and present.
type Enrollment struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student"`
	ClassID   string    `db:"class_id" json:"class_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// EnrollmentView enriches Enrollment with class and student context.
type EnrollmentView struct {
	Enrollment
	ClassTitle      string    `db:"class_title" json:"class_title"`
	ClassStart      time.Time `db:"class_start" json:"class_start_datetime"`
	StudentUsername string    `db:"student_username" json:"student_username"`
}

// RosterEntry is one participant line used by the class roster export.
type RosterEntry struct {
	Username   string    `db:"username"`
	Email      string    `db:"email"`
	FirstName  string    `db:"first_name"`
	LastName   string    `db:"last_name"`
	EnrolledAt time.Time `db:"enrolled_at"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	ClassID   string
	StudentID string
	Page      int
	PageSize  int
}
