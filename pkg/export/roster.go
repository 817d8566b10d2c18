package export

import "time"

// RosterRow is a single participant line in a class roster.
type RosterRow struct {
	Username   string
	Email      string
	FullName   string
	EnrolledAt time.Time
}

// Roster is the exportable participant list for one class.
type Roster struct {
	ClassTitle string
	StartsAt   time.Time
	Rows       []RosterRow
}

var rosterHeaders = []string{"username", "email", "full_name", "enrolled_at"}

func (r RosterRow) values() []string {
	return []string{
		r.Username,
		r.Email,
		r.FullName,
		r.EnrolledAt.UTC().Format(time.RFC3339),
	}
}
