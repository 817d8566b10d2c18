package models

// RoleSet is the immutable role view of an actor, resolved once per request
// and passed through instead of re-querying group membership.
type RoleSet struct {
	Admin      bool
	Instructor bool
}

// Staff reports whether the actor may manage classes and other students'
// enrollments.
func (r RoleSet) Staff() bool {
	return r.Admin || r.Instructor
}

// Privileged accounts are ineligible to be enrolled as students.
func (r RoleSet) Privileged() bool {
	return r.Staff()
}

// ResolveRoles derives the role set from stored account data. An absent or
// unauthenticated user maps to the zero RoleSet.
func ResolveRoles(isSuperuser bool, groups []string) RoleSet {
	set := RoleSet{Admin: isSuperuser}
	for _, g := range groups {
		switch g {
		case GroupAdmin:
			set.Admin = true
		case GroupInstructor:
			set.Instructor = true
		}
	}
	return set
}

// RolesOf resolves the role set for a loaded user record.
func RolesOf(u *User) RoleSet {
	if u == nil {
		return RoleSet{}
	}
	return ResolveRoles(u.IsSuperuser, u.Groups)
}
