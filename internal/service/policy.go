package service

import "github.com/noah-isme/class-enroll-api/internal/models"

// Authorization decision table. Every rule is a pure function over the
// actor's resolved role set so the policy can be tested in isolation.

// CanManageClasses allows creating, updating and deleting classes. Any
// instructor may edit any class; there is no per-owner restriction.
func CanManageClasses(r models.RoleSet) bool {
	return r.Staff()
}

// CanEnrollOthers allows creating an enrollment on behalf of another account.
func CanEnrollOthers(r models.RoleSet) bool {
	return r.Staff()
}

// CanCancelAnyEnrollment allows cancelling an enrollment the actor does not own.
func CanCancelAnyEnrollment(r models.RoleSet) bool {
	return r.Staff()
}

// CanSeeAllEnrollments widens enrollment listings beyond the actor's own rows.
func CanSeeAllEnrollments(r models.RoleSet) bool {
	return r.Staff()
}

// CanBeEnrolled reports whether an account is eligible to be enrolled as a
// student. Privileged accounts are not.
func CanBeEnrolled(target models.RoleSet) bool {
	return !target.Privileged()
}
