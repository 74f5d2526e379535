// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

// # Built-in Roles

// UserRole is one of the fixed, platform-defined roles. Organisation-specific
// roles are modelled separately as custom roles.
type UserRole string

const (
	// Unrestricted access inside the organisation
	RoleAdmin UserRole = "admin"

	// Manages courses, cohorts and staff but not security policy
	RoleManager UserRole = "manager"

	// Delivers course content and grades learners
	RoleTrainer UserRole = "trainer"

	// Default role for enrolled learners
	RoleStudent UserRole = "student"
)

// BuiltInRoles lists every fixed role in descending privilege order.
var BuiltInRoles = []UserRole{RoleAdmin, RoleManager, RoleTrainer, RoleStudent}

// IsBuiltIn reports whether r is one of the fixed roles.
func (r UserRole) IsBuiltIn() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleTrainer, RoleStudent:
		return true
	default:
		return false
	}
}
