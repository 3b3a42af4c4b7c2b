// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package contracts

// Roles
const (
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleAccountant = "accountant"
)

// ValidRole reports whether role is one of the known roles
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleAccountant:
		return true
	}
	return false
}

// CanEditContracts reports whether role may create, update or delete contracts
func CanEditContracts(role string) bool {
	return role == RoleAdmin || role == RoleManager
}

// CanManageUsers reports whether role may manage users and restore contracts
func CanManageUsers(role string) bool {
	return role == RoleAdmin
}
