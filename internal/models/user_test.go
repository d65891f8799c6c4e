package models

import (
	"testing"
)

func TestIsValidRole(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		expected bool
	}{
		{"admin role", RoleAdmin, true},
		{"manager role", RoleManager, true},
		{"technician role", RoleTechnician, true},
		{"viewer role", RoleViewer, true},
		{"invalid role", "operator", false},
		{"empty role", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidRole(tt.role)
			if result != tt.expected {
				t.Errorf("IsValidRole(%s) = %v, want %v", tt.role, result, tt.expected)
			}
		})
	}
}

func TestUser_HasPermission(t *testing.T) {
	admin := &User{Role: RoleAdmin}
	manager := &User{Role: RoleManager}
	technician := &User{Role: RoleTechnician}
	viewer := &User{Role: RoleViewer}

	tests := []struct {
		name     string
		user     *User
		action   string
		expected bool
	}{
		{"admin can manage users", admin, PermManageUsers, true},
		{"admin can cancel work order", admin, PermCancelWorkOrder, true},

		{"manager cannot manage users", manager, PermManageUsers, false},
		{"manager can cancel work order", manager, PermCancelWorkOrder, true},
		{"manager can manage catalog", manager, PermManageCatalog, true},

		{"technician can execute work order", technician, PermExecuteWorkOrder, true},
		{"technician can create work order", technician, PermCreateWorkOrder, true},
		{"technician cannot cancel work order", technician, PermCancelWorkOrder, false},
		{"technician cannot manage catalog", technician, PermManageCatalog, false},

		{"viewer can view work orders", viewer, PermViewWorkOrders, true},
		{"viewer can view assets", viewer, PermViewAssets, true},
		{"viewer cannot execute work order", viewer, PermExecuteWorkOrder, false},
		{"viewer cannot create work order", viewer, PermCreateWorkOrder, false},

		{"unknown role has nothing", &User{Role: "ghost"}, PermViewWorkOrders, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.user.HasPermission(tt.action)
			if result != tt.expected {
				t.Errorf("User with role %s HasPermission(%s) = %v, want %v",
					tt.user.Role, tt.action, result, tt.expected)
			}
		})
	}
}
