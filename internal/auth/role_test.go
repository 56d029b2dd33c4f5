package auth

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		input  string
		want   Role
		wantOK bool
	}{
		{"FARMER", RoleFarmer, true},
		{"farmer", RoleFarmer, true},
		{"  Technician ", RoleTechnician, true},
		{"technician", RoleTechnician, true},
		{"TECH", RoleTechnician, true},
		{"ROLE_TECHNICIAN", RoleTechnician, true},
		{"admin", RoleAdmin, true},
		{"Administrator", RoleAdmin, true},
		{"ROLE_ADMIN", RoleAdmin, true},
		{"customer", RoleCustomer, true},
		{"client", RoleCustomer, true},
		{"grower", RoleFarmer, true},
		{"", "", false},
		{"TECHNICIAN_LEAD", "", false},
		{"super-admin", "", false},
		{"ADMINS", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseRole(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseRole(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNormalizeRole(t *testing.T) {
	tests := []struct {
		input        string
		want         Role
		wantFellBack bool
	}{
		{"technician", RoleTechnician, false},
		{"CUSTOMER", RoleCustomer, false},
		{"", RoleFarmer, true},
		{"pilot", RoleFarmer, true},
		{"contains-tech-somewhere", RoleFarmer, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, fellBack := NormalizeRole(tt.input)
			if got != tt.want || fellBack != tt.wantFellBack {
				t.Errorf("NormalizeRole(%q) = (%q, %v), want (%q, %v)", tt.input, got, fellBack, tt.want, tt.wantFellBack)
			}
		})
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range AllRoles {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	for _, r := range []Role{"", "admin", "ROLE_ADMIN", "OWNER"} {
		if r.Valid() {
			t.Errorf("%q should not be valid", r)
		}
	}
}

func TestRolesWith(t *testing.T) {
	tests := []struct {
		perm Permission
		want []Role
	}{
		{PermDeviceRead, []Role{RoleFarmer, RoleTechnician, RoleAdmin, RoleCustomer}},
		{PermDeviceWrite, []Role{RoleTechnician, RoleAdmin}},
		{PermDeviceLifecycle, []Role{RoleTechnician, RoleAdmin}},
		{PermDeviceAssign, []Role{RoleAdmin}},
		{PermDeviceDelete, []Role{RoleAdmin}},
		{PermUserManage, []Role{RoleAdmin}},
		{PermAuditRead, []Role{RoleAdmin}},
	}

	for _, tt := range tests {
		t.Run(string(tt.perm), func(t *testing.T) {
			got := RolesWith(tt.perm)
			if len(got) != len(tt.want) {
				t.Fatalf("RolesWith(%s) = %v, want %v", tt.perm, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("RolesWith(%s) = %v, want %v", tt.perm, got, tt.want)
				}
			}
		})
	}
}

func TestHasPermission_UnknownRole(t *testing.T) {
	if HasPermission(Role("OWNER"), PermDeviceRead) {
		t.Error("unknown role should have no permissions")
	}
}

func TestIsCustomerScoped(t *testing.T) {
	if !IsCustomerScoped(RoleCustomer) {
		t.Error("customer reads should be scoped")
	}
	for _, r := range []Role{RoleFarmer, RoleTechnician, RoleAdmin} {
		if IsCustomerScoped(r) {
			t.Errorf("%s should not be customer scoped", r)
		}
	}
}
