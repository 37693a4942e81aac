package models

import "strings"

// TeamRole is the closed set of roles a team member can hold.
type TeamRole string

const (
	RoleOwner        TeamRole = "owner"
	RoleManager      TeamRole = "manager"
	RolePractitioner TeamRole = "practitioner"
	RoleNurse        TeamRole = "nurse"
	RoleAdmin        TeamRole = "admin"
	RoleReceptionist TeamRole = "receptionist"
	RoleBilling      TeamRole = "billing"
	RoleMarketing    TeamRole = "marketing"
	RoleCompliance   TeamRole = "compliance"
	RoleGuest        TeamRole = "guest"
)

// Access levels are ordinal; higher grants more.
const (
	AccessLevelOwner        = 100
	AccessLevelManager      = 80
	AccessLevelAdmin        = 70
	AccessLevelCompliance   = 60
	AccessLevelPractitioner = 50
	AccessLevelNurse        = 40
	AccessLevelBilling      = 30
	AccessLevelMarketing    = 30
	AccessLevelReceptionist = 20
	AccessLevelGuest        = 10

	// ManageAccessLevel is the minimum level allowed to manage members and invitations.
	ManageAccessLevel = AccessLevelAdmin
	// MaxAccessLevel bounds explicit access level overrides.
	MaxAccessLevel = AccessLevelOwner
)

// TeamRoles lists every role, highest access first.
func TeamRoles() []TeamRole {
	return []TeamRole{
		RoleOwner, RoleManager, RoleAdmin, RoleCompliance, RolePractitioner,
		RoleNurse, RoleBilling, RoleMarketing, RoleReceptionist, RoleGuest,
	}
}

// TeamRoleNames returns the roles as plain strings for validators.
func TeamRoleNames() []string {
	roles := TeamRoles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return names
}

// ParseTeamRole normalises and validates a role name.
func ParseTeamRole(value string) (TeamRole, bool) {
	role := TeamRole(strings.ToLower(strings.TrimSpace(value)))
	return role, role.Valid()
}

func (r TeamRole) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RolePractitioner, RoleNurse, RoleAdmin,
		RoleReceptionist, RoleBilling, RoleMarketing, RoleCompliance, RoleGuest:
		return true
	default:
		return false
	}
}

// Invitable reports whether an invitation may grant the role. Ownership is
// never transferred through an invitation.
func (r TeamRole) Invitable() bool {
	return r.Valid() && r != RoleOwner
}

// DefaultAccessLevel returns the access level assigned when a member joins with role r.
func (r TeamRole) DefaultAccessLevel() int {
	switch r {
	case RoleOwner:
		return AccessLevelOwner
	case RoleManager:
		return AccessLevelManager
	case RoleAdmin:
		return AccessLevelAdmin
	case RoleCompliance:
		return AccessLevelCompliance
	case RolePractitioner:
		return AccessLevelPractitioner
	case RoleNurse:
		return AccessLevelNurse
	case RoleBilling:
		return AccessLevelBilling
	case RoleMarketing:
		return AccessLevelMarketing
	case RoleReceptionist:
		return AccessLevelReceptionist
	case RoleGuest:
		return AccessLevelGuest
	default:
		return 0
	}
}

// DefaultPermissions returns the permission set granted to a new member with role r.
func (r TeamRole) DefaultPermissions() MemberPermissions {
	p := MemberPermissions{Version: PermissionsSchemaVersion}
	switch r {
	case RoleOwner, RoleManager:
		p.ViewPatientRecords = true
		p.ManageTeam = true
		p.ManageBilling = true
		p.PublishContent = true
		p.ViewAnalytics = true
		p.ManageCompliance = true
	case RoleAdmin:
		p.ManageTeam = true
		p.ManageBilling = true
		p.ViewAnalytics = true
	case RoleCompliance:
		p.ViewPatientRecords = true
		p.ViewAnalytics = true
		p.ManageCompliance = true
	case RolePractitioner, RoleNurse:
		p.ViewPatientRecords = true
	case RoleBilling:
		p.ManageBilling = true
	case RoleMarketing:
		p.PublishContent = true
		p.ViewAnalytics = true
	case RoleReceptionist, RoleGuest:
	}
	return p
}
