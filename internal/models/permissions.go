package models

// PermissionsSchemaVersion is the current MemberPermissions layout.
const PermissionsSchemaVersion = 1

// ComplianceSchemaVersion is the current ComplianceSettings layout.
const ComplianceSchemaVersion = 1

// MemberPermissions is the versioned permission document stored per team member.
// Keys the current schema does not know about are kept in Extra and written back
// unchanged.
type MemberPermissions struct {
	Version            int            `json:"version"`
	ViewPatientRecords bool           `json:"view_patient_records"`
	ManageTeam         bool           `json:"manage_team"`
	ManageBilling      bool           `json:"manage_billing"`
	PublishContent     bool           `json:"publish_content"`
	ViewAnalytics      bool           `json:"view_analytics"`
	ManageCompliance   bool           `json:"manage_compliance"`
	Extra              map[string]any `json:"-"`
}

func (p MemberPermissions) MarshalJSON() ([]byte, error) {
	type plain MemberPermissions
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *MemberPermissions) UnmarshalJSON(data []byte) error {
	type plain MemberPermissions
	var decoded plain
	extra, err := unmarshalWithExtra(data, &decoded)
	if err != nil {
		return err
	}
	*p = MemberPermissions(decoded)
	p.Extra = extra
	return nil
}

// ComplianceSettings is the versioned per-team compliance policy.
type ComplianceSettings struct {
	Version                         int            `json:"version"`
	RequireMFA                      bool           `json:"require_mfa"`
	MFARequiredRoles                []TeamRole     `json:"mfa_required_roles,omitempty"`
	RequireProfessionalVerification bool           `json:"require_professional_verification"`
	RequireBackgroundCheck          bool           `json:"require_background_check"`
	Extra                           map[string]any `json:"-"`
}

func (c ComplianceSettings) MarshalJSON() ([]byte, error) {
	type plain ComplianceSettings
	return marshalWithExtra(plain(c), c.Extra)
}

func (c *ComplianceSettings) UnmarshalJSON(data []byte) error {
	type plain ComplianceSettings
	var decoded plain
	extra, err := unmarshalWithExtra(data, &decoded)
	if err != nil {
		return err
	}
	*c = ComplianceSettings(decoded)
	c.Extra = extra
	return nil
}

// RequiresMFAFor reports whether members holding role must keep MFA enabled.
// An empty role list applies the requirement to every role.
func (c ComplianceSettings) RequiresMFAFor(role TeamRole) bool {
	if !c.RequireMFA {
		return false
	}
	if len(c.MFARequiredRoles) == 0 {
		return true
	}
	for _, r := range c.MFARequiredRoles {
		if r == role {
			return true
		}
	}
	return false
}
