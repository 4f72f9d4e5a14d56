package rbac

import "sort"

type Role string
type Capability string

const (
	RoleViewer    Role = "viewer"
	RoleReviewer  Role = "reviewer"
	RoleValidator Role = "validator"
	RoleAnalyst   Role = "analyst"
	RoleAdmin     Role = "admin"
	RoleOwner     Role = "owner"
)

const (
	CapView                Capability = "view"
	CapUpload              Capability = "upload"
	CapEditRecords         Capability = "edit_records"
	CapDeleteRecords       Capability = "delete_records"
	CapReview              Capability = "review"
	CapReject              Capability = "reject"
	CapUnpublish           Capability = "unpublish"
	CapValidate            Capability = "validate"
	CapProposeChanges      Capability = "propose_changes"
	CapApproveChanges      Capability = "approve_changes"
	CapRequestVerification Capability = "request_verification"
	CapUseAI               Capability = "use_ai"
	CapManageMembers       Capability = "manage_members"
	CapManageSettings      Capability = "manage_settings"
	CapManageCredits       Capability = "manage_credits"
	CapManageRecordTypes   Capability = "manage_record_types"
	CapManageAppearances   Capability = "manage_appearances"
)

var rank = map[Role]int{
	RoleViewer:    1,
	RoleReviewer:  2,
	RoleValidator: 3,
	RoleAnalyst:   4,
	RoleAdmin:     5,
	RoleOwner:     6,
}

// Grants are the per-member override flags stored next to the role.
type Grants struct {
	CanUpload            bool
	CanManageAppearances bool
}

// DefaultGrants is what a membership row carries unless changed.
func DefaultGrants() Grants {
	return Grants{CanUpload: true}
}

// Membership is a resolved (user, project) pair.
type Membership struct {
	Role   Role
	Grants Grants
}

// Effective computes the caller's membership in a project. The project
// creator is always owner whatever the stored row says; a nil stored row
// for anyone else means not a member.
func Effective(isCreator bool, stored *Membership) (Membership, bool) {
	if isCreator {
		return Membership{Role: RoleOwner, Grants: Grants{CanUpload: true, CanManageAppearances: true}}, true
	}
	if stored == nil {
		return Membership{}, false
	}
	return Membership{Role: Normalize(string(stored.Role)), Grants: stored.Grants}, true
}

// AtLeast reports whether role ranks at or above min.
func AtLeast(role, min Role) bool {
	return rank[role] >= rank[min] && rank[role] > 0
}

func roleAllows(role Role, capability Capability) bool {
	switch role {
	case RoleOwner, RoleAdmin:
		return true
	case RoleAnalyst:
		switch capability {
		case CapView, CapUpload, CapEditRecords, CapReview, CapReject, CapValidate,
			CapProposeChanges, CapRequestVerification, CapUseAI:
			return true
		}
		return false
	case RoleValidator:
		return capability == CapView || capability == CapUpload || capability == CapValidate || capability == CapApproveChanges
	case RoleReviewer:
		return capability == CapView || capability == CapUpload
	case RoleViewer:
		return capability == CapView
	default:
		return false
	}
}

// Can applies the role table and the member override flags.
func Can(m Membership, capability Capability) bool {
	switch capability {
	case CapUpload:
		if m.Role != RoleOwner && !m.Grants.CanUpload {
			return false
		}
	case CapManageAppearances:
		if m.Grants.CanManageAppearances {
			return rank[m.Role] > 0
		}
	}
	return roleAllows(m.Role, capability)
}

// Capabilities lists every capability m holds, sorted.
func Capabilities(m Membership) []Capability {
	out := make([]Capability, 0, len(allCapabilities))
	for _, capability := range allCapabilities {
		if Can(m, capability) {
			out = append(out, capability)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var allCapabilities = []Capability{
	CapView, CapUpload, CapEditRecords, CapDeleteRecords, CapReview, CapReject, CapUnpublish,
	CapValidate, CapProposeChanges, CapApproveChanges, CapRequestVerification, CapUseAI,
	CapManageMembers, CapManageSettings, CapManageCredits, CapManageRecordTypes, CapManageAppearances,
}

// Valid reports whether role is one of the known roles.
func Valid(role string) bool {
	_, ok := rank[Role(role)]
	return ok
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleViewer
}
