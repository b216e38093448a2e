package domain

import (
	"sort"
	"strings"
)

// RoleClaim is a claim-type/claim-value pair attached to a role.
type RoleClaim struct {
	Type  string
	Value string
}

// Role groups permission claims under a named, tenant-scoped assignment.
type Role struct {
	ID       string
	TenantID string
	Name     string
	Claims   []RoleClaim
}

// PermissionClaimType is the claim type under which platform permissions are stored.
const PermissionClaimType = "permission"

// Permission identifies a capability granted through role claims. The known
// constants cover the platform modules; values outside the set are treated as
// custom permissions and carried through verbatim.
type Permission string

const (
	PermPatientsRead       Permission = "patients:read"
	PermPatientsWrite      Permission = "patients:write"
	PermPrescriptionsRead  Permission = "prescriptions:read"
	PermPrescriptionsWrite Permission = "prescriptions:write"
	PermPrescriptionsFill  Permission = "prescriptions:fill"
	PermInventoryRead      Permission = "inventory:read"
	PermInventoryWrite     Permission = "inventory:write"
	PermSalesProcess       Permission = "sales:process"
	PermRefundsApprove     Permission = "refunds:approve"
	PermPaymentsCapture    Permission = "payments:capture"
	PermReportsView        Permission = "reports:view"
	PermUsersManage        Permission = "users:manage"
	PermBranchesManage     Permission = "branches:manage"
)

var knownPermissions = map[Permission]struct{}{
	PermPatientsRead:       {},
	PermPatientsWrite:      {},
	PermPrescriptionsRead:  {},
	PermPrescriptionsWrite: {},
	PermPrescriptionsFill:  {},
	PermInventoryRead:      {},
	PermInventoryWrite:     {},
	PermSalesProcess:       {},
	PermRefundsApprove:     {},
	PermPaymentsCapture:    {},
	PermReportsView:        {},
	PermUsersManage:        {},
	PermBranchesManage:     {},
}

// ParsePermission normalises a permission claim value into a Permission.
func ParsePermission(value string) Permission {
	return Permission(strings.TrimSpace(value))
}

// IsKnown reports whether the permission belongs to the platform's closed set.
// Custom permissions added per deployment return false and are still honoured
// at the claim boundary.
func (p Permission) IsKnown() bool {
	_, ok := knownPermissions[p]
	return ok
}

// String returns the claim-value representation of the permission.
func (p Permission) String() string {
	return string(p)
}

// FlattenRoleClaims returns the deduplicated claimType:claimValue strings
// carried by the supplied roles, sorted for stable token payloads.
func FlattenRoleClaims(roles []Role) []string {
	if len(roles) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	result := make([]string, 0)
	for _, role := range roles {
		for _, claim := range role.Claims {
			claimType := strings.TrimSpace(claim.Type)
			claimValue := strings.TrimSpace(claim.Value)
			if claimType == "" || claimValue == "" {
				continue
			}
			flattened := claimType + ":" + claimValue
			if _, exists := seen[flattened]; exists {
				continue
			}
			seen[flattened] = struct{}{}
			result = append(result, flattened)
		}
	}

	if len(result) == 0 {
		return nil
	}

	sort.Strings(result)
	return result
}

// RoleNames extracts the distinct role names in assignment order.
func RoleNames(roles []Role) []string {
	if len(roles) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(roles))
	result := make([]string, 0, len(roles))
	for _, role := range roles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		result = append(result, name)
	}

	if len(result) == 0 {
		return nil
	}

	return result
}
