package auth

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Permission is a named capability. Besides the constants below, any name
// matching permissionPattern can be granted to a user and required by a
// device.
type Permission string

// Built-in permissions.
const (
	PermViewStatus    Permission = "view_status"
	PermDeviceControl Permission = "device_control"
	PermRuleEvaluate  Permission = "rule_evaluate"
	PermUserManage    Permission = "user_manage"
)

var permissionPattern = regexp.MustCompile(`^[a-z][a-z0-9_:.-]{0,63}$`)

// rolePermissions maps each role to its built-in permissions. Admins are
// handled by HasPermission and hold every permission.
var rolePermissions = map[Role][]Permission{
	RoleUser: {PermViewStatus, PermDeviceControl},
}

// ParsePermission normalises and validates a permission name.
func ParsePermission(s string) (Permission, error) {
	p := strings.ToLower(strings.TrimSpace(s))
	if !permissionPattern.MatchString(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
	return Permission(p), nil
}

// HasPermission returns true if the role itself carries perm.
func HasPermission(role Role, perm Permission) bool {
	if role == RoleAdmin {
		return true
	}
	return slices.Contains(rolePermissions[role], perm)
}
