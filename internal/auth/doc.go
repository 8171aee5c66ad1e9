// Package auth provides user accounts and device permissions for the smart
// home.
//
// Two roles exist. A user may view device status and control devices that
// carry no extra requirement. An admin may do everything. On top of its role
// a user can be granted named permissions such as "garage"; a device that
// lists required permissions in the home file is controllable only by users
// holding at least one of them.
//
// Passwords are hashed with Argon2id and stored in PHC format. A login
// issues a short-lived HS256 JWT that carries the user's role and grants,
// so checking a request needs no database lookup.
//
// The caller's identity travels in a context.Context (see WithPrincipal).
// Operations started by the system itself, such as rule actions, carry no
// principal and are not checked.
package auth
