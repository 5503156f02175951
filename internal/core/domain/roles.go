package domain

// Back-office roles allowed to operate tracking sessions. Tokens are issued
// by the fleet back office; this service only verifies them.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)
