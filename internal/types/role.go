package types

// Role is the marketplace role a caller acts in.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleDriver Role = "driver"
	// RoleSystem is used for transitions made by background jobs.
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleDriver
}

// Caller is the authenticated party behind a request.
type Caller struct {
	ID   ID
	Role Role
}
