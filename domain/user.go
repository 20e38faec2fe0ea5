package domain

// Role is the account role returned by the backend.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// ValidRole returns true if r is a role the backend issues.
func ValidRole(r Role) bool {
	return r == RoleAdmin || r == RoleStudent
}

// User is the authenticated profile (and the shape returned by user lookup).
type User struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Phone  string  `json:"phone"`
	Role   Role    `json:"role"`
	Major  *string `json:"major,omitempty"`
	RollNo *string `json:"rollno,omitempty"`
}

// IsZero reports whether u carries no identity. Persisted placeholders such
// as "{}" decode into a zero user.
func (u *User) IsZero() bool {
	return u == nil || u.ID == 0
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
