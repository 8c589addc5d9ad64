package auth

import (
	"fmt"
	"strings"
	"time"

	"csebu.org/internal/asset"
)

// Role is the authorization tier of an account.
type Role string

const (
	RoleStudent Role = "student"
	RoleCR      Role = "cr"
	RoleTeacher Role = "teacher"
	RoleFaculty Role = "faculty"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// Roles lists every valid role.
var Roles = []Role{RoleStudent, RoleCR, RoleTeacher, RoleFaculty, RoleStaff, RoleAdmin}

// ParseRole normalizes and validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleCR, RoleTeacher, RoleFaculty, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Status is the approval state of an account.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// CGPARecord is the cumulative GPA at the end of one completed semester.
type CGPARecord struct {
	Semester int     `json:"semNo"`
	CGPA     float64 `json:"cgpa"`
}

// User is a persisted account. PasswordHash is never serialized.
type User struct {
	ID              string       `json:"id"`
	Email           string       `json:"email"`
	PasswordHash    string       `json:"-"`
	Name            string       `json:"name"`
	Role            Role         `json:"role"`
	Status          Status       `json:"status"`
	ApprovedAt      *time.Time   `json:"approvedAt,omitempty"`
	RejectionReason string       `json:"rejectionReason,omitempty"`
	Roll            string       `json:"roll,omitempty"`
	RegNo           string       `json:"regNo,omitempty"`
	Session         string       `json:"session,omitempty"`
	Semester        int          `json:"semester,omitempty"`
	Phone           string       `json:"phone,omitempty"`
	CGPAHistory     []CGPARecord `json:"cgpaHistory"`
	Avatar          *asset.Asset `json:"avatar,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Identity returns the claims-shaped view of the account.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Role: u.Role, Name: u.Name, Status: u.Status}
}

// Snapshot returns the non-secret fields exposed to client-side UI state.
func (u User) Snapshot() Snapshot {
	s := Snapshot{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Role:   u.Role,
		Status: u.Status,
	}
	if u.Avatar != nil {
		s.Avatar = u.Avatar.Href()
	}
	return s
}

// Snapshot is the plaintext, client-readable copy of identity. It is only
// ever trusted for presentation.
type Snapshot struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Status Status `json:"status"`
	Avatar string `json:"avatar"`
}

// UserFilter narrows directory listings.
type UserFilter struct {
	Query  string
	Role   Role
	Status Status
	Offset int
	Limit  int
}

// ProfileUpdate carries the owner-editable fields; nil means unchanged.
type ProfileUpdate struct {
	Name        *string       `json:"name"`
	Roll        *string       `json:"roll"`
	RegNo       *string       `json:"regNo"`
	Session     *string       `json:"session"`
	Semester    *int          `json:"semester"`
	Phone       *string       `json:"phone"`
	CGPAHistory *[]CGPARecord `json:"cgpaHistory"`
}
