package models

import (
	"fmt"
	"time"
)

// Role is the authorization level of a user. It is never written by a client-facing flow.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var validRoles = []Role{RoleGuest, RoleUser, RoleAdmin}

// IsValid reports whether the role is recognized.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts a raw string into a Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}

// Plan is the commercial subscription tier of a user.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanStarter  Plan = "starter"
	PlanBusiness Plan = "business"
)

var validPlans = []Plan{PlanFree, PlanStarter, PlanBusiness}

// IsValid reports whether the plan is recognized.
func (p Plan) IsValid() bool {
	for _, candidate := range validPlans {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlan converts a raw string into a Plan.
func ParsePlan(value string) (Plan, error) {
	for _, candidate := range validPlans {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan %q", value)
}

// User represents a user profile stored in the "users" collection.
// UID is the Firebase Auth UID and doubles as the document ID.
type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"displayName"`
	PhotoURL    *string   `json:"photoURL"`
	Role        Role      `json:"role"`
	Plan        Plan      `json:"plan"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.DisplayName != nil {
		name := *u.DisplayName
		c.DisplayName = &name
	}
	if u.PhotoURL != nil {
		photo := *u.PhotoURL
		c.PhotoURL = &photo
	}
	return &c
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// NewDefaultUser builds the profile created on first authentication.
// Role and plan always take their defaults.
func NewDefaultUser(uid, email string, displayName, photoURL *string, now time.Time) *User {
	return &User{
		UID:         uid,
		Email:       email,
		DisplayName: displayName,
		PhotoURL:    photoURL,
		Role:        RoleUser,
		Plan:        PlanFree,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// StringPtr returns nil for an empty string and a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
