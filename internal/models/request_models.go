package models

// SignInRequest represents the request body for email/password sign-in.
type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SignUpRequest represents the request body for account creation.
// It deliberately has no role or plan field.
type SignUpRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
}

// PasswordResetRequest represents the request body for sending a reset email.
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ProfileUpdate is a partial update of the mutable profile fields.
// Pointers distinguish "not provided" from an empty value. Identity, role and
// plan fields are not part of the type, so a client can never set them.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	PhotoURL    *string `json:"photoURL,omitempty"`
}

// IsEmpty reports whether no field is set.
func (p ProfileUpdate) IsEmpty() bool {
	return p.DisplayName == nil && p.PhotoURL == nil
}
