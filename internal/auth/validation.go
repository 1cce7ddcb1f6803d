package auth

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,50}$`)
)

const minPasswordLength = 6

// RegisterRequest body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest body for POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// RefreshRequest body for POST /auth/refresh and /auth/logout when no
// refresh cookie is sent.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r RegisterRequest) Validate() []FieldError {
	var errs []FieldError
	errs = append(errs, validateEmail("email", r.Email)...)
	if !usernamePattern.MatchString(strings.TrimSpace(r.Username)) {
		errs = append(errs, FieldError{Field: "username", Message: "must be 3-50 letters, digits, '_', '.' or '-'"})
	}
	errs = append(errs, validatePassword("password", r.Password)...)
	return errs
}

func (r LoginRequest) Validate() []FieldError {
	var errs []FieldError
	errs = append(errs, validateEmail("email", r.Email)...)
	if r.Password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "is required"})
	}
	return errs
}

// Validate only checks presence and the new password's policy; mismatch and
// reuse are Session Manager rules so they surface as CONFLICT.
func (r ChangePasswordRequest) Validate() []FieldError {
	var errs []FieldError
	if r.CurrentPassword == "" {
		errs = append(errs, FieldError{Field: "currentPassword", Message: "is required"})
	}
	errs = append(errs, validatePassword("newPassword", r.NewPassword)...)
	if r.ConfirmPassword == "" {
		errs = append(errs, FieldError{Field: "confirmPassword", Message: "is required"})
	}
	return errs
}

func validateEmail(field, email string) []FieldError {
	email = strings.TrimSpace(email)
	if email == "" {
		return []FieldError{{Field: field, Message: "is required"}}
	}
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return []FieldError{{Field: field, Message: "must be a valid email address"}}
	}
	return nil
}

// validatePassword enforces at least six characters with an upper-case
// letter, a lower-case letter and a digit.
func validatePassword(field, pw string) []FieldError {
	if pw == "" {
		return []FieldError{{Field: field, Message: "is required"}}
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	var errs []FieldError
	if len([]rune(pw)) < minPasswordLength {
		errs = append(errs, FieldError{Field: field, Message: "must be at least 6 characters"})
	}
	if !upper || !lower || !digit {
		errs = append(errs, FieldError{Field: field, Message: "must contain an uppercase letter, a lowercase letter and a digit"})
	}
	return errs
}
