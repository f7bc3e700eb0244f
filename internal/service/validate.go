package service

import (
	"regexp"
	"strings"
	"unicode"

	"dhatri/internal/apperr"
	"dhatri/internal/models"
)

var (
	emailRx = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRx = regexp.MustCompile(`^\+?1?\d{9,15}$`)

	scriptProtoRx  = regexp.MustCompile(`(?i)javascript:`)
	eventHandlerRx = regexp.MustCompile(`(?i)on\w+=`)
	phoneNoiseRx   = regexp.MustCompile(`[\s\-()]`)
)

const (
	passwordMinLen   = 8
	passwordMaxBytes = 72
	passwordSpecials = "@$!%*?&"
)

type RegisterInput struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
	Phone    string      `json:"phone"`
}

// Sanitize strips markup fragments from free text.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	s = scriptProtoRx.ReplaceAllString(s, "")
	return eventHandlerRx.ReplaceAllString(s, "")
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (in *RegisterInput) normalize() {
	in.Name = Sanitize(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Phone = phoneNoiseRx.ReplaceAllString(strings.TrimSpace(in.Phone), "")
	in.Role = models.Role(strings.ToLower(strings.TrimSpace(string(in.Role))))
	if in.Role == "" {
		in.Role = models.RolePatient
	}
}

func (in RegisterInput) validate() []apperr.FieldError {
	var errs []apperr.FieldError
	switch n := len([]rune(in.Name)); {
	case n == 0:
		errs = append(errs, apperr.FieldError{Field: "name", Message: "Name is required"})
	case n < 2 || n > 100:
		errs = append(errs, apperr.FieldError{Field: "name", Message: "Name must be between 2 and 100 characters"})
	}
	errs = append(errs, checkEmail(in.Email)...)
	errs = append(errs, checkPassword("password", in.Password)...)
	if !in.Role.Valid() {
		errs = append(errs, apperr.FieldError{Field: "role", Message: "Role must be patient, doctor, or admin"})
	}
	if in.Phone != "" && !phoneRx.MatchString(in.Phone) {
		errs = append(errs, apperr.FieldError{Field: "phone", Message: "Please provide a valid phone number"})
	}
	return errs
}

func checkEmail(email string) []apperr.FieldError {
	if email == "" {
		return []apperr.FieldError{{Field: "email", Message: "Email is required"}}
	}
	if !emailRx.MatchString(email) {
		return []apperr.FieldError{{Field: "email", Message: "Please provide a valid email address"}}
	}
	return nil
}

// checkPassword enforces length and one character from each class.
func checkPassword(field, p string) []apperr.FieldError {
	if p == "" {
		return []apperr.FieldError{{Field: field, Message: "Password is required"}}
	}
	if len([]rune(p)) < passwordMinLen {
		return []apperr.FieldError{{Field: field, Message: "Password must be at least 8 characters long"}}
	}
	if len(p) > passwordMaxBytes {
		return []apperr.FieldError{{Field: field, Message: "Password must be at most 72 bytes long"}}
	}
	var upper, lower, digit, special bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return []apperr.FieldError{{Field: field, Message: "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character (@$!%*?&)"}}
	}
	return nil
}

func validateLogin(email, password string) []apperr.FieldError {
	var errs []apperr.FieldError
	errs = append(errs, checkEmail(email)...)
	if password == "" {
		errs = append(errs, apperr.FieldError{Field: "password", Message: "Password is required"})
	}
	return errs
}

func validatePasswordChange(current, next string) []apperr.FieldError {
	var errs []apperr.FieldError
	if current == "" {
		errs = append(errs, apperr.FieldError{Field: "currentPassword", Message: "Current password is required"})
	}
	errs = append(errs, checkPassword("newPassword", next)...)
	if current != "" && current == next {
		errs = append(errs, apperr.FieldError{Field: "newPassword", Message: "New password must be different from current password"})
	}
	return errs
}
