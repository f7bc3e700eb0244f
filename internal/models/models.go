package models

import "time"

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// User is a credential store record. PasswordHash always holds a digest;
// construct new users through auth.Hasher.NewUser.
type User struct {
	ID                  string
	Name                string
	Email               string
	PasswordHash        string
	Role                Role
	Phone               *string
	IsActive            bool
	IsEmailVerified     bool
	FailedLoginAttempts int
	LockUntil           *time.Time
	LastLogin           *time.Time
	PasswordChangedAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the account is locked at now.
func (u User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// PasswordChangedAfter reports whether the password changed after a token
// issued at iat.
func (u User) PasswordChangedAfter(iat time.Time) bool {
	return u.PasswordChangedAt != nil && u.PasswordChangedAt.After(iat)
}

type PublicUser struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Role            Role       `json:"role"`
	Phone           *string    `json:"phone,omitempty"`
	IsActive        bool       `json:"isActive"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		Role:            u.Role,
		Phone:           u.Phone,
		IsActive:        u.IsActive,
		IsEmailVerified: u.IsEmailVerified,
		LastLogin:       u.LastLogin,
		CreatedAt:       u.CreatedAt,
	}
}

// RefreshToken is one ledger row. TokenHash is the hex SHA-256 of the
// plaintext token.
type RefreshToken struct {
	ID            string
	UserID        string
	TokenHash     string
	DeviceInfo    string
	IPAddress     string
	ExpiresAt     time.Time
	IsRevoked     bool
	RevokedAt     *time.Time
	RevokedReason *string
	CreatedAt     time.Time
}

// Usable reports whether the row may be redeemed at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.IsRevoked && t.ExpiresAt.After(now)
}

type Session struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"deviceInfo"`
	IPAddress  string    `json:"ipAddress"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (t RefreshToken) Session() Session {
	return Session{ID: t.ID, DeviceInfo: t.DeviceInfo, IPAddress: t.IPAddress, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt}
}

type AuditAction string

const (
	AuditLogin                 AuditAction = "LOGIN"
	AuditLogout                AuditAction = "LOGOUT"
	AuditRegister              AuditAction = "REGISTER"
	AuditPasswordChange        AuditAction = "PASSWORD_CHANGE"
	AuditPasswordResetRequest  AuditAction = "PASSWORD_RESET_REQUEST"
	AuditPasswordResetComplete AuditAction = "PASSWORD_RESET_COMPLETE"
	AuditTokenRefresh          AuditAction = "TOKEN_REFRESH"
	AuditFailedLogin           AuditAction = "FAILED_LOGIN"
	AuditAccountLocked         AuditAction = "ACCOUNT_LOCKED"
	AuditAccountUnlocked       AuditAction = "ACCOUNT_UNLOCKED"
	AuditProfileUpdate         AuditAction = "PROFILE_UPDATE"
	AuditProfileView           AuditAction = "PROFILE_VIEW"
	AuditDataAccess            AuditAction = "DATA_ACCESS"
	AuditDataModification      AuditAction = "DATA_MODIFICATION"
	AuditUnauthorizedAccess    AuditAction = "UNAUTHORIZED_ACCESS"
	AuditError                 AuditAction = "ERROR"
	AuditSystemError           AuditAction = "SYSTEM_ERROR"
)

// AuditEntry is an append-only security event. UserID is nil for events
// recorded before authentication.
type AuditEntry struct {
	ID           string         `json:"id"`
	UserID       *string        `json:"userId,omitempty"`
	Action       AuditAction    `json:"action"`
	IPAddress    string         `json:"ipAddress"`
	UserAgent    string         `json:"userAgent"`
	Success      bool           `json:"success"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}
