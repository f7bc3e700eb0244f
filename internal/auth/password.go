package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"dhatri/internal/models"
)

const (
	DefaultCost = 12
	MinCost     = 10
)

// Hasher wraps bcrypt with a configurable work factor. Costs below
// bcrypt.MinCost are raised to it; config enforces MinCost for real
// deployments.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Cost() int { return h.cost }

func (h *Hasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(b), nil
}

// Verify returns false without error on mismatch. Any other error means the
// digest or primitive is broken and must not be reported as bad credentials.
func (h *Hasher) Verify(plain, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, fmt.Errorf("bcrypt compare: %w", err)
	}
}

type NewUserParams struct {
	Name     string
	Email    string
	Password string
	Role     models.Role
	Phone    *string
}

// NewUser is the only constructor for users that carry a password: the
// plaintext is hashed before the value exists.
func (h *Hasher) NewUser(p NewUserParams, now time.Time) (models.User, error) {
	hash, err := h.Hash(p.Password)
	if err != nil {
		return models.User{}, err
	}
	role := p.Role
	if role == "" {
		role = models.RolePatient
	}
	now = now.UTC()
	return models.User{
		ID:           uuid.NewString(),
		Name:         p.Name,
		Email:        strings.ToLower(strings.TrimSpace(p.Email)),
		PasswordHash: hash,
		Role:         role,
		Phone:        p.Phone,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// SetPassword rehashes and stamps PasswordChangedAt one second in the past so
// tokens minted in the same instant stay valid.
func (h *Hasher) SetPassword(u *models.User, plain string, now time.Time) error {
	hash, err := h.Hash(plain)
	if err != nil {
		return err
	}
	changed := now.UTC().Add(-time.Second)
	u.PasswordHash = hash
	u.PasswordChangedAt = &changed
	u.UpdatedAt = now.UTC()
	return nil
}
