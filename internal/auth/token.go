package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dhatri/internal/models"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenAudience  = errors.New("token issuer or audience mismatch")
	ErrTokenType      = errors.New("token type mismatch")
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

type AccessClaims struct {
	UserID string      `json:"userId"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
	Type   TokenType   `json:"type"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	UserID  string    `json:"userId"`
	TokenID string    `json:"tokenId"`
	Type    TokenType `json:"type"`
	jwt.RegisteredClaims
}

type CodecConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
}

// Codec signs and verifies HS256 access and refresh tokens. The two kinds use
// separate secrets and carry a type discriminator.
type Codec struct {
	cfg CodecConfig
	now func() time.Time
}

func NewCodec(cfg CodecConfig) *Codec {
	return &Codec{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of c reading time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

func (c *Codec) AccessTTL() time.Duration  { return c.cfg.AccessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

func (c *Codec) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now()
	return jwt.RegisteredClaims{
		Issuer:    c.cfg.Issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{c.cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *Codec) SignAccess(u models.User) (string, error) {
	claims := AccessClaims{
		UserID:           u.ID,
		Email:            u.Email,
		Role:             u.Role,
		Type:             TokenAccess,
		RegisteredClaims: c.registered(u.ID, c.cfg.AccessTTL),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.AccessSecret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return s, nil
}

// SignRefresh mints a refresh token with a fresh random token id.
func (c *Codec) SignRefresh(userID string) (string, RefreshClaims, error) {
	tokenID, err := NewTokenID()
	if err != nil {
		return "", RefreshClaims{}, err
	}
	claims := RefreshClaims{
		UserID:           userID,
		TokenID:          tokenID,
		Type:             TokenRefresh,
		RegisteredClaims: c.registered(userID, c.cfg.RefreshTTL),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.RefreshSecret))
	if err != nil {
		return "", RefreshClaims{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return s, claims, nil
}

func (c *Codec) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(raw, claims, c.cfg.AccessSecret); err != nil {
		return nil, err
	}
	if claims.Type != TokenAccess || claims.UserID == "" {
		return nil, ErrTokenType
	}
	return claims, nil
}

func (c *Codec) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(raw, claims, c.cfg.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != TokenRefresh || claims.UserID == "" || claims.TokenID == "" {
		return nil, ErrTokenType
	}
	return claims, nil
}

func (c *Codec) parse(raw string, claims jwt.Claims, secret string) error {
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithAudience(c.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrTokenAudience
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

// NewTokenID returns 32 random bytes, hex encoded.
func NewTokenID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken is the ledger digest of a refresh token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func TokenMatches(raw, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(raw)), []byte(digest)) == 1
}
