// Package invitetoken issues and verifies the signed, time-limited grants
// that let someone join a pool. Tokens are never persisted; a grant is
// valid exactly when its signature checks out and it has not expired.
package invitetoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TypeInvitation disambiguates invitation grants from any other token
	// kind signed with the shared secret.
	TypeInvitation = "invitation"

	DefaultTTL = 168 * time.Hour
)

var (
	// ErrExpired is a normal lifecycle outcome: the link aged out.
	ErrExpired = errors.New("invitation token expired")
	// ErrInvalid covers tampering, malformed input and wrong signatures.
	ErrInvalid = errors.New("invitation token invalid")
)

// Claims is the invitation claim set. Email is optional; an empty email
// makes an open invitation acceptable by any verified identity.
type Claims struct {
	Type      string    `json:"type"`
	PoolID    uuid.UUID `json:"poolId"`
	InvitedBy uuid.UUID `json:"invitedBy"`
	Role      string    `json:"role"`
	Email     string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) IsInvitation() bool {
	return c.Type == TypeInvitation
}

type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{secret: []byte(secret), ttl: ttl}
}

// Issue builds a signed invitation for poolID at the given role. The
// returned expiry matches the token's exp claim.
func (s *Service) Issue(email string, poolID, invitedBy uuid.UUID, role string) (string, time.Time, error) {
	if role == "" {
		role = "member"
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		Type:      TypeInvitation,
		PoolID:    poolID,
		InvitedBy: invitedBy,
		Role:      role,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing invitation token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry. Expiry is reported as ErrExpired so
// callers can present it differently from tampering, which is ErrInvalid.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}

	return claims, nil
}
