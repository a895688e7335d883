package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/models"
	"github.com/poolshare/backend/pkg/invitetoken"
)

// InvitationService runs the invite-and-join workflow: any pool member may
// mint a signed grant, and a verified identity later exchanges that grant
// for a membership row. Tokens are deliberately replayable until expiry;
// the only thing stopping a second accept is the already-member conflict.
type InvitationService struct {
	DB     *gorm.DB
	Tokens *invitetoken.Service
	Users  *UserService
	Access *AccessService
}

func NewInvitationService(db *gorm.DB, tokens *invitetoken.Service, users *UserService, access *AccessService) *InvitationService {
	return &InvitationService{DB: db, Tokens: tokens, Users: users, Access: access}
}

type Invitation struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Generate issues an invitation to poolID on behalf of inviter. Inviter must
// be a member (any role). When the invited email already belongs to a member
// the grant is refused up front rather than leaving a token that can only
// ever conflict.
func (s *InvitationService) Generate(ctx context.Context, inviter *models.User, poolID uuid.UUID, email string) (*Invitation, error) {
	access, err := s.Access.AccessFor(ctx, inviter.ID, poolID)
	if err != nil {
		return nil, err
	}
	if access == nil {
		return nil, fmt.Errorf("%w: only pool members may invite", ErrPermissionDenied)
	}

	if email != "" {
		invited, err := s.Users.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if invited != nil {
			existing, err := s.Access.AccessFor(ctx, invited.ID, poolID)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, ErrConflict
			}
		}
	}

	token, expiresAt, err := s.Tokens.Issue(email, poolID, inviter.ID, string(models.RoleMember))
	if err != nil {
		return nil, err
	}
	return &Invitation{Token: token, ExpiresAt: expiresAt}, nil
}

type InvitationDetails struct {
	Email     string    `json:"email,omitempty"`
	PoolID    uuid.UUID `json:"poolId"`
	PoolName  string    `json:"poolName"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Validate checks a token without consuming anything, for the landing page
// that shows what the bearer is about to join.
func (s *InvitationService) Validate(ctx context.Context, token string) (*InvitationDetails, error) {
	claims, err := s.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if !claims.IsInvitation() {
		return nil, invitetoken.ErrInvalid
	}

	var pool models.Pool
	if err := s.DB.WithContext(ctx).First(&pool, "id = ?", claims.PoolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: pool no longer exists", ErrNotFound)
		}
		return nil, err
	}

	return &InvitationDetails{
		Email:     claims.Email,
		PoolID:    pool.ID,
		PoolName:  pool.Name,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

type AcceptResult struct {
	PoolID   uuid.UUID `json:"poolId"`
	PoolName string    `json:"poolName"`
	Role     string    `json:"role"`
}

// Accept exchanges a valid grant plus a verified identity for a membership
// row. A token scoped to an email only works for that address
// (case-insensitive); an open token works for anyone. The membership check
// and the insert are two separate store calls, so two concurrent accepts
// for the same pair race; the unique index on (user_id, pool_id) is the
// backstop.
func (s *InvitationService) Accept(ctx context.Context, ident Identity, token string) (*AcceptResult, error) {
	claims, err := s.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if !claims.IsInvitation() {
		return nil, invitetoken.ErrInvalid
	}

	if claims.Email != "" && !strings.EqualFold(claims.Email, ident.Email) {
		return nil, ErrWrongEmail
	}

	user, err := s.Users.UpsertFromIdentity(ctx, ident)
	if err != nil {
		return nil, err
	}

	var pool models.Pool
	if err := s.DB.WithContext(ctx).First(&pool, "id = ?", claims.PoolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: pool no longer exists", ErrNotFound)
		}
		return nil, err
	}

	existing, err := s.Access.AccessFor(ctx, user.ID, pool.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrConflict
	}

	role := claims.Role
	if role == "" {
		role = string(models.RoleMember)
	}
	access := models.Access{UserID: user.ID, PoolID: pool.ID, Role: role}
	if err := s.DB.WithContext(ctx).Create(&access).Error; err != nil {
		return nil, err
	}

	return &AcceptResult{PoolID: pool.ID, PoolName: pool.Name, Role: role}, nil
}
