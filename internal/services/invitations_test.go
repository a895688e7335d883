package services

import (
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/models"
	"github.com/poolshare/backend/pkg/invitetoken"
)

func setupInvitations(t *testing.T, ttl time.Duration) (*gorm.DB, *InvitationService) {
	t.Helper()

	db := setupTestDB(t)
	access := NewAccessService(db)
	users := NewUserService(db)
	tokens := invitetoken.NewService("test-secret", ttl)
	return db, NewInvitationService(db, tokens, users, access)
}

func identityFor(user *models.User) Identity {
	return Identity{
		Subject:   user.Subject,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}

func TestGenerateRequiresMembership(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	outsider := createUser(t, db, "outsider@example.com")
	pool := createPool(t, db, owner, "p")

	if _, err := svc.Generate(testCtx(), owner, pool.ID, ""); err != nil {
		t.Fatalf("owner should be able to invite, got %v", err)
	}

	_, err := svc.Generate(testCtx(), outsider, pool.ID, "")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for a non-member, got %v", err)
	}
}

func TestGeneratePlainMemberMayInvite(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	member := createUser(t, db, "member@example.com")
	pool := createPool(t, db, owner, "p")
	grantRole(t, db, member.ID, pool.ID, string(models.RoleMember))

	if _, err := svc.Generate(testCtx(), member, pool.ID, "friend@example.com"); err != nil {
		t.Fatalf("a plain member may invite, got %v", err)
	}
}

func TestGenerateRefusesExistingMember(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	member := createUser(t, db, "member@example.com")
	pool := createPool(t, db, owner, "p")
	grantRole(t, db, member.ID, pool.ID, string(models.RoleMember))

	_, err := svc.Generate(testCtx(), owner, pool.ID, "member@example.com")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for an already-member email, got %v", err)
	}
}

func TestValidateReportsGrantDetails(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	pool := createPool(t, db, owner, "design reviews")

	invitation, err := svc.Generate(testCtx(), owner, pool.ID, "alice@example.com")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	details, err := svc.Validate(testCtx(), invitation.Token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if details.PoolID != pool.ID || details.PoolName != "design reviews" {
		t.Fatalf("unexpected details %+v", details)
	}
	if details.Email != "alice@example.com" {
		t.Fatalf("expected the invited email, got %q", details.Email)
	}
}

func TestValidateVanishedPool(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	pool := createPool(t, db, owner, "p")

	invitation, err := svc.Generate(testCtx(), owner, pool.ID, "")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if err := db.Delete(pool).Error; err != nil {
		t.Fatalf("failed deleting pool: %v", err)
	}

	_, err = svc.Validate(testCtx(), invitation.Token)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound once the pool is gone, got %v", err)
	}
}

func TestAcceptGrantsMembership(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	invitee := createUser(t, db, "alice@example.com")
	pool := createPool(t, db, owner, "p")

	invitation, err := svc.Generate(testCtx(), owner, pool.ID, "alice@example.com")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	result, err := svc.Accept(testCtx(), identityFor(invitee), invitation.Token)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if result.PoolID != pool.ID || result.Role != string(models.RoleMember) {
		t.Fatalf("unexpected accept result %+v", result)
	}

	access := NewAccessService(db)
	if !access.HasAccessToPool(testCtx(), invitee.ID, pool.ID) {
		t.Fatal("expected a membership row after accepting")
	}
	if access.IsOwnerOrAdmin(testCtx(), invitee.ID, pool.ID) {
		t.Fatal("accepting an invitation must not elevate")
	}
}

func TestAcceptEnforcesEmailScope(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	bob := createUser(t, db, "bob@example.com")
	pool := createPool(t, db, owner, "p")

	invitation, err := svc.Generate(testCtx(), owner, pool.ID, "alice@example.com")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	_, err = svc.Accept(testCtx(), identityFor(bob), invitation.Token)
	if !errors.Is(err, ErrWrongEmail) {
		t.Fatalf("expected ErrWrongEmail for the wrong address, got %v", err)
	}
}

func TestAcceptEmailScopeIsCaseInsensitive(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	alice := createUser(t, db, "Alice@Example.COM")
	pool := createPool(t, db, owner, "p")

	invitation, err := svc.Generate(testCtx(), owner, pool.ID, "alice@example.com")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := svc.Accept(testCtx(), identityFor(alice), invitation.Token); err != nil {
		t.Fatalf("case difference must not block the accept, got %v", err)
	}
}

func TestAcceptOpenInvitation(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	anyone := createUser(t, db, "anyone@example.com")
	pool := createPool(t, db, owner, "p")

	invitation, err := svc.Generate(testCtx(), owner, pool.ID, "")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := svc.Accept(testCtx(), identityFor(anyone), invitation.Token); err != nil {
		t.Fatalf("an open invitation must work for any identity, got %v", err)
	}
}

func TestAcceptCreatesUnknownIdentity(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	pool := createPool(t, db, owner, "p")

	invitation, err := svc.Generate(testCtx(), owner, pool.ID, "")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	result, err := svc.Accept(testCtx(), Identity{
		Subject: "oidc|brand-new",
		Email:   "brand-new@example.com",
	}, invitation.Token)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	var user models.User
	if err := db.Where("subject = ?", "oidc|brand-new").First(&user).Error; err != nil {
		t.Fatalf("expected the identity to be provisioned: %v", err)
	}
	access := NewAccessService(db)
	if !access.HasAccessToPool(testCtx(), user.ID, result.PoolID) {
		t.Fatal("expected the fresh user to be a member")
	}
}

func TestAcceptTwiceConflicts(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	owner := createUser(t, db, "owner@example.com")
	invitee := createUser(t, db, "alice@example.com")
	pool := createPool(t, db, owner, "p")

	invitation, err := svc.Generate(testCtx(), owner, pool.ID, "")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if _, err := svc.Accept(testCtx(), identityFor(invitee), invitation.Token); err != nil {
		t.Fatalf("first accept failed: %v", err)
	}
	_, err = svc.Accept(testCtx(), identityFor(invitee), invitation.Token)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on the second accept, got %v", err)
	}
}

func TestAcceptExpiredToken(t *testing.T) {
	db, svc := setupInvitations(t, time.Second)

	owner := createUser(t, db, "owner@example.com")
	invitee := createUser(t, db, "late@example.com")
	pool := createPool(t, db, owner, "p")

	invitation, err := svc.Generate(testCtx(), owner, pool.ID, "")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	time.Sleep(2 * time.Second)

	_, err = svc.Accept(testCtx(), identityFor(invitee), invitation.Token)
	if !errors.Is(err, invitetoken.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestAcceptGarbageToken(t *testing.T) {
	db, svc := setupInvitations(t, time.Hour)

	invitee := createUser(t, db, "x@example.com")
	_, err := svc.Accept(testCtx(), identityFor(invitee), "not-a-token")
	if !errors.Is(err, invitetoken.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
