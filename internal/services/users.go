package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/models"
)

// Identity is what the auth layer hands us per request: a verified subject
// plus whatever profile claims the token carried. The service never checks
// signatures; that already happened upstream.
type Identity struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// UpsertFromIdentity reconciles a verified identity with the user table:
// match by subject first, then by email (linking the subject to a
// pre-provisioned record), otherwise create a fresh USER. Email and name
// drift from the identity provider is folded back into the record; names
// are only filled in when blank so local edits survive.
func (s *UserService) UpsertFromIdentity(ctx context.Context, ident Identity) (*models.User, error) {
	if strings.TrimSpace(ident.Subject) == "" {
		return nil, fmt.Errorf("%w: identity without a subject", ErrValidation)
	}

	var user models.User
	err := s.DB.WithContext(ctx).Where("subject = ?", ident.Subject).First(&user).Error
	if err == nil {
		changed := false
		if ident.Email != "" && !strings.EqualFold(ident.Email, user.Email) {
			user.Email = ident.Email
			changed = true
		}
		if ident.FirstName != "" && strings.TrimSpace(user.FirstName) == "" {
			user.FirstName = ident.FirstName
			changed = true
		}
		if ident.LastName != "" && strings.TrimSpace(user.LastName) == "" {
			user.LastName = ident.LastName
			changed = true
		}
		if !changed {
			return &user, nil
		}
		if err := s.DB.WithContext(ctx).Save(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if ident.Email != "" {
		err = s.DB.WithContext(ctx).Where("email = ?", ident.Email).First(&user).Error
		if err == nil {
			user.Subject = ident.Subject
			if ident.FirstName != "" && strings.TrimSpace(user.FirstName) == "" {
				user.FirstName = ident.FirstName
			}
			if ident.LastName != "" && strings.TrimSpace(user.LastName) == "" {
				user.LastName = ident.LastName
			}
			if err := s.DB.WithContext(ctx).Save(&user).Error; err != nil {
				return nil, err
			}
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	user = models.User{
		Subject:   ident.Subject,
		Email:     ident.Email,
		FirstName: ident.FirstName,
		LastName:  ident.LastName,
		Role:      models.UserRoleUser,
	}
	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail returns nil when no user carries the address. A blank address
// never matches; email-less records store the empty string.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, nil
	}
	var user models.User
	err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
