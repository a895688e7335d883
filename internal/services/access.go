package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/models"
)

// AccessService answers every authorization question about pools and files.
// It is a stateless query layer over the accesses table: no caching, no side
// effects, and no global-admin shortcut; call sites that want the platform
// admin override OR it in themselves.
type AccessService struct {
	DB *gorm.DB
}

func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{DB: db}
}

// AccessFor returns the membership row for (userID, poolID), or nil when
// none exists. Only genuine query failures surface as errors.
func (a *AccessService) AccessFor(ctx context.Context, userID, poolID uuid.UUID) (*models.Access, error) {
	var access models.Access
	err := a.DB.WithContext(ctx).
		Where("user_id = ? AND pool_id = ?", userID, poolID).
		First(&access).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &access, nil
}

// HasAccessToPool is true iff a membership row exists for the pair, whatever
// its role says. Unrecognized roles still count as read access.
func (a *AccessService) HasAccessToPool(ctx context.Context, userID, poolID uuid.UUID) bool {
	access, err := a.AccessFor(ctx, userID, poolID)
	return err == nil && access != nil
}

// IsOwnerOrAdmin is true iff the membership row's role folds to owner or
// admin. Role comparison is case-insensitive.
func (a *AccessService) IsOwnerOrAdmin(ctx context.Context, userID, poolID uuid.UUID) bool {
	access, err := a.AccessFor(ctx, userID, poolID)
	if err != nil || access == nil {
		return false
	}
	return models.ParseRole(access.Role).Elevated()
}

// CanModifyInPool gates every mutation of pool contents: owner and admin
// only.
func (a *AccessService) CanModifyInPool(ctx context.Context, userID, poolID uuid.UUID) bool {
	return a.IsOwnerOrAdmin(ctx, userID, poolID)
}

// CanAccessFile delegates to the pool check of the file's owning pool.
func (a *AccessService) CanAccessFile(ctx context.Context, userID uuid.UUID, file *models.File) bool {
	if file == nil || file.PoolID == uuid.Nil {
		return false
	}
	return a.HasAccessToPool(ctx, userID, file.PoolID)
}

// AccessiblePoolIDs lists every pool the user holds a membership row for.
func (a *AccessService) AccessiblePoolIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := a.DB.WithContext(ctx).
		Model(&models.Access{}).
		Where("user_id = ?", userID).
		Pluck("pool_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *AccessService) UsersFromPool(ctx context.Context, poolID uuid.UUID) ([]models.User, error) {
	var users []models.User
	err := a.DB.WithContext(ctx).
		Joins("JOIN accesses ON accesses.user_id = users.id AND accesses.deleted_at IS NULL").
		Where("accesses.pool_id = ?", poolID).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (a *AccessService) PoolsFromUser(ctx context.Context, userID uuid.UUID) ([]models.Pool, error) {
	var pools []models.Pool
	err := a.DB.WithContext(ctx).
		Joins("JOIN accesses ON accesses.pool_id = pools.id AND accesses.deleted_at IS NULL").
		Where("accesses.user_id = ?", userID).
		Find(&pools).Error
	if err != nil {
		return nil, err
	}
	return pools, nil
}

func (a *AccessService) CountUsersByPool(ctx context.Context, poolID uuid.UUID) (int64, error) {
	var count int64
	err := a.DB.WithContext(ctx).
		Model(&models.Access{}).
		Where("pool_id = ?", poolID).
		Count(&count).Error
	return count, err
}

func (a *AccessService) CountPoolsByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := a.DB.WithContext(ctx).
		Model(&models.Access{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (a *AccessService) AccessesByPool(ctx context.Context, poolID uuid.UUID) ([]models.Access, error) {
	var accesses []models.Access
	err := a.DB.WithContext(ctx).
		Preload("User").
		Where("pool_id = ?", poolID).
		Find(&accesses).Error
	if err != nil {
		return nil, err
	}
	return accesses, nil
}
