package services

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Pool{},
		&models.Access{},
		&models.File{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{
		Subject:   "test|" + email,
		Email:     email,
		FirstName: "Test",
		LastName:  "User",
		Role:      models.UserRoleUser,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", email, err)
	}
	return user
}

func createPool(t *testing.T, db *gorm.DB, owner *models.User, name string) *models.Pool {
	t.Helper()

	pool := &models.Pool{Name: name, CreatedByID: owner.ID}
	if err := db.Create(pool).Error; err != nil {
		t.Fatalf("failed creating pool %s: %v", name, err)
	}
	grantRole(t, db, owner.ID, pool.ID, string(models.RoleOwner))
	return pool
}

func grantRole(t *testing.T, db *gorm.DB, userID, poolID uuid.UUID, role string) *models.Access {
	t.Helper()

	access := &models.Access{UserID: userID, PoolID: poolID, Role: role}
	if err := db.Create(access).Error; err != nil {
		t.Fatalf("failed creating access: %v", err)
	}
	return access
}

func testCtx() context.Context {
	return context.Background()
}
