package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/middleware"
	"github.com/poolshare/backend/internal/models"
	"github.com/poolshare/backend/internal/services"
	"github.com/poolshare/backend/pkg/logger"
	"github.com/poolshare/backend/pkg/utils"
)

// UsersHandler exposes user records. There is no delete endpoint: user rows
// anchor uploads and memberships, and removal is an operator task.
type UsersHandler struct {
	DB     *gorm.DB
	Access *services.AccessService
}

func NewUsersHandler(db *gorm.DB, access *services.AccessService) *UsersHandler {
	return &UsersHandler{DB: db, Access: access}
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	var users []models.User
	if err := h.DB.Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load users")
	}
	return utils.Success(c, fiber.StatusOK, users)
}

func (h *UsersHandler) Count(c *fiber.Ctx) error {
	var count int64
	if err := h.DB.Model(&models.User{}).Count(&count).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not count users")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"count": count})
}

func (h *UsersHandler) ByRole(c *fiber.Ctx) error {
	role := strings.ToUpper(strings.TrimSpace(c.Params("role")))
	if role != string(models.UserRoleAdmin) && role != string(models.UserRoleUser) {
		return utils.Error(c, fiber.StatusBadRequest, "unknown role")
	}

	var users []models.User
	if err := h.DB.Where("role = ?", role).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load users")
	}
	return utils.Success(c, fiber.StatusOK, users)
}

// Get returns a user record to themselves, to a global admin, or to anyone
// sharing at least one pool with the target.
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	caller := middleware.GetCurrentUser(c)

	target, err := h.loadUser(c)
	if err != nil || target == nil {
		return err
	}

	allowed := caller.ID == target.ID || caller.IsGlobalAdmin()
	if !allowed {
		shared, err := h.shareAPool(c, caller.ID, target.ID)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "internal error")
		}
		allowed = shared
	}
	if !allowed {
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}
	return utils.Success(c, fiber.StatusOK, target)
}

func (h *UsersHandler) GetByEmail(c *fiber.Ctx) error {
	caller := middleware.GetCurrentUser(c)

	email := strings.TrimSpace(c.Params("email"))
	var target models.User
	if err := h.DB.Where("email = ?", email).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}

	if caller.ID != target.ID && !caller.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}
	return utils.Success(c, fiber.StatusOK, target)
}

type userUpdateRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Role      *string `json:"role"`
}

// Update lets a user edit their own profile; the platform role can only be
// changed by a global admin.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	caller := middleware.GetCurrentUser(c)

	target, err := h.loadUser(c)
	if err != nil || target == nil {
		return err
	}
	if caller.ID != target.ID && !caller.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}

	var req userUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.FirstName != nil {
		target.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		target.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Role != nil {
		if !caller.IsGlobalAdmin() {
			return utils.Error(c, fiber.StatusForbidden, "only admins may change roles")
		}
		role := strings.ToUpper(strings.TrimSpace(*req.Role))
		if role != string(models.UserRoleAdmin) && role != string(models.UserRoleUser) {
			return utils.Error(c, fiber.StatusBadRequest, "unknown role")
		}
		target.Role = models.UserRole(role)
	}

	if err := h.DB.Save(target).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not update user")
	}

	logger.InfoWithUser(caller.ID.String(), "user_updated", map[string]interface{}{
		"targetUserID": target.ID.String(),
	})
	return utils.Success(c, fiber.StatusOK, target)
}

func (h *UsersHandler) Pools(c *fiber.Ctx) error {
	caller := middleware.GetCurrentUser(c)

	target, err := h.loadUser(c)
	if err != nil || target == nil {
		return err
	}
	if caller.ID != target.ID && !caller.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}

	pools, err := h.Access.PoolsFromUser(c.Context(), target.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load pools")
	}
	return utils.Success(c, fiber.StatusOK, pools)
}

func (h *UsersHandler) PoolCount(c *fiber.Ctx) error {
	caller := middleware.GetCurrentUser(c)

	target, err := h.loadUser(c)
	if err != nil || target == nil {
		return err
	}
	if caller.ID != target.ID && !caller.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}

	count, err := h.Access.CountPoolsByUser(c.Context(), target.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not count pools")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"count": count})
}

func (h *UsersHandler) shareAPool(c *fiber.Ctx, a, b uuid.UUID) (bool, error) {
	mine, err := h.Access.AccessiblePoolIDs(c.Context(), a)
	if err != nil {
		return false, err
	}
	theirs, err := h.Access.AccessiblePoolIDs(c.Context(), b)
	if err != nil {
		return false, err
	}
	seen := make(map[uuid.UUID]struct{}, len(mine))
	for _, id := range mine {
		seen[id] = struct{}{}
	}
	for _, id := range theirs {
		if _, ok := seen[id]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (h *UsersHandler) loadUser(c *fiber.Ctx) (*models.User, error) {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	return &user, nil
}
