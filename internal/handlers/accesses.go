package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/middleware"
	"github.com/poolshare/backend/internal/models"
	"github.com/poolshare/backend/internal/services"
	"github.com/poolshare/backend/pkg/logger"
	"github.com/poolshare/backend/pkg/utils"
)

// AccessesHandler is the administrative surface over raw membership rows.
// The owner role is only ever granted by pool creation; none of these
// endpoints can mint or demote an owner.
type AccessesHandler struct {
	DB     *gorm.DB
	Access *services.AccessService
}

func NewAccessesHandler(db *gorm.DB, access *services.AccessService) *AccessesHandler {
	return &AccessesHandler{DB: db, Access: access}
}

type accessRequest struct {
	UserID string `json:"userId"`
	PoolID string `json:"poolId"`
	Role   string `json:"role"`
}

// List is global-admin only; it is the one place the whole table is visible.
func (h *AccessesHandler) List(c *fiber.Ctx) error {
	var accesses []models.Access
	if err := h.DB.Preload("User").Preload("Pool").Find(&accesses).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load accesses")
	}
	return utils.Success(c, fiber.StatusOK, accesses)
}

func (h *AccessesHandler) Get(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	access, err := h.loadAccess(c)
	if err != nil || access == nil {
		return err
	}

	isSelf := access.UserID == user.ID
	if !isSelf && !h.Access.IsOwnerOrAdmin(c.Context(), user.ID, access.PoolID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}
	return utils.Success(c, fiber.StatusOK, access)
}

// Create adds a membership row directly, bypassing the invitation flow.
// Caller must be elevated in the target pool or a global admin.
func (h *AccessesHandler) Create(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req accessRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	userID, err := parseUUID(req.UserID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	poolID, err := parseUUID(req.PoolID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid pool id")
	}

	role := models.ParseRole(req.Role)
	if role == models.RoleOwner {
		return utils.Error(c, fiber.StatusForbidden, "the owner role cannot be granted")
	}
	if role == models.RoleUnknown {
		role = models.RoleMember
	}

	var pool models.Pool
	if err := h.DB.First(&pool, "id = ?", poolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "pool not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	var target models.User
	if err := h.DB.First(&target, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}

	if !h.Access.IsOwnerOrAdmin(c.Context(), user.ID, poolID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "owner or admin role required")
	}

	existing, err := h.Access.AccessFor(c.Context(), userID, poolID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	if existing != nil {
		return utils.Error(c, fiber.StatusConflict, "already a member")
	}

	access := models.Access{UserID: userID, PoolID: poolID, Role: string(role)}
	if err := h.DB.Create(&access).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return utils.Error(c, fiber.StatusConflict, "already a member")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "could not create access")
	}

	logger.InfoWithUser(user.ID.String(), "access_created", map[string]interface{}{
		"targetUserID": userID.String(),
		"poolID":       poolID.String(),
		"role":         string(role),
	})
	return utils.Success(c, fiber.StatusCreated, access)
}

// Update changes the role of an existing row. Owner rows are immutable and
// no row can be raised to owner.
func (h *AccessesHandler) Update(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	access, err := h.loadAccess(c)
	if err != nil || access == nil {
		return err
	}
	if !h.Access.IsOwnerOrAdmin(c.Context(), user.ID, access.PoolID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "owner or admin role required")
	}
	if models.ParseRole(access.Role) == models.RoleOwner {
		return utils.Error(c, fiber.StatusForbidden, "the owner access cannot be changed")
	}

	var req accessRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	role := models.ParseRole(req.Role)
	if role == models.RoleOwner {
		return utils.Error(c, fiber.StatusForbidden, "the owner role cannot be granted")
	}
	if role == models.RoleUnknown {
		return utils.Error(c, fiber.StatusBadRequest, "unknown role")
	}

	access.Role = string(role)
	if err := h.DB.Save(access).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not update access")
	}

	logger.InfoWithUser(user.ID.String(), "access_updated", map[string]interface{}{
		"accessID": access.ID.String(),
		"role":     string(role),
	})
	return utils.Success(c, fiber.StatusOK, access)
}

// Delete removes a membership row. Members may leave on their own; pulling
// someone else out needs an elevated role in the pool. The owner row never
// goes away while the pool exists.
func (h *AccessesHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	access, err := h.loadAccess(c)
	if err != nil || access == nil {
		return err
	}
	if models.ParseRole(access.Role) == models.RoleOwner {
		return utils.Error(c, fiber.StatusForbidden, "the owner access cannot be removed")
	}

	isSelf := access.UserID == user.ID
	if !isSelf && !h.Access.IsOwnerOrAdmin(c.Context(), user.ID, access.PoolID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	}

	if err := h.DB.Delete(access).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not delete access")
	}

	logger.InfoWithUser(user.ID.String(), "access_deleted", map[string]interface{}{
		"accessID": access.ID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"id": access.ID})
}

func (h *AccessesHandler) loadAccess(c *fiber.Ctx) (*models.Access, error) {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid access id")
	}

	var access models.Access
	if err := h.DB.First(&access, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Error(c, fiber.StatusNotFound, "access not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	return &access, nil
}
