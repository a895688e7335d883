package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/middleware"
	"github.com/poolshare/backend/internal/models"
	"github.com/poolshare/backend/internal/services"
	"github.com/poolshare/backend/internal/storage"
	"github.com/poolshare/backend/pkg/logger"
	"github.com/poolshare/backend/pkg/utils"
)

// PublicHandler serves the unauthenticated surface: browsing public pools
// and the invitation landing flow. Everything here re-checks publicAccess
// on the loaded pool; membership rows are never consulted.
type PublicHandler struct {
	DB          *gorm.DB
	Invitations *services.InvitationService
	Storage     storage.Remote
}

func NewPublicHandler(db *gorm.DB, invitations *services.InvitationService, remote storage.Remote) *PublicHandler {
	return &PublicHandler{DB: db, Invitations: invitations, Storage: remote}
}

type publicPool struct {
	models.Pool
	FileCount int64 `json:"fileCount"`
}

func (h *PublicHandler) ListPools(c *fiber.Ctx) error {
	var pools []models.Pool
	if err := h.DB.Where("public_access = ?", true).Find(&pools).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load pools")
	}

	out := make([]publicPool, 0, len(pools))
	for _, pool := range pools {
		var fileCount int64
		if err := h.DB.Model(&models.File{}).Where("pool_id = ?", pool.ID).Count(&fileCount).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "could not load pools")
		}
		out = append(out, publicPool{Pool: pool, FileCount: fileCount})
	}
	return utils.Success(c, fiber.StatusOK, out)
}

func (h *PublicHandler) GetPool(c *fiber.Ctx) error {
	pool, err := h.loadPublicPool(c)
	if err != nil || pool == nil {
		return err
	}
	return utils.Success(c, fiber.StatusOK, pool)
}

func (h *PublicHandler) PoolFiles(c *fiber.Ctx) error {
	pool, err := h.loadPublicPool(c)
	if err != nil || pool == nil {
		return err
	}

	var files []models.File
	if err := h.DB.Where("pool_id = ?", pool.ID).Find(&files).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load files")
	}
	return utils.Success(c, fiber.StatusOK, files)
}

func (h *PublicHandler) Download(c *fiber.Ctx) error {
	file, err := h.loadPublicFile(c)
	if err != nil || file == nil {
		return err
	}
	return streamFile(c, h.Storage, file, "attachment")
}

func (h *PublicHandler) Preview(c *fiber.Ctx) error {
	file, err := h.loadPublicFile(c)
	if err != nil || file == nil {
		return err
	}
	return streamFile(c, h.Storage, file, "inline")
}

// ValidateInvitation backs the landing page shown before login: it reports
// what the token would grant without consuming anything.
func (h *PublicHandler) ValidateInvitation(c *fiber.Ctx) error {
	token := c.Params("token")

	details, err := h.Invitations.Validate(c.Context(), token)
	if err != nil {
		return mapServiceError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"valid":     true,
		"email":     details.Email,
		"poolId":    details.PoolID,
		"poolName":  details.PoolName,
		"expiresAt": details.ExpiresAt,
	})
}

type acceptRequest struct {
	Token string `json:"token"`
}

// AcceptInvitation runs behind RequireAuth: the authenticated identity is
// the one the grant is redeemed for.
func (h *PublicHandler) AcceptInvitation(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req acceptRequest
	if err := c.BodyParser(&req); err != nil || req.Token == "" {
		return utils.Error(c, fiber.StatusBadRequest, "token is required")
	}

	result, err := h.Invitations.Accept(c.Context(), services.Identity{
		Subject:   user.Subject,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}, req.Token)
	if err != nil {
		return mapServiceError(c, err)
	}

	logger.InfoWithUser(user.ID.String(), "invitation_accepted", map[string]interface{}{
		"poolID": result.PoolID.String(),
	})
	return utils.Success(c, fiber.StatusOK, result)
}

func (h *PublicHandler) loadPublicPool(c *fiber.Ctx) (*models.Pool, error) {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid pool id")
	}

	var pool models.Pool
	if err := h.DB.First(&pool, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Error(c, fiber.StatusNotFound, "pool not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	if !pool.PublicAccess {
		return nil, utils.Error(c, fiber.StatusForbidden, "this pool is not public")
	}
	return &pool, nil
}

func (h *PublicHandler) loadPublicFile(c *fiber.Ctx) (*models.File, error) {
	id, err := parseUUID(c.Params("id"))
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, "invalid file id")
	}

	var file models.File
	if err := h.DB.First(&file, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Error(c, fiber.StatusNotFound, "file not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}

	var pool models.Pool
	if err := h.DB.First(&pool, "id = ?", file.PoolID).Error; err != nil {
		return nil, utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	if !pool.PublicAccess {
		return nil, utils.Error(c, fiber.StatusForbidden, "this pool is not public")
	}
	return &file, nil
}
