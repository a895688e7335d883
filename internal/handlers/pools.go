package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/middleware"
	"github.com/poolshare/backend/internal/models"
	"github.com/poolshare/backend/internal/services"
	"github.com/poolshare/backend/internal/storage"
	"github.com/poolshare/backend/pkg/logger"
	"github.com/poolshare/backend/pkg/utils"
)

type PoolsHandler struct {
	DB          *gorm.DB
	Access      *services.AccessService
	Invitations *services.InvitationService
	Storage     storage.Remote
}

func NewPoolsHandler(db *gorm.DB, access *services.AccessService, invitations *services.InvitationService, remote storage.Remote) *PoolsHandler {
	return &PoolsHandler{DB: db, Access: access, Invitations: invitations, Storage: remote}
}

type poolRequest struct {
	Name         string  `json:"name"`
	Description  *string `json:"description"`
	PublicAccess *bool   `json:"publicAccess"`
}

// List returns the pools the caller holds a membership row for.
func (h *PoolsHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	pools, err := h.Access.PoolsFromUser(c.Context(), user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load pools")
	}
	return utils.Success(c, fiber.StatusOK, pools)
}

// Create stores the pool and grants the creator the owner role.
func (h *PoolsHandler) Create(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req poolRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}

	pool := models.Pool{
		Name:        req.Name,
		Description: req.Description,
		CreatedByID: user.ID,
	}
	if req.PublicAccess != nil {
		pool.PublicAccess = *req.PublicAccess
	}
	if err := h.DB.Create(&pool).Error; err != nil {
		logger.ErrorWithUser(user.ID.String(), "pool_create_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "could not create pool")
	}

	access := models.Access{UserID: user.ID, PoolID: pool.ID, Role: string(models.RoleOwner)}
	if err := h.DB.Create(&access).Error; err != nil {
		logger.ErrorWithUser(user.ID.String(), "owner_access_create_failed", err, map[string]interface{}{
			"poolID": pool.ID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "could not create pool")
	}

	logger.InfoWithUser(user.ID.String(), "pool_created", map[string]interface{}{
		"poolID": pool.ID.String(),
	})
	return utils.Success(c, fiber.StatusCreated, pool)
}

// Get answers 404 before 403 so a member probing an id can tell a missing
// pool from a forbidden one.
func (h *PoolsHandler) Get(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	pool, err := h.loadPool(c)
	if err != nil || pool == nil {
		return err
	}
	if !h.Access.HasAccessToPool(c.Context(), user.ID, pool.ID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this pool")
	}
	return utils.Success(c, fiber.StatusOK, pool)
}

func (h *PoolsHandler) Update(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	pool, err := h.loadPool(c)
	if err != nil || pool == nil {
		return err
	}
	if !h.Access.IsOwnerOrAdmin(c.Context(), user.ID, pool.ID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "owner or admin role required")
	}

	var req poolRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		pool.Name = name
	}
	if req.Description != nil {
		pool.Description = req.Description
	}
	if req.PublicAccess != nil {
		pool.PublicAccess = *req.PublicAccess
	}
	if err := h.DB.Save(pool).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not update pool")
	}
	return utils.Success(c, fiber.StatusOK, pool)
}

// Delete removes the pool with its memberships and file records, and makes
// a best-effort pass over the remote bytes. A failed remote delete is
// logged but never blocks the teardown.
func (h *PoolsHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	pool, err := h.loadPool(c)
	if err != nil || pool == nil {
		return err
	}

	access, err := h.Access.AccessFor(c.Context(), user.ID, pool.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	isOwner := access != nil && models.ParseRole(access.Role) == models.RoleOwner
	if !isOwner && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "only the pool owner may delete it")
	}

	var files []models.File
	if err := h.DB.Where("pool_id = ?", pool.ID).Find(&files).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	for _, file := range files {
		if err := h.Storage.Delete(file.Path); err != nil {
			logger.WarnWithUser(user.ID.String(), "remote_delete_failed", map[string]interface{}{
				"fileID": file.ID.String(),
				"path":   file.Path,
			})
		}
	}

	if err := h.DB.Where("pool_id = ?", pool.ID).Delete(&models.File{}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not delete pool")
	}
	if err := h.DB.Where("pool_id = ?", pool.ID).Delete(&models.Access{}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not delete pool")
	}
	if err := h.DB.Delete(pool).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not delete pool")
	}

	logger.InfoWithUser(user.ID.String(), "pool_deleted", map[string]interface{}{
		"poolID": pool.ID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"id": pool.ID})
}

func (h *PoolsHandler) Members(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	pool, err := h.loadPool(c)
	if err != nil || pool == nil {
		return err
	}
	if !h.Access.HasAccessToPool(c.Context(), user.ID, pool.ID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this pool")
	}

	users, err := h.Access.UsersFromPool(c.Context(), pool.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load members")
	}
	return utils.Success(c, fiber.StatusOK, users)
}

func (h *PoolsHandler) MemberCount(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	pool, err := h.loadPool(c)
	if err != nil || pool == nil {
		return err
	}
	if !h.Access.HasAccessToPool(c.Context(), user.ID, pool.ID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this pool")
	}

	count, err := h.Access.CountUsersByPool(c.Context(), pool.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not count members")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"count": count})
}

func (h *PoolsHandler) Files(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	pool, err := h.loadPool(c)
	if err != nil || pool == nil {
		return err
	}
	if !h.Access.HasAccessToPool(c.Context(), user.ID, pool.ID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this pool")
	}

	var files []models.File
	if err := h.DB.Preload("Uploader").Where("pool_id = ?", pool.ID).Find(&files).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load files")
	}
	return utils.Success(c, fiber.StatusOK, files)
}

type uploaderStat struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	FileCount int64  `json:"fileCount"`
}

type poolStats struct {
	PoolID            string           `json:"poolId"`
	Name              string           `json:"name"`
	MemberCount       int64            `json:"memberCount"`
	FileCount         int64            `json:"fileCount"`
	RoleDistribution  map[string]int64 `json:"roleDistribution"`
	TopUploaders      []uploaderStat   `json:"topUploaders"`
	InactiveMembers   int64            `json:"inactiveMembers"`
	AvgFilesPerMember float64          `json:"avgFilesPerMember"`
	LastFileAt        *time.Time       `json:"lastFileAt,omitempty"`
}

// Stats aggregates the activity summary shown on the pool dashboard.
// Public pools skip the membership gate.
func (h *PoolsHandler) Stats(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	pool, err := h.loadPool(c)
	if err != nil || pool == nil {
		return err
	}
	if !pool.PublicAccess && !h.Access.HasAccessToPool(c.Context(), user.ID, pool.ID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this pool")
	}

	var fileCount int64
	if err := h.DB.Model(&models.File{}).Where("pool_id = ?", pool.ID).Count(&fileCount).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load stats")
	}

	accesses, err := h.Access.AccessesByPool(c.Context(), pool.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load stats")
	}
	roles := map[string]int64{}
	for _, access := range accesses {
		roles[string(models.ParseRole(access.Role))]++
	}
	memberCount := int64(len(accesses))

	type uploaderRow struct {
		UploaderID uuid.UUID
		Count      int64
	}
	var uploaderRows []uploaderRow
	err = h.DB.Model(&models.File{}).
		Select("uploader_id, COUNT(*) AS count").
		Where("pool_id = ?", pool.ID).
		Group("uploader_id").
		Order("count DESC").
		Limit(5).
		Scan(&uploaderRows).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load stats")
	}

	activeUploaders := map[uuid.UUID]bool{}
	topUploaders := make([]uploaderStat, 0, len(uploaderRows))
	for _, row := range uploaderRows {
		activeUploaders[row.UploaderID] = true
		var uploader models.User
		if err := h.DB.First(&uploader, "id = ?", row.UploaderID).Error; err != nil {
			continue
		}
		topUploaders = append(topUploaders, uploaderStat{
			UserID:    uploader.ID.String(),
			Email:     uploader.Email,
			FileCount: row.Count,
		})
	}

	var inactive int64
	for _, access := range accesses {
		var uploads int64
		err := h.DB.Model(&models.File{}).
			Where("pool_id = ? AND uploader_id = ?", pool.ID, access.UserID).
			Count(&uploads).Error
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "could not load stats")
		}
		if uploads == 0 {
			inactive++
		}
	}

	var lastFileAt *time.Time
	var lastFile models.File
	err = h.DB.Where("pool_id = ?", pool.ID).Order("created_at DESC").First(&lastFile).Error
	if err == nil {
		lastFileAt = &lastFile.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load stats")
	}

	avg := 0.0
	if memberCount > 0 {
		avg = float64(fileCount) / float64(memberCount)
	}

	return utils.Success(c, fiber.StatusOK, poolStats{
		PoolID:            pool.ID.String(),
		Name:              pool.Name,
		MemberCount:       memberCount,
		FileCount:         fileCount,
		RoleDistribution:  roles,
		TopUploaders:      topUploaders,
		InactiveMembers:   inactive,
		AvgFilesPerMember: avg,
		LastFileAt:        lastFileAt,
	})
}

type invitationRequest struct {
	PoolID string `json:"poolId"`
	Email  string `json:"email"`
}

// GenerateInvitation mints a signed join grant for a pool the caller is a
// member of, optionally scoped to one email address.
func (h *PoolsHandler) GenerateInvitation(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	var req invitationRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	poolID, err := parseUUID(req.PoolID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid pool id")
	}

	var pool models.Pool
	if err := h.DB.First(&pool, "id = ?", poolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "pool not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}

	invitation, err := h.Invitations.Generate(c.Context(), user, poolID, strings.TrimSpace(req.Email))
	if err != nil {
		return mapServiceError(c, err)
	}

	logger.InfoWithUser(user.ID.String(), "invitation_generated", map[string]interface{}{
		"poolID": poolID.String(),
	})
	return utils.Success(c, fiber.StatusCreated, invitation)
}

// loadPool resolves the :id path param. It writes the error response itself
// and returns (nil, nil) after doing so, so call sites only continue on a
// non-nil pool.
func (h *PoolsHandler) loadPool(c *fiber.Ctx) (*models.Pool, error) {
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
	return &pool, nil
}
