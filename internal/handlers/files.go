package handlers

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/middleware"
	"github.com/poolshare/backend/internal/models"
	"github.com/poolshare/backend/internal/services"
	"github.com/poolshare/backend/internal/storage"
	"github.com/poolshare/backend/pkg/logger"
	"github.com/poolshare/backend/pkg/utils"
)

type FilesHandler struct {
	DB      *gorm.DB
	Access  *services.AccessService
	Storage storage.Remote
}

func NewFilesHandler(db *gorm.DB, access *services.AccessService, remote storage.Remote) *FilesHandler {
	return &FilesHandler{DB: db, Access: access, Storage: remote}
}

// List returns the file records of every pool the caller belongs to.
func (h *FilesHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	poolIDs, err := h.Access.AccessiblePoolIDs(c.Context(), user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load files")
	}
	if len(poolIDs) == 0 {
		return utils.Success(c, fiber.StatusOK, []models.File{})
	}

	var files []models.File
	if err := h.DB.Where("pool_id IN ?", poolIDs).Find(&files).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not load files")
	}
	return utils.Success(c, fiber.StatusOK, files)
}

func (h *FilesHandler) Get(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	file, err := h.loadFile(c)
	if err != nil || file == nil {
		return err
	}
	if !h.Access.CanAccessFile(c.Context(), user.ID, file) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this file")
	}
	return utils.Success(c, fiber.StatusOK, file)
}

func (h *FilesHandler) Uploader(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	file, err := h.loadFile(c)
	if err != nil || file == nil {
		return err
	}
	if !h.Access.CanAccessFile(c.Context(), user.ID, file) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this file")
	}

	var uploader models.User
	if err := h.DB.First(&uploader, "id = ?", file.UploaderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "uploader not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	return utils.Success(c, fiber.StatusOK, uploader)
}

func (h *FilesHandler) Pool(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	file, err := h.loadFile(c)
	if err != nil || file == nil {
		return err
	}
	if !h.Access.CanAccessFile(c.Context(), user.ID, file) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this file")
	}

	var pool models.Pool
	if err := h.DB.First(&pool, "id = ?", file.PoolID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "pool not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
	return utils.Success(c, fiber.StatusOK, pool)
}

// Upload streams the multipart part to the remote backend and records the
// file. All request validation happens before the first remote byte moves;
// when the record insert fails afterwards the uploaded bytes are removed
// again so backend and table stay consistent.
func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "file is required")
	}
	poolID, err := parseUUID(c.FormValue("poolId"))
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

	if !h.Access.HasAccessToPool(c.Context(), user.ID, pool.ID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this pool")
	}
	if !h.Access.CanModifyInPool(c.Context(), user.ID, pool.ID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "owner or admin role required")
	}

	expiration, err := parseDate(c.FormValue("expirationDate"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "expirationDate must be formatted YYYY-MM-DD")
	}

	safeName := storage.SanitizeFilename(fileHeader.Filename)
	displayName := displayNameFor(c.FormValue("name"), fileHeader.Filename)
	if displayName == "" {
		displayName = safeName
	}

	stream, err := fileHeader.Open()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not read upload")
	}

	remoteDir := h.Storage.RemoteDirFor(pool.ID, user.ID)
	if err := h.Storage.Upload(remoteDir, safeName, stream); err != nil {
		logger.ErrorWithUser(user.ID.String(), "file_upload_failed", err, map[string]interface{}{
			"poolID": pool.ID.String(),
			"name":   safeName,
		})
		return mapServiceError(c, err)
	}

	var description *string
	if d := c.FormValue("description"); d != "" {
		description = &d
	}

	record := models.File{
		Name:           displayName,
		Path:           remoteDir + "/" + safeName,
		PoolID:         pool.ID,
		UploaderID:     user.ID,
		Description:    description,
		ExpirationDate: expiration,
	}
	if err := h.DB.Create(&record).Error; err != nil {
		if delErr := h.Storage.Delete(record.Path); delErr != nil {
			logger.ErrorWithUser(user.ID.String(), "orphan_cleanup_failed", delErr, map[string]interface{}{
				"path": record.Path,
			})
		}
		logger.ErrorWithUser(user.ID.String(), "file_record_failed", err, map[string]interface{}{
			"poolID": pool.ID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "could not save file")
	}

	logger.InfoWithUser(user.ID.String(), "file_uploaded", map[string]interface{}{
		"fileID": record.ID.String(),
		"poolID": pool.ID.String(),
	})
	return utils.Success(c, fiber.StatusCreated, record)
}

// Update patches metadata and, when the request carries a new file part,
// replaces the remote content. Replacement deletes the old path first so a
// rename cannot leave two copies behind, and the uploaded name wins over any
// name field in the same request.
func (h *FilesHandler) Update(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	file, err := h.loadFile(c)
	if err != nil || file == nil {
		return err
	}
	if !h.Access.CanAccessFile(c.Context(), user.ID, file) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this file")
	}
	if !h.Access.CanModifyInPool(c.Context(), user.ID, file.PoolID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "owner or admin role required")
	}

	if raw := c.FormValue("expirationDate"); raw != "" {
		expiration, err := parseDate(raw)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "expirationDate must be formatted YYYY-MM-DD")
		}
		file.ExpirationDate = expiration
	}

	fileHeader, headerErr := c.FormFile("file")
	if headerErr == nil && fileHeader != nil {
		stream, err := fileHeader.Open()
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "could not read upload")
		}

		safeName := storage.SanitizeFilename(fileHeader.Filename)
		remoteDir := path.Dir(file.Path)

		if err := h.Storage.Delete(file.Path); err != nil {
			stream.Close()
			return mapServiceError(c, err)
		}
		if err := h.Storage.Upload(remoteDir, safeName, stream); err != nil {
			return mapServiceError(c, err)
		}

		file.Name = safeName
		file.Path = remoteDir + "/" + safeName
	} else if name := strings.TrimSpace(c.FormValue("name")); name != "" {
		file.Name = name
	}
	if d := c.FormValue("description"); d != "" {
		file.Description = &d
	}

	if err := h.DB.Save(file).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not update file")
	}

	logger.InfoWithUser(user.ID.String(), "file_updated", map[string]interface{}{
		"fileID": file.ID.String(),
	})
	return utils.Success(c, fiber.StatusOK, file)
}

// Delete removes the remote content first; when the backend refuses, the
// record stays so the file does not vanish from listings while its bytes
// live on.
func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	file, err := h.loadFile(c)
	if err != nil || file == nil {
		return err
	}
	if !h.Access.CanAccessFile(c.Context(), user.ID, file) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this file")
	}
	if !h.Access.CanModifyInPool(c.Context(), user.ID, file.PoolID) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "owner or admin role required")
	}

	if err := h.Storage.Delete(file.Path); err != nil {
		logger.ErrorWithUser(user.ID.String(), "file_delete_failed", err, map[string]interface{}{
			"fileID": file.ID.String(),
			"path":   file.Path,
		})
		return mapServiceError(c, err)
	}
	if err := h.DB.Delete(file).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "could not delete file")
	}

	logger.InfoWithUser(user.ID.String(), "file_deleted", map[string]interface{}{
		"fileID": file.ID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"id": file.ID})
}

func (h *FilesHandler) Download(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	file, err := h.loadFile(c)
	if err != nil || file == nil {
		return err
	}
	if !h.Access.CanAccessFile(c.Context(), user.ID, file) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this file")
	}
	return streamFile(c, h.Storage, file, "attachment")
}

func (h *FilesHandler) Preview(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	file, err := h.loadFile(c)
	if err != nil || file == nil {
		return err
	}
	if !h.Access.CanAccessFile(c.Context(), user.ID, file) && !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "no access to this file")
	}
	return streamFile(c, h.Storage, file, "inline")
}

// streamFile hands the remote stream to the response body. The framework
// closes the stream once the body has been written, which tears down the
// session the stream rides on.
func streamFile(c *fiber.Ctx, remote storage.Remote, file *models.File, disposition string) error {
	handle, err := remote.OpenRead(file.Path)
	if err != nil {
		logger.Error("file_stream_failed", err, map[string]interface{}{
			"fileID": file.ID.String(),
			"path":   file.Path,
		})
		return mapServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, contentTypeFor(file.Name))
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("%s; filename=%q", disposition, file.Name))
	return c.SendStream(handle, int(handle.Length()))
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// displayNameFor keeps the caller-chosen name but makes sure it still
// carries the original upload's extension, so a rename cannot detach a
// file from its type.
func displayNameFor(requested, original string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return ""
	}
	ext := path.Ext(original)
	if ext != "" && !strings.EqualFold(path.Ext(requested), ext) {
		return requested + ext
	}
	return requested
}

func (h *FilesHandler) loadFile(c *fiber.Ctx) (*models.File, error) {
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
	return &file, nil
}
