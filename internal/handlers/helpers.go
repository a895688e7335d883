package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/poolshare/backend/internal/services"
	"github.com/poolshare/backend/internal/storage"
	"github.com/poolshare/backend/pkg/invitetoken"
	"github.com/poolshare/backend/pkg/utils"
)

const dateLayout = "2006-01-02"

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func parseDate(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// mapServiceError translates the service-layer outcome sentinels onto HTTP
// statuses. Expired invitations get 410 so the frontend can show "link
// expired" instead of a generic failure.
func mapServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrPermissionDenied):
		return utils.Error(c, fiber.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrWrongEmail):
		return utils.Error(c, fiber.StatusForbidden, "this invitation is destined for a different address")
	case errors.Is(err, services.ErrNotFound):
		return utils.Error(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, services.ErrConflict):
		return utils.Error(c, fiber.StatusConflict, "already a member")
	case errors.Is(err, services.ErrValidation):
		return utils.Error(c, fiber.StatusBadRequest, "invalid input")
	case errors.Is(err, invitetoken.ErrExpired):
		return utils.Error(c, fiber.StatusGone, "this invitation link has expired")
	case errors.Is(err, invitetoken.ErrInvalid):
		return utils.Error(c, fiber.StatusBadRequest, "invalid invitation token")
	case errors.Is(err, storage.ErrRemoteIO):
		return utils.Error(c, fiber.StatusBadGateway, "storage backend failure")
	default:
		return utils.Error(c, fiber.StatusInternalServerError, "internal error")
	}
}
