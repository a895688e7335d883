package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/models"
	"github.com/poolshare/backend/internal/services"
	"github.com/poolshare/backend/pkg/logger"
	"github.com/poolshare/backend/pkg/utils"
)

const currentUserKey = "currentUser"

type AuthMiddleware struct {
	DB    *gorm.DB
	Users *services.UserService
}

func NewAuthMiddleware(db *gorm.DB, users *services.UserService) *AuthMiddleware {
	return &AuthMiddleware{DB: db, Users: users}
}

func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins: "http://localhost:5173,http://127.0.0.1:5173",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	})
}

// RequireAuth validates the bearer token and syncs the verified identity
// into the user table, so a first-time subject gets a record on its first
// authenticated request.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	claims, errMsg := a.parseBearer(c)
	if claims == nil {
		logger.Warn("auth_rejected", map[string]interface{}{
			"ip":     c.IP(),
			"path":   c.Path(),
			"reason": errMsg,
		})
		return utils.Error(c, fiber.StatusUnauthorized, errMsg)
	}

	user, err := a.Users.UpsertFromIdentity(c.Context(), services.Identity{
		Subject:   claims.Subject,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	})
	if err != nil {
		logger.Error("identity_sync_failed", err, map[string]interface{}{
			"subject": claims.Subject,
			"path":    c.Path(),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "user not found")
	}

	c.Locals(currentUserKey, user)
	c.Locals("userID", user.ID.String())
	return c.Next()
}

// OptionalAuth attaches the current user when a valid token is present and
// stays silent otherwise. Public routes use it so member-only extras can
// light up for logged-in visitors.
func (a *AuthMiddleware) OptionalAuth(c *fiber.Ctx) error {
	claims, _ := a.parseBearer(c)
	if claims == nil {
		return c.Next()
	}

	user, err := a.Users.UpsertFromIdentity(c.Context(), services.Identity{
		Subject:   claims.Subject,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	})
	if err != nil {
		return c.Next()
	}

	c.Locals(currentUserKey, user)
	c.Locals("userID", user.ID.String())
	return c.Next()
}

func (a *AuthMiddleware) parseBearer(c *fiber.Ctx) (*utils.Claims, string) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, "missing authorization header"
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader || tokenString == "" {
		return nil, "invalid authorization format"
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		return nil, "invalid or expired token"
	}
	return claims, ""
}

func AdminOnly(c *fiber.Ctx) error {
	user := GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if !user.IsGlobalAdmin() {
		return utils.Error(c, fiber.StatusForbidden, "admin access required")
	}
	return c.Next()
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
