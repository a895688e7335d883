package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/poolshare/backend/internal/middleware"
	"github.com/poolshare/backend/internal/models"
	"github.com/poolshare/backend/internal/services"
	"github.com/poolshare/backend/internal/storage"
	"github.com/poolshare/backend/pkg/invitetoken"
	"github.com/poolshare/backend/pkg/logger"
	"github.com/poolshare/backend/pkg/utils"
)

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	remote *fakeRemote
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

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

	remote := newFakeRemote()

	accessService := services.NewAccessService(db)
	userService := services.NewUserService(db)
	tokenService := invitetoken.NewService("test-secret", time.Hour)
	invitationService := services.NewInvitationService(db, tokenService, userService, accessService)

	authHandler := NewAuthHandler(db)
	usersHandler := NewUsersHandler(db, accessService)
	poolsHandler := NewPoolsHandler(db, accessService, invitationService, remote)
	filesHandler := NewFilesHandler(db, accessService, remote)
	accessesHandler := NewAccessesHandler(db, accessService)
	publicHandler := NewPublicHandler(db, invitationService, remote)

	authMiddleware := middleware.NewAuthMiddleware(db, userService)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	publicRoutes := api.Group("/public")
	publicRoutes.Get("/pools", publicHandler.ListPools)
	publicRoutes.Get("/pools/:id", publicHandler.GetPool)
	publicRoutes.Get("/pools/:id/files", publicHandler.PoolFiles)
	publicRoutes.Get("/files/:id/download", publicHandler.Download)
	publicRoutes.Get("/files/:id/preview", publicHandler.Preview)

	api.Get("/invitations/validate/:token", publicHandler.ValidateInvitation)
	api.Post("/invitations/accept", authMiddleware.RequireAuth, publicHandler.AcceptInvitation)

	poolRoutes := api.Group("/pools", authMiddleware.RequireAuth)
	poolRoutes.Get("/", poolsHandler.List)
	poolRoutes.Post("/", poolsHandler.Create)
	poolRoutes.Post("/invitations/token", poolsHandler.GenerateInvitation)
	poolRoutes.Get("/:id", poolsHandler.Get)
	poolRoutes.Put("/:id", poolsHandler.Update)
	poolRoutes.Delete("/:id", poolsHandler.Delete)
	poolRoutes.Get("/:id/users", poolsHandler.Members)
	poolRoutes.Get("/:id/users/count", poolsHandler.MemberCount)
	poolRoutes.Get("/:id/files", poolsHandler.Files)
	poolRoutes.Get("/:id/stats", poolsHandler.Stats)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Get("/", filesHandler.List)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Get("/:id/download", filesHandler.Download)
	fileRoutes.Get("/:id/preview", filesHandler.Preview)
	fileRoutes.Get("/:id/uploader", filesHandler.Uploader)
	fileRoutes.Get("/:id/pool", filesHandler.Pool)
	fileRoutes.Get("/:id", filesHandler.Get)
	fileRoutes.Put("/:id", filesHandler.Update)
	fileRoutes.Delete("/:id", filesHandler.Delete)

	accessRoutes := api.Group("/accesses", authMiddleware.RequireAuth)
	accessRoutes.Get("/", middleware.AdminOnly, accessesHandler.List)
	accessRoutes.Post("/", accessesHandler.Create)
	accessRoutes.Get("/:id", accessesHandler.Get)
	accessRoutes.Put("/:id", accessesHandler.Update)
	accessRoutes.Delete("/:id", accessesHandler.Delete)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth)
	userRoutes.Get("/", middleware.AdminOnly, usersHandler.List)
	userRoutes.Get("/count", middleware.AdminOnly, usersHandler.Count)
	userRoutes.Get("/role/:role", middleware.AdminOnly, usersHandler.ByRole)
	userRoutes.Get("/email/:email", usersHandler.GetByEmail)
	userRoutes.Get("/:id/pools", usersHandler.Pools)
	userRoutes.Get("/:id/pools/count", usersHandler.PoolCount)
	userRoutes.Get("/:id", usersHandler.Get)
	userRoutes.Put("/:id", usersHandler.Update)

	return &testEnv{app: app, db: db, remote: remote}
}

// fakeRemote keeps uploaded bytes in memory and satisfies the same error
// contract as the real gateway.
type fakeRemote struct {
	mu          sync.Mutex
	files       map[string][]byte
	failUploads bool
	failReads   bool
	failDeletes bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: map[string][]byte{}}
}

func (r *fakeRemote) BaseDir() string { return "/srv/poolshare" }

func (r *fakeRemote) RemoteDirFor(poolID, userID uuid.UUID) string {
	return fmt.Sprintf("%s/pool%s/user%s", r.BaseDir(), poolID, userID)
}

func (r *fakeRemote) Upload(remoteDir, filename string, data io.ReadCloser) error {
	defer data.Close()

	if r.failUploads {
		return fmt.Errorf("%w: upload refused", storage.ErrRemoteIO)
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrRemoteIO, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[remoteDir+"/"+filename] = content
	return nil
}

func (r *fakeRemote) Delete(remotePath string) error {
	if r.failDeletes {
		return fmt.Errorf("%w: delete refused", storage.ErrRemoteIO)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, remotePath)
	return nil
}

func (r *fakeRemote) OpenRead(remotePath string) (storage.ReadHandle, error) {
	if r.failReads {
		return nil, fmt.Errorf("%w: read refused", storage.ErrRemoteIO)
	}
	r.mu.Lock()
	content, ok := r.files[remotePath]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s missing", storage.ErrRemoteIO, remotePath)
	}
	return &fakeHandle{Reader: bytes.NewReader(content), length: int64(len(content))}, nil
}

func (r *fakeRemote) has(remotePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.files[remotePath]
	return ok
}

func (r *fakeRemote) content(remotePath string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[remotePath]
}

type fakeHandle struct {
	*bytes.Reader
	length int64
}

func (h *fakeHandle) Close() error  { return nil }
func (h *fakeHandle) Length() int64 { return h.length }

func createTestUser(t *testing.T, db *gorm.DB, email string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword("password123")
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Subject:      "local|" + email,
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func createTestPool(t *testing.T, db *gorm.DB, owner *models.User, name string, public bool) *models.Pool {
	t.Helper()

	pool := &models.Pool{Name: name, CreatedByID: owner.ID, PublicAccess: public}
	if err := db.Create(pool).Error; err != nil {
		t.Fatalf("failed creating pool: %v", err)
	}
	grantTestRole(t, db, owner.ID, pool.ID, string(models.RoleOwner))
	return pool
}

func grantTestRole(t *testing.T, db *gorm.DB, userID, poolID uuid.UUID, role string) *models.Access {
	t.Helper()

	access := &models.Access{UserID: userID, PoolID: poolID, Role: role}
	if err := db.Create(access).Error; err != nil {
		t.Fatalf("failed creating access: %v", err)
	}
	return access
}

func createTestFile(t *testing.T, env *testEnv, pool *models.Pool, uploader *models.User, name string, content []byte) *models.File {
	t.Helper()

	dir := env.remote.RemoteDirFor(pool.ID, uploader.ID)
	path := dir + "/" + name
	env.remote.mu.Lock()
	env.remote.files[path] = content
	env.remote.mu.Unlock()

	file := &models.File{
		Name:       name,
		Path:       path,
		PoolID:     pool.ID,
		UploaderID: uploader.ID,
	}
	if err := env.db.Create(file).Error; err != nil {
		t.Fatalf("failed creating file record: %v", err)
	}
	return file
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func dataObject(t *testing.T, body map[string]any) map[string]any {
	t.Helper()

	if success, _ := body["success"].(bool); !success {
		t.Fatalf("expected success=true, got %+v", body)
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", body["data"])
	}
	return data
}

func dataList(t *testing.T, body map[string]any) []any {
	t.Helper()

	if success, _ := body["success"].(bool); !success {
		t.Fatalf("expected success=true, got %+v", body)
	}
	data, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected data array, got %T", body["data"])
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
