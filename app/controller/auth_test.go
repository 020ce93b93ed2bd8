package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytecinema/cinema-auth/app/controller"
	"github.com/bytecinema/cinema-auth/app/entity"
	"github.com/bytecinema/cinema-auth/app/middleware"
	"github.com/bytecinema/cinema-auth/app/notify"
	"github.com/bytecinema/cinema-auth/app/repository"
	"github.com/bytecinema/cinema-auth/app/service"
	"github.com/bytecinema/cinema-auth/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

var userColumns = []string{
	"id",
	"email",
	"name",
	"password_hash",
	"is_verified",
	"refresh_token",
	"created_at",
	"updated_at",
}

const (
	findByEmailQuery        = `(?s)SELECT id, email, name, password_hash, is_verified, refresh_token, created_at, updated_at\s+FROM users WHERE email = \?`
	findByIDQuery           = `(?s)SELECT id, email, name, password_hash, is_verified, refresh_token, created_at, updated_at\s+FROM users WHERE id = \?`
	findByRefreshTokenQuery = `(?s)SELECT id, email, name, password_hash, is_verified, refresh_token, created_at, updated_at\s+FROM users WHERE email = \? AND refresh_token = \?`
	insertUserQuery         = `(?s)INSERT INTO users \(email, name, password_hash, is_verified, refresh_token, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?, \?, \?, \?\)`
	updateRefreshQuery      = `UPDATE users SET refresh_token = \?, updated_at = \? WHERE email = \?$`
	rotateRefreshQuery      = `UPDATE users SET refresh_token = \?, updated_at = \? WHERE email = \? AND refresh_token = \?`
	deleteUserQuery         = `DELETE FROM users WHERE id = \?`
)

type noopSender struct{}

func (noopSender) PublishOTP(context.Context, notify.OTPEvent) error { return nil }

type testEnv struct {
	e      *echo.Echo
	mock   sqlmock.Sqlmock
	tokens *service.TokenService
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		OTPTTL:          5 * time.Minute,
		OTPMaxAttempts:  5,
		PasswordPolicy: config.PasswordPolicy{
			MinLength: 1,
		},
	}

	userRepo := repository.NewUserRepository(db)
	otpStore := repository.NewOTPStore(rdb, cfg.OTPTTL, cfg.OTPMaxAttempts)
	tokens := service.NewTokenService(cfg)
	authService := service.NewAuthService(userRepo, otpStore, noopSender{}, tokens, cfg)
	userService := service.NewUserService(userRepo)

	authController := controller.NewAuthController(authService, cfg)
	userController := controller.NewUserController(userService)
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	e := echo.New()
	auth := e.Group("/auth")
	auth.POST("/register", authController.Register)
	auth.POST("/verify", authController.VerifyOTP)
	auth.POST("/resend-otp", authController.ResendOTP)
	auth.POST("/login", authController.Login)
	auth.GET("/refresh", authController.Refresh)
	auth.GET("/account", authController.Account, authMiddleware.OptionalAuth)
	auth.POST("/logout", authController.Logout, authMiddleware.RequireAuth)

	users := e.Group("/users")
	users.POST("", userController.Create)
	users.GET("/:id", userController.Fetch)
	users.DELETE("/:id", userController.Delete)

	return &testEnv{e: e, mock: mock, tokens: tokens, cfg: cfg}
}

func (env *testEnv) do(method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, fn := range mutate {
		fn(req)
	}

	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	return string(hash)
}

func findCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestAuthController_Register_ReturnsSanitizedUser(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(findByEmailQuery).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns))
	env.mock.ExpectExec(insertUserQuery).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := env.do(http.MethodPost, "/auth/register",
		`{"email":"a@x.com","name":"Alice","password":"p1","confirm_password":"p1"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["email"] != "a@x.com" || body["name"] != "Alice" {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, leaked := body["password_hash"]; leaked {
		t.Fatalf("password hash must not appear in the response")
	}
}

func TestAuthController_Register_PasswordMismatch(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(findByEmailQuery).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns))

	rec := env.do(http.MethodPost, "/auth/register",
		`{"email":"a@x.com","name":"Alice","password":"p1","confirm_password":"p2"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthController_Register_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now()
	env.mock.ExpectQuery(findByEmailQuery).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(1, "a@x.com", "Alice", "hash", false, nil, now, now))

	rec := env.do(http.MethodPost, "/auth/register",
		`{"email":"a@x.com","name":"Alice","password":"p1","confirm_password":"p1"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthController_Login_SetsRefreshCookie(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now()
	env.mock.ExpectQuery(findByEmailQuery).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(1, "a@x.com", "Alice", hashPassword(t, "p1"), true, nil, now, now))
	env.mock.ExpectExec(updateRefreshQuery).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := env.do(http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"p1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	cookie := findCookie(t, rec, "refresh_token")
	if !cookie.HttpOnly || !cookie.Secure || cookie.Path != "/" {
		t.Fatalf("cookie flags wrong: %+v", cookie)
	}
	if cookie.MaxAge != int(env.cfg.RefreshTokenTTL.Seconds()) {
		t.Fatalf("expected max-age %d, got %d", int(env.cfg.RefreshTokenTTL.Seconds()), cookie.MaxAge)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		User        struct {
			ID    uint64 `json:"id"`
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.AccessToken == "" || body.User.Email != "a@x.com" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	// Cookie-only transport for the refresh token.
	if strings.Contains(rec.Body.String(), cookie.Value) {
		t.Fatalf("refresh token value must not appear in the response body")
	}
}

func TestAuthController_Login_NotVerified(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now()
	env.mock.ExpectQuery(findByEmailQuery).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(1, "a@x.com", "Alice", hashPassword(t, "p1"), false, nil, now, now))

	rec := env.do(http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"p1"}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthController_Login_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(findByEmailQuery).
		WithArgs("missing@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns))

	rec := env.do(http.MethodPost, "/auth/login", `{"email":"missing@x.com","password":"p1"}`)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthController_Refresh_MissingCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/auth/refresh", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthController_Refresh_RotatesCookie(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now()
	user := &entity.User{ID: 1, Email: "a@x.com", Name: "Alice"}
	refreshToken, err := env.tokens.IssueRefreshToken(user)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	env.mock.ExpectQuery(findByRefreshTokenQuery).
		WithArgs("a@x.com", refreshToken).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(1, "a@x.com", "Alice", "hash", true, refreshToken, now, now))
	env.mock.ExpectExec(rotateRefreshQuery).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := env.do(http.MethodGet, "/auth/refresh", "", func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshToken})
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	cookie := findCookie(t, rec, "refresh_token")
	if cookie.Value == refreshToken {
		t.Fatalf("expected a rotated refresh token in the cookie")
	}
}

func TestAuthController_Refresh_SupersededToken(t *testing.T) {
	env := newTestEnv(t)

	refreshToken, err := env.tokens.IssueRefreshToken(&entity.User{ID: 1, Email: "a@x.com", Name: "Alice"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	env.mock.ExpectQuery(findByRefreshTokenQuery).
		WithArgs("a@x.com", refreshToken).
		WillReturnRows(sqlmock.NewRows(userColumns))

	rec := env.do(http.MethodGet, "/auth/refresh", "", func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshToken})
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthController_Logout_ClearsCookie(t *testing.T) {
	env := newTestEnv(t)

	accessToken, err := env.tokens.IssueAccessToken(&entity.User{ID: 1, Email: "a@x.com", Name: "Alice"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	env.mock.ExpectExec(updateRefreshQuery).
		WithArgs(nil, sqlmock.AnyArg(), "a@x.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := env.do(http.MethodPost, "/auth/logout", "", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	cookie := findCookie(t, rec, "refresh_token")
	if cookie.Value != "" || cookie.MaxAge >= 0 {
		t.Fatalf("expected clearing cookie, got %+v", cookie)
	}
}

func TestAuthController_Logout_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/auth/logout", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthController_Account_AnonymousGetsEmptyObject(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/auth/account", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Fatalf("expected empty object, got %s", rec.Body.String())
	}
}

func TestAuthController_Account_ReturnsProjection(t *testing.T) {
	env := newTestEnv(t)

	accessToken, err := env.tokens.IssueAccessToken(&entity.User{ID: 1, Email: "a@x.com", Name: "Alice"})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	now := time.Now()
	env.mock.ExpectQuery(findByEmailQuery).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(1, "a@x.com", "Alice", "hash", true, nil, now, now))

	rec := env.do(http.MethodGet, "/auth/account", "", func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		User struct {
			ID       uint64 `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.User.Username != "a@x.com" || body.User.Name != "Alice" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestAuthController_Verify_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(findByEmailQuery).
		WithArgs("missing@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns))

	rec := env.do(http.MethodPost, "/auth/verify", `{"email":"missing@x.com","otp":"123456"}`)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
