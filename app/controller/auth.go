package controller

import (
	"errors"
	"net/http"

	dto "github.com/bytecinema/cinema-auth/app/dto/http"
	"github.com/bytecinema/cinema-auth/app/entity"
	"github.com/bytecinema/cinema-auth/app/service"
	"github.com/bytecinema/cinema-auth/config"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const refreshTokenCookie = "refresh_token"

type AuthController struct {
	authService *service.AuthService
	cfg         *config.Config
}

func NewAuthController(authService *service.AuthService, cfg *config.Config) *AuthController {
	return &AuthController{authService: authService, cfg: cfg}
}

func (c *AuthController) Register(ctx echo.Context) error {
	var req dto.RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	result, err := c.authService.Register(ctx.Request().Context(), req.Email, req.Name, req.Password, req.ConfirmPassword)
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			return ctx.JSON(http.StatusConflict, dto.ErrorResponse{Error: "email already exists, please use another one"})
		}
		if errors.Is(err, service.ErrPasswordMismatch) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "password and confirm password do not match"})
		}
		if errors.Is(err, service.ErrWeakPassword) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Register failed")
		return ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusCreated, dto.UserResponse{
		ID:    result.User.ID,
		Email: result.User.Email,
		Name:  result.User.Name,
	})
}

func (c *AuthController) VerifyOTP(ctx echo.Context) error {
	var req dto.VerifyRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	if err := c.authService.VerifyOTP(ctx.Request().Context(), req.Email, req.OTP); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return ctx.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "email not found"})
		}
		if errors.Is(err, service.ErrInvalidOTP) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid or expired otp"})
		}
		if errors.Is(err, service.ErrAlreadyVerified) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "account is already verified"})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Verify failed")
		return ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusOK, dto.MessageResponse{Message: "verify successful"})
}

func (c *AuthController) ResendOTP(ctx echo.Context) error {
	var req dto.ResendOTPRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	if err := c.authService.ResendOTP(ctx.Request().Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return ctx.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "email not found"})
		}
		if errors.Is(err, service.ErrAlreadyVerified) {
			return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "account is already verified"})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Resend OTP failed")
		return ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusOK, dto.MessageResponse{Message: "otp sent"})
}

func (c *AuthController) Login(ctx echo.Context) error {
	var req dto.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	}

	result, err := c.authService.Login(ctx.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return ctx.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "email not found"})
		}
		if errors.Is(err, service.ErrAccountNotVerified) {
			return ctx.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "account not verified"})
		}
		if errors.Is(err, service.ErrInvalidCredentials) {
			return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid credentials"})
		}
		logrus.WithError(err).WithField("email", req.Email).Error("Login failed")
		return ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}

	// The refresh token travels only in the cookie, never in the body.
	ctx.SetCookie(c.newRefreshCookie(result.RefreshToken))

	return ctx.JSON(http.StatusOK, loginResponse(result.AccessToken, result.User))
}

func (c *AuthController) Refresh(ctx echo.Context) error {
	cookie, err := ctx.Cookie(refreshTokenCookie)
	if err != nil || cookie.Value == "" {
		return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing refresh token"})
	}

	result, err := c.authService.Refresh(ctx.Request().Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid or expired refresh token"})
		}
		logrus.WithError(err).Error("Refresh failed")
		return ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}

	ctx.SetCookie(c.newRefreshCookie(result.RefreshToken))

	return ctx.JSON(http.StatusOK, loginResponse(result.AccessToken, result.User))
}

func (c *AuthController) Logout(ctx echo.Context) error {
	email, ok := ctx.Get("user_email").(string)
	if !ok || email == "" {
		return ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid or expired token"})
	}

	if err := c.authService.Logout(ctx.Request().Context(), email); err != nil {
		logrus.WithError(err).WithField("email", email).Error("Logout failed")
		return ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}

	ctx.SetCookie(clearRefreshCookie())
	return ctx.NoContent(http.StatusOK)
}

func (c *AuthController) Account(ctx echo.Context) error {
	email, _ := ctx.Get("user_email").(string)

	user, err := c.authService.GetAccount(ctx.Request().Context(), email)
	if err != nil {
		logrus.WithError(err).Error("Fetch account failed")
		return ctx.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}

	res := dto.AccountResponse{}
	if user != nil {
		res.User = &dto.AccountUser{
			ID:       user.ID,
			Username: user.Email,
			Name:     user.Name,
		}
	}
	return ctx.JSON(http.StatusOK, res)
}

func (c *AuthController) newRefreshCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.cfg.RefreshTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func clearRefreshCookie() *http.Cookie {
	return &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func loginResponse(accessToken string, user *entity.User) dto.LoginResponse {
	return dto.LoginResponse{
		AccessToken: accessToken,
		User: dto.UserResponse{
			ID:    user.ID,
			Email: user.Email,
			Name:  user.Name,
		},
	}
}
