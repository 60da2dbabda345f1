package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"wattmate/internal/logger"
	"wattmate/internal/models"
	"wattmate/internal/reqctx"
	"wattmate/internal/services"
	helpers "wattmate/internal/utils/helpres"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type userResponse struct {
	User *models.User `json:"user"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Register godoc
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param input body models.RegisterRequest true "Registration data"
// @Success 201 {object} helpers.Response{data=models.AuthResult}
// @Failure 400 {object} helpers.Response "Validation error or email taken"
// @Router /api/auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.WithCtx(r.Context()).Warn("Register: bad JSON", zap.Error(err))
		helpers.Error(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if errs := validateRegister(&req); len(errs) > 0 {
		helpers.ValidationError(w, errs)
		return
	}

	res, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	helpers.JSON(w, http.StatusCreated, "Registration successful", res)
}

// Login godoc
// @Summary Sign in with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param input body models.LoginRequest true "Credentials"
// @Success 200 {object} helpers.Response{data=models.AuthResult}
// @Failure 401 {object} helpers.Response "Invalid email or password"
// @Failure 429 {object} helpers.Response "Too many attempts"
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if errs := validateLogin(&req); len(errs) > 0 {
		helpers.ValidationError(w, errs)
		return
	}

	res, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	helpers.JSON(w, http.StatusOK, "Login successful", res)
}

// RefreshToken godoc
// @Summary Exchange a refresh token for a new access token
// @Description The refresh token is not rotated unless REFRESH_ROTATION is enabled.
// @Tags auth
// @Accept json
// @Produce json
// @Param input body models.RefreshRequest true "Refresh token"
// @Success 200 {object} helpers.Response{data=models.TokenPair}
// @Failure 401 {object} helpers.Response "Invalid refresh token"
// @Router /api/auth/refresh-token [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		helpers.Error(w, http.StatusUnauthorized, "Refresh token is required")
		return
	}

	pair, err := h.authService.RefreshPair(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	helpers.JSON(w, http.StatusOK, "Token refreshed", pair)
}

// Logout godoc
// @Summary Revoke one refresh token
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param input body logoutRequest false "Refresh token to revoke"
// @Success 200 {object} helpers.Response
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := reqctx.GetUserID(r.Context())
	if !ok {
		helpers.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req logoutRequest
	// an empty body is a valid logout that revokes nothing
	_ = decodeJSON(w, r, &req)

	if err := h.authService.Logout(r.Context(), userID, req.RefreshToken); err != nil {
		writeServiceError(w, r, err)
		return
	}
	helpers.JSON(w, http.StatusOK, "Logout successful", nil)
}

// LogoutAll godoc
// @Summary Revoke every refresh token of the current user
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} helpers.Response
// @Router /api/auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := reqctx.GetUserID(r.Context())
	if !ok {
		helpers.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if _, err := h.authService.LogoutAll(r.Context(), userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	helpers.JSON(w, http.StatusOK, "Logged out from all devices", nil)
}

// Profile godoc
// @Summary Current user profile
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} helpers.Response{data=userResponse}
// @Failure 401 {object} helpers.Response
// @Router /api/auth/profile [get]
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := reqctx.GetUser(r.Context())
	if !ok {
		helpers.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	helpers.JSON(w, http.StatusOK, "", userResponse{User: user})
}

// UpdateProfile godoc
// @Summary Update name, phone and address
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param input body models.UpdateProfileRequest true "Profile fields"
// @Success 200 {object} helpers.Response{data=userResponse}
// @Failure 400 {object} helpers.Response
// @Router /api/auth/profile [put]
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := reqctx.GetUserID(r.Context())
	if !ok {
		helpers.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req models.UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		helpers.Error(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if errs := validateProfile(&req); len(errs) > 0 {
		helpers.ValidationError(w, errs)
		return
	}

	user, err := h.authService.UpdateProfile(r.Context(), userID, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	helpers.JSON(w, http.StatusOK, "Profile updated", userResponse{User: user})
}
