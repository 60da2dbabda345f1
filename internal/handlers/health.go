package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wattmate/internal/logger"
	helpers "wattmate/internal/utils/helpres"
)

// HealthCheck reports whether a backing store answers.
type HealthCheck func(ctx context.Context) error

type HealthHandler struct {
	appName string
	version string
	checks  map[string]HealthCheck
}

func NewHealthHandler(appName, version string, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{appName: appName, version: version, checks: checks}
}

type bannerResponse struct {
	Description   string `json:"description"`
	Version       string `json:"version"`
	Documentation string `json:"documentation"`
}

// Root godoc
// @Summary Service banner
// @Tags health
// @Produce json
// @Success 200 {object} helpers.Response{data=bannerResponse}
// @Router / [get]
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	helpers.JSON(w, http.StatusOK, "Welcome to "+h.appName+" API", bannerResponse{
		Description:   "Smart Electricity Monitoring System",
		Version:       h.version,
		Documentation: "/swagger/index.html",
	})
}

// Healthz godoc
// @Summary Liveness and storage reachability
// @Tags health
// @Produce json
// @Success 200 {object} helpers.Response
// @Failure 503 {object} helpers.Response
// @Router /healthz [get]
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logger.WithCtx(ctx).Warn("Health check failed", zap.String("check", name), zap.Error(err))
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "up"
	}
	if !healthy {
		helpers.JSONStatus(w, http.StatusServiceUnavailable, false, "Degraded", status)
		return
	}
	helpers.JSON(w, http.StatusOK, "OK", status)
}
