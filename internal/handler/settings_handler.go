// internal/handler/settings_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/service"
	"serial-bridge/internal/utils"
)

// SettingsHandler handles settings profiles and session history
type SettingsHandler struct {
	bridgeService *service.BridgeService
	logger        *utils.ServiceLogger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(bridgeService *service.BridgeService, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		bridgeService: bridgeService,
		logger:        utils.NewServiceLogger(logger, "settings-handler"),
	}
}

// RegisterRoutes registers settings and session routes
func (h *SettingsHandler) RegisterRoutes(router *gin.RouterGroup) {
	settings := router.Group("/settings")
	{
		settings.GET("/defaults", h.GetDefaults)
		settings.GET("/profiles", h.ListProfiles)
		settings.GET("/profiles/:name", h.GetProfile)
		settings.PUT("/profiles/:name", h.SaveProfile)
		settings.DELETE("/profiles/:name", h.DeleteProfile)
	}

	router.GET("/sessions", h.ListSessions)
}

// GetDefaults returns the configured default settings
// @Summary Default settings
// @Tags Settings
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.Settings} "Defaults retrieved"
// @Router /settings/defaults [get]
func (h *SettingsHandler) GetDefaults(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Defaults retrieved", h.bridgeService.Defaults())
}

// ListProfiles lists stored settings profiles
// @Summary List settings profiles
// @Tags Settings
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.SettingsProfile} "Profiles retrieved"
// @Failure 500 {object} utils.APIResponse "Storage error"
// @Router /settings/profiles [get]
func (h *SettingsHandler) ListProfiles(c *gin.Context) {
	profiles, err := h.bridgeService.ListProfiles(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list profiles", zap.Error(err))
		respondError(c, "Failed to list profiles", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profiles retrieved", profiles)
}

// GetProfile returns one settings profile
// @Summary Get settings profile
// @Tags Settings
// @Produce json
// @Param name path string true "Profile name"
// @Success 200 {object} utils.APIResponse{data=model.SettingsProfile} "Profile retrieved"
// @Failure 404 {object} utils.APIResponse "Profile not found"
// @Router /settings/profiles/{name} [get]
func (h *SettingsHandler) GetProfile(c *gin.Context) {
	profile, err := h.bridgeService.GetProfile(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, "Failed to get profile", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profile retrieved", profile)
}

// SaveProfile creates or replaces a settings profile
// @Summary Save settings profile
// @Description Fields missing from the body take their default values
// @Tags Settings
// @Accept json
// @Produce json
// @Param name path string true "Profile name"
// @Param request body model.Settings true "Settings"
// @Success 200 {object} utils.APIResponse{data=model.SettingsProfile} "Profile saved"
// @Failure 400 {object} utils.APIResponse "Invalid settings"
// @Router /settings/profiles/{name} [put]
func (h *SettingsHandler) SaveProfile(c *gin.Context) {
	var raw json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	profile, err := h.bridgeService.SaveProfile(c.Request.Context(), c.Param("name"), raw)
	if err != nil {
		respondError(c, "Failed to save profile", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Profile saved", profile)
}

// DeleteProfile removes a settings profile
// @Summary Delete settings profile
// @Tags Settings
// @Produce json
// @Param name path string true "Profile name"
// @Success 200 {object} utils.APIResponse "Profile deleted"
// @Failure 404 {object} utils.APIResponse "Profile not found"
// @Router /settings/profiles/{name} [delete]
func (h *SettingsHandler) DeleteProfile(c *gin.Context) {
	name := c.Param("name")
	if err := h.bridgeService.DeleteProfile(c.Request.Context(), name); err != nil {
		respondError(c, "Failed to delete profile", err)
		return
	}

	h.logger.Info("Settings profile deleted", zap.String("name", name))
	utils.SuccessResponse(c, http.StatusOK, "Profile deleted", nil)
}

// ListSessions returns session history
// @Summary Session history
// @Tags Sessions
// @Produce json
// @Param limit query int false "Maximum records" default(50)
// @Success 200 {object} utils.APIResponse{data=[]model.SessionRecord} "Sessions retrieved"
// @Failure 500 {object} utils.APIResponse "Storage error"
// @Router /sessions [get]
func (h *SettingsHandler) ListSessions(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	sessions, err := h.bridgeService.Sessions(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		respondError(c, "Failed to list sessions", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Sessions retrieved", sessions)
}
