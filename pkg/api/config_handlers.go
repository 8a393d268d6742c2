package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/marchandivan/pirobot/pkg/config"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/services"
)

// SettingsHandler holds dependencies for the robot settings endpoints.
type SettingsHandler struct {
	settings services.SettingsService
	logger   customlog.Logger
}

// NewSettingsHandler creates a new handler for settings endpoints.
func NewSettingsHandler(settings services.SettingsService, logger customlog.Logger) *SettingsHandler {
	if settings == nil {
		panic("SettingsService cannot be nil in NewSettingsHandler")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &SettingsHandler{settings: settings, logger: logger}
}

// RegisterSettingsRoutes registers the settings API endpoints with the Fiber app.
func RegisterSettingsRoutes(app *fiber.App, settings services.SettingsService, logger customlog.Logger) {
	h := NewSettingsHandler(settings, logger)

	apiGroup := app.Group("/api/v1/settings")
	apiGroup.Get("/", h.handleList)
	apiGroup.Post("/refresh", h.handleRefresh)
	apiGroup.Get("/export", h.handleExport)
	apiGroup.Put("/import", h.handleImport)
	apiGroup.Put("/:key", h.handleUpdate)
	apiGroup.Delete("/:key", h.handleReset)

	h.logger.Infof("Registered robot settings API endpoints under /api/v1/settings")
}

func (h *SettingsHandler) handleList(c *fiber.Ctx) error {
	if !h.settings.Loaded() {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "robot configuration not loaded yet",
		})
	}
	return c.JSON(fiber.Map{
		"settings":   h.settings.Settings(),
		"categories": h.settings.ByCategory(),
	})
}

func (h *SettingsHandler) handleRefresh(c *fiber.Ctx) error {
	if err := h.settings.Refresh(); err != nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to request configuration: %v", err),
		})
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": "configuration requested",
	})
}

func (h *SettingsHandler) handleUpdate(c *fiber.Ctx) error {
	key := c.Params("key")
	var body SettingUpdate
	if err := c.BodyParser(&body); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.settings.Update(key, body.Value); err != nil {
		h.logger.Warnf("Setting update for %s rejected: %v", key, err)
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": fmt.Sprintf("update of %s sent", key),
	})
}

func (h *SettingsHandler) handleReset(c *fiber.Ctx) error {
	key := c.Params("key")
	if err := h.settings.Reset(key); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": fmt.Sprintf("reset of %s sent", key),
	})
}

func (h *SettingsHandler) handleExport(c *fiber.Ctx) error {
	yamlData, err := h.settings.ExportYAML()
	if err != nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

func (h *SettingsHandler) handleImport(c *fiber.Ctx) error {
	switch c.Get(fiber.HeaderContentType) {
	case "application/x-yaml", "application/yaml", "text/yaml":
	default:
		h.logger.Warnf("Settings import with Content-Type %q", c.Get(fiber.HeaderContentType))
	}

	body := c.Body()
	if len(body) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	sent, err := h.settings.ImportYAML(body)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error":   err.Error(),
			"updates": sent,
		})
	}
	return c.JSON(fiber.Map{"updates": sent})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrUnknownSetting):
		return http.StatusNotFound
	case errors.Is(err, config.ErrInvalidValue), errors.Is(err, services.ErrInvalidYAML):
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}
