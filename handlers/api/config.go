package api

import (
	"housewatch/config"
	"housewatch/models"
	"housewatch/storage"
	"housewatch/utils"

	"github.com/gofiber/fiber/v2"
)

// ConfigHandler reads and writes the process-wide monitoring configuration
type ConfigHandler struct {
	store    *storage.AccountStore
	ledger   *storage.Ledger
	defaults config.MonitorConfig
}

// NewConfigHandler creates a config handler
func NewConfigHandler(store *storage.AccountStore, ledger *storage.Ledger, defaults config.MonitorConfig) *ConfigHandler {
	return &ConfigHandler{store: store, ledger: ledger, defaults: defaults}
}

// GetMonitoring returns the stored monitoring configuration, or the file
// defaults when none has been saved yet
func (h *ConfigHandler) GetMonitoring(c *fiber.Ctx) error {
	cfg, err := h.store.MonitoringConfig()
	if err != nil {
		return utils.InternalServerError("Failed to read monitoring config", err)
	}
	if cfg == nil {
		cfg = &models.MonitoringConfig{
			PollingInterval: h.defaults.PollingInterval,
			AutoClick:       h.defaults.AutoClick,
		}
		cfg.Clamp()
	}
	return c.JSON(cfg)
}

// UpdateMonitoring stores a new monitoring configuration. The scheduler
// picks it up at the start of its next cycle.
func (h *ConfigHandler) UpdateMonitoring(c *fiber.Ctx) error {
	var req models.MonitoringConfig
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("Invalid request", err)
	}
	if req.PollingInterval <= 0 {
		return utils.ValidationError("polling_interval must be positive", nil)
	}

	req.Clamp()
	if err := h.store.SetMonitoringConfig(&req); err != nil {
		return utils.InternalServerError("Failed to save monitoring config", err)
	}

	h.ledger.AddLog(models.LogInfo, "Monitoring configuration updated: interval=%ds auto_click=%v", req.PollingInterval, req.AutoClick)
	return c.JSON(fiber.Map{
		"success": true,
		"config":  req,
	})
}
