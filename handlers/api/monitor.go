package api

import (
	"context"
	"time"

	"housewatch/models"
	"housewatch/monitor"
	"housewatch/storage"
	"housewatch/utils"

	"github.com/gofiber/fiber/v2"
)

// checkNowTimeout bounds how long a manual check may block the caller
const checkNowTimeout = 5 * time.Minute

// MonitorHandler exposes the scheduler transitions and the run-state
// snapshots
type MonitorHandler struct {
	scheduler *monitor.Scheduler
	ledger    *storage.Ledger
	store     *storage.AccountStore
}

// NewMonitorHandler creates a monitor handler
func NewMonitorHandler(scheduler *monitor.Scheduler, ledger *storage.Ledger, store *storage.AccountStore) *MonitorHandler {
	return &MonitorHandler{scheduler: scheduler, ledger: ledger, store: store}
}

// Start begins background monitoring. Starting twice is reported, not an
// error.
func (h *MonitorHandler) Start(c *fiber.Ctx) error {
	if !h.scheduler.Start() {
		return c.JSON(fiber.Map{
			"success": true,
			"message": "Monitoring already running",
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Monitoring started",
	})
}

// Stop halts background monitoring; idempotent
func (h *MonitorHandler) Stop(c *fiber.Ctx) error {
	h.scheduler.Stop()
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Monitoring stopped",
	})
}

// CheckNow runs a single cycle immediately and blocks until it completes or
// times out. Valid whether monitoring is running or not.
func (h *MonitorHandler) CheckNow(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), checkNowTimeout)
	defer cancel()

	h.scheduler.CheckNow(ctx)
	h.ledger.AddLog(models.LogInfo, "Manual email check completed")

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Check completed",
		"stats":   h.stats(),
	})
}

// Status returns the legacy dashboard-header status shape
func (h *MonitorHandler) Status(c *fiber.Ctx) error {
	stats := h.ledger.Stats()
	return c.JSON(models.MonitorStatus{
		IsRunning:       h.scheduler.IsRunning(),
		LastCheck:       stats.LastCheck,
		EmailsProcessed: stats.TotalEmails,
		LinksClicked:    stats.LinksClicked,
		Errors:          stats.Errors,
	})
}

// Stats returns the aggregate dashboard snapshot
func (h *MonitorHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.stats())
}

func (h *MonitorHandler) stats() models.Stats {
	stats := h.ledger.Stats()
	stats.IsMonitoring = h.scheduler.IsRunning()

	if accounts, err := h.store.List(); err == nil {
		for _, account := range accounts {
			if account.IsActive {
				stats.ActiveAccounts++
			}
		}
	} else {
		utils.Log.Error("Failed to count active accounts: %v", err)
	}
	return stats
}
