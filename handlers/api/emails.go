package api

import (
	"housewatch/models"
	"housewatch/storage"
	"housewatch/utils"

	"github.com/gofiber/fiber/v2"
)

// EmailsHandler serves the email history and the activity log trail
type EmailsHandler struct {
	ledger *storage.Ledger
}

// NewEmailsHandler creates an emails handler
func NewEmailsHandler(ledger *storage.Ledger) *EmailsHandler {
	return &EmailsHandler{ledger: ledger}
}

// List returns the most recent records, newest first, optionally filtered
// by email_type
func (h *EmailsHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	emailType := models.EmailType(c.Query("email_type"))

	records, err := h.ledger.List(limit, emailType)
	if err != nil {
		return utils.InternalServerError("Failed to retrieve emails", err)
	}
	if records == nil {
		records = []models.EmailRecord{}
	}
	return c.JSON(records)
}

// Clear deletes all records and resets the derived counters. Irreversible.
func (h *EmailsHandler) Clear(c *fiber.Ctx) error {
	if err := h.ledger.Clear(); err != nil {
		return utils.InternalServerError("Failed to clear emails", err)
	}
	h.ledger.AddLog(models.LogInfo, "Email history cleared")
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Email logs cleared",
	})
}

// Logs returns the most recent activity log entries, newest last
func (h *EmailsHandler) Logs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	return c.JSON(h.ledger.Logs(limit))
}

// ClearLogs empties the activity trail
func (h *EmailsHandler) ClearLogs(c *fiber.Ctx) error {
	h.ledger.ClearLogs()
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Logs cleared",
	})
}
