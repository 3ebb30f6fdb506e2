package api

import (
	"housewatch/models"
	"housewatch/storage"
	"housewatch/utils"

	"github.com/gofiber/fiber/v2"
)

// ConnectionTester validates an account's mailbox credentials
type ConnectionTester func(account *models.Account) error

// AccountsHandler handles mailbox account management
type AccountsHandler struct {
	store  *storage.AccountStore
	ledger *storage.Ledger
	tester ConnectionTester
}

// NewAccountsHandler creates an accounts handler
func NewAccountsHandler(store *storage.AccountStore, ledger *storage.Ledger, tester ConnectionTester) *AccountsHandler {
	return &AccountsHandler{store: store, ledger: ledger, tester: tester}
}

// List retrieves all accounts, credentials redacted
func (h *AccountsHandler) List(c *fiber.Ctx) error {
	accounts, err := h.store.List()
	if err != nil {
		return utils.InternalServerError("Failed to retrieve accounts", err)
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"accounts": accounts,
	})
}

// Get retrieves a single account
func (h *AccountsHandler) Get(c *fiber.Ctx) error {
	account, err := h.store.Get(c.Params("id"))
	if err != nil {
		return utils.NotFoundError("Account not found", err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"account": account,
	})
}

// Create adds a new account
func (h *AccountsHandler) Create(c *fiber.Ctx) error {
	var req models.AccountInput
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("Invalid request", err)
	}

	account, err := h.store.Add(&req)
	if err != nil {
		return utils.ValidationError(err.Error(), nil)
	}

	h.ledger.AddLog(models.LogInfo, "Account added: %s", account.Email)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"account": account,
	})
}

// Update mutates an existing account. An empty password preserves the
// stored secret.
func (h *AccountsHandler) Update(c *fiber.Ctx) error {
	var req models.AccountInput
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("Invalid request", err)
	}

	account, err := h.store.Update(c.Params("id"), &req)
	if err != nil {
		return utils.NotFoundError("Account not found", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"account": account,
	})
}

// Delete removes an account. Deleting an unknown id succeeds so a delete
// racing a finished poll cycle never errors.
func (h *AccountsHandler) Delete(c *fiber.Ctx) error {
	if err := h.store.Remove(c.Params("id")); err != nil {
		return utils.InternalServerError("Failed to delete account", err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account deleted",
	})
}

// Test performs a synchronous credential and connectivity check without
// starting monitoring
func (h *AccountsHandler) Test(c *fiber.Ctx) error {
	account, err := h.store.Credentials(c.Params("id"))
	if err != nil {
		return utils.NotFoundError("Account not found", err)
	}

	if err := h.tester(account); err != nil {
		h.ledger.AddLog(models.LogError, "Connection test failed for %s: %v", account.Email, err)
		return c.JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	h.ledger.AddLog(models.LogInfo, "Connection test successful for %s", account.Email)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Connection successful",
	})
}
