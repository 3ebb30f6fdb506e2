package main

import (
	"fmt"
	"net/http"
	"time"

	"housewatch/config"
	"housewatch/handlers/api"
	"housewatch/middleware"
	"housewatch/monitor"
	"housewatch/storage"
	"housewatch/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	utils.Log.Info("Initializing housewatch...")

	// Load configuration
	cfg, err := config.LoadConfig("config.toml")
	if err != nil {
		utils.Log.Error("Failed to load config: %v", err)
		return
	}

	// Open storage
	db, err := storage.InitDB(cfg.Storage.DataDir)
	if err != nil {
		utils.Log.Error("Failed to open database: %v", err)
		return
	}
	defer db.Close()

	accountStore, err := storage.NewAccountStore(db, []byte(cfg.Encryption.Key))
	if err != nil {
		utils.Log.Error("Failed to initialize account store: %v", err)
		return
	}

	ledger, err := storage.NewLedger(db)
	if err != nil {
		utils.Log.Error("Failed to initialize ledger: %v", err)
		return
	}

	// Wire the monitoring engine
	executor := monitor.NewExecutor(
		&http.Client{Timeout: time.Duration(cfg.Monitor.ClickTimeout) * time.Second},
		monitor.DefaultRetryPolicy(cfg.Monitor.MaxRetries),
		cfg.Monitor.UserAgent,
	)
	poller := monitor.NewPoller(ledger, executor, monitor.DialAccount)
	scheduler := monitor.NewScheduler(accountStore, ledger, poller, cfg.Monitor)

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if appErr, ok := err.(*utils.AppError); ok {
				code = appErr.Code
				utils.Log.Error("Application error: %v", appErr)
			} else if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())  // Recover from panics
	app.Use(logger.New())   // Request logging
	app.Use(compress.New()) // Response compression

	// Rate limiting (100 requests per minute per IP)
	app.Use(middleware.RateLimiter(100, time.Minute))

	// Initialize handlers
	authHandler := api.NewAuthHandler(cfg)
	accountsHandler := api.NewAccountsHandler(accountStore, ledger, monitor.TestConnection)
	monitorHandler := api.NewMonitorHandler(scheduler, ledger, accountStore)
	emailsHandler := api.NewEmailsHandler(ledger)
	configHandler := api.NewConfigHandler(accountStore, ledger, cfg.Monitor)

	// The token gate protects every mutating operation
	auth := api.AuthMiddleware(cfg.Auth.JWTSecret)

	apiRoutes := app.Group("/api")
	{
		apiRoutes.Post("/auth/login", authHandler.Login)

		// Dashboard reads
		apiRoutes.Get("/stats", monitorHandler.Stats)
		apiRoutes.Get("/logs", emailsHandler.Logs)
		apiRoutes.Get("/emails", emailsHandler.List)
		apiRoutes.Get("/monitor/status", monitorHandler.Status)
		apiRoutes.Get("/accounts", accountsHandler.List)
		apiRoutes.Get("/accounts/:id", accountsHandler.Get)
		apiRoutes.Get("/config/monitoring", configHandler.GetMonitoring)

		// Scheduler transitions
		apiRoutes.Post("/monitor/start", auth, monitorHandler.Start)
		apiRoutes.Post("/monitor/stop", auth, monitorHandler.Stop)
		apiRoutes.Post("/monitor/check-now", auth, monitorHandler.CheckNow)

		// Account management
		apiRoutes.Post("/accounts", auth, accountsHandler.Create)
		apiRoutes.Put("/accounts/:id", auth, accountsHandler.Update)
		apiRoutes.Delete("/accounts/:id", auth, accountsHandler.Delete)
		apiRoutes.Post("/accounts/:id/test", auth, accountsHandler.Test)

		// History maintenance
		apiRoutes.Delete("/emails", auth, emailsHandler.Clear)
		apiRoutes.Delete("/logs", auth, emailsHandler.ClearLogs)

		// Monitoring configuration
		apiRoutes.Post("/config/monitoring", auth, configHandler.UpdateMonitoring)
	}

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Start server
	utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		utils.Log.Error("Error starting server: %v", err)
	}
}
