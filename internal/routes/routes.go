package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sango-pay/sango_pay/internal/config"
	"github.com/sango-pay/sango_pay/internal/ledger"
	"github.com/sango-pay/sango_pay/internal/lock"
	"github.com/sango-pay/sango_pay/internal/middleware"
	"github.com/sango-pay/sango_pay/internal/notification"
	"github.com/sango-pay/sango_pay/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Store  ledger.Store
	Locker lock.Locker
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	notifier := notification.NewLoggerNotifier(d.Logger)
	ledgerSvc := ledger.NewService(d.Store, d.Locker, notifier, d.Logger, d.Cfg.MaxAttempts)
	transferSvc := transfer.NewService(d.Store, d.Locker, notifier, d.Logger, d.Cfg.MaxAttempts)

	ledgerHandler := ledger.NewHandler(ledgerSvc)
	transferHandler := transfer.NewHandler(transferSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterOperationRoutes(api, ledgerHandler)
	RegisterBalanceRoutes(api, ledgerHandler)
	RegisterTransferRoutes(api, transferHandler)

	return nil
}
