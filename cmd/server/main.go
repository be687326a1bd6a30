package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dashgate/internal/audit"
	"dashgate/internal/auth"
	"dashgate/internal/config"
	"dashgate/internal/gateway"
	"dashgate/internal/policy"
	"dashgate/internal/store"
)

func main() {
	ctx := context.Background()
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	log.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("config loaded")

	// 2. Connect to the datastore with service-level credentials
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// 3. Bootstrap the gateway's own tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap system tables")
	}

	// 4. Build the immutable policy configuration
	pol, err := policy.New(cfg.Policy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid policy configuration")
	}

	// 5. Audit recorder (async, buffered)
	var sink gateway.AuditSink
	if cfg.Audit.Enabled {
		recorder := audit.NewRecorder(db, cfg.Audit.BufferSize, cfg.Audit.FlushIntervalMs, log)
		defer recorder.Stop()
		sink = recorder
	}

	// 6. Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(log),
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigin,
		AllowHeaders: cfg.CORS.AllowHeaders,
		AllowMethods: "POST, OPTIONS",
	}))
	app.Use(requestID())

	// 7. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. Optional caller authentication ahead of the gateway route
	authMW, err := auth.Middleware(cfg.Auth)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid auth configuration")
	}

	// 9. The gateway endpoint
	handler := gateway.NewHandler(db, pol, sink, log)
	if authMW != nil {
		gateway.RegisterRoutes(app, handler, authMW)
	} else {
		gateway.RegisterRoutes(app, handler)
	}

	// 10. Serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().Str("addr", addr).Msg("starting server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// requestID tags every request so access logs and audit flushes can be
// correlated.
func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := uuid.NewString()
		c.Locals("request_id", id)
		c.Set("X-Request-Id", id)
		return c.Next()
	}
}

func errorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *gateway.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(gateway.ErrorResponse{Error: appErr.Message})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(gateway.ErrorResponse{Error: fiberErr.Message})
		}

		log.Error().Err(err).Str("path", c.Path()).Msg("internal error")
		return c.Status(fiber.StatusInternalServerError).JSON(gateway.ErrorResponse{Error: err.Error()})
	}
}
