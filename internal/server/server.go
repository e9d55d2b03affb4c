// Package server exposes the caller-facing HTTP surface: allocation
// submission, long-polled state observation, deletion, and the
// request-state side channel.
package server

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/cinderfn/cinder/internal/blob"
	"github.com/cinderfn/cinder/internal/dispatch"
	"github.com/cinderfn/cinder/internal/runner"
	"github.com/cinderfn/cinder/internal/statestore"
)

// Options wires the server's dependencies. States may be nil only in
// tests that never hit the allocation routes.
type Options struct {
	Dispatcher *dispatch.Dispatcher
	Store      blob.Store
	Placer     runner.Placer
	States     *statestore.Store

	// MaxLongPollSeconds caps the wait a single updates request may
	// ask for.
	MaxLongPollSeconds int

	Log *slog.Logger
}

// New builds the fiber application with all routes registered.
func New(opts Options) *fiber.App {
	if opts.MaxLongPollSeconds <= 0 {
		opts.MaxLongPollSeconds = 30
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	h := &handlers{opts: opts}

	app := fiber.New(fiber.Config{
		AppName: "cinder",
	})

	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "UP"})
	})

	api := app.Group("/api")
	api.Post("/allocations", h.submitAllocation)
	api.Get("/allocations/:id/updates", h.allocationUpdates)
	api.Delete("/allocations/:id", h.deleteAllocation)

	api.Get("/requests/:rid/state/:key", h.readState)
	api.Post("/requests/:rid/state/:key/prepare", h.prepareWrite)
	api.Post("/requests/:rid/state/:key/commit", h.commitWrite)

	return app
}
