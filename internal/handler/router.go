package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/fieldcrm/crm-jobs/internal/middleware"
)

// Routes groups everything Register mounts
type Routes struct {
	Jobs    *JobHandler
	Configs *ConfigHandler
	Health  *HealthHandler
	Auth    *AuthHandler

	// Protect guards the job and websocket routes; nil leaves them open
	Protect      fiber.Handler
	RateLimiter  *middleware.RateLimiter
	RunPerHour   int
	ConfigPerMin int
}

func passThrough(c *fiber.Ctx) error { return c.Next() }

// Register mounts the job control surface on app
func Register(app *fiber.App, r Routes) {
	protect := r.Protect
	if protect == nil {
		protect = passThrough
	}

	app.Get("/health", r.Health.Check)

	if r.Auth != nil {
		app.Get("/auth/verify", r.Auth.Verify)
	}

	jobs := app.Group("/jobs", protect)
	jobs.Get("/scraper/customers/count", r.Jobs.CustomerCount)
	jobs.Post("/:type/run", r.RateLimiter.RunLimit(r.RunPerHour), r.Jobs.Run)
	jobs.Post("/:type/cancel", r.Jobs.Cancel)
	jobs.Get("/:type/progress", r.Jobs.Progress)
	jobs.Get("/:type/sessions", r.Jobs.Sessions)
	jobs.Get("/:type/config", r.Configs.Get)
	jobs.Post("/:type/config", r.RateLimiter.ConfigLimit(r.ConfigPerMin), r.Configs.Save)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:type", protect, r.Jobs.RequireJobType, websocket.New(r.Jobs.Stream))
}
