package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/service"
	"github.com/fieldcrm/crm-jobs/internal/store"
)

const healthTimeout = 2 * time.Second

// HealthDeps are the dependencies reported by GET /health
type HealthDeps struct {
	Store         store.Store
	Redis         redis.Cmdable
	Jobs          *service.JobService
	R2Configured  bool
	AuthAvailable bool
}

type HealthHandler struct {
	deps HealthDeps
}

func NewHealthHandler(deps HealthDeps) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// Check handles GET /health
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	database := h.deps.Store.Ping(ctx) == nil
	redisUp := h.deps.Redis != nil && h.deps.Redis.Ping(ctx).Err() == nil

	leadgen, err := h.deps.Store.LeadGenConfig(ctx)
	openaiConfigured := err == nil && leadgen.OpenAIAPIKey != ""

	status := "ok"
	if !database {
		status = "degraded"
	}

	jobs := fiber.Map{}
	for _, jobType := range model.JobTypes {
		jobs[string(jobType)] = h.deps.Jobs.IsRunning(jobType)
	}

	return c.JSON(fiber.Map{
		"status": status,
		"services": fiber.Map{
			"database":     database,
			"redis":        redisUp,
			"openai_probe": openaiConfigured,
			"r2":           h.deps.R2Configured,
			"auth":         h.deps.AuthAvailable,
		},
		"jobs": jobs,
	})
}
