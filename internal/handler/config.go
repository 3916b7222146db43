package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/service"
	"github.com/fieldcrm/crm-jobs/pkg/response"
)

type ConfigHandler struct {
	service   *service.ConfigService
	validator *validator.Validate
}

func NewConfigHandler(svc *service.ConfigService, v *validator.Validate) *ConfigHandler {
	return &ConfigHandler{
		service:   svc,
		validator: v,
	}
}

// Get handles GET /jobs/:type/config
func (h *ConfigHandler) Get(c *fiber.Ctx) error {
	jobType, ok := jobTypeParam(c)
	if !ok {
		return response.NotFound(c, "Unknown job type")
	}

	if jobType == model.JobTypeLeadGen {
		cfg, err := h.service.LeadGenConfig(c.UserContext())
		if err != nil {
			return response.ServiceError(c, err.Error())
		}
		return response.OK(c, cfg)
	}

	cfg, err := h.service.ScraperConfig(c.UserContext())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	if cfg == nil {
		return response.OK(c, fiber.Map{})
	}
	return response.OK(c, cfg)
}

// Save handles POST /jobs/:type/config
func (h *ConfigHandler) Save(c *fiber.Ctx) error {
	jobType, ok := jobTypeParam(c)
	if !ok {
		return response.NotFound(c, "Unknown job type")
	}

	var err error
	switch jobType {
	case model.JobTypeLeadGen:
		var req model.LeadGenConfigRequest
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		if err := h.validator.Struct(&req); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
		err = h.service.SaveLeadGenConfig(c.UserContext(), &req)

	case model.JobTypeScraper:
		var req model.ScraperConfigRequest
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		if err := h.validator.Struct(&req); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
		err = h.service.SaveScraperConfig(c.UserContext(), &req)
	}

	if err != nil {
		var invalid *service.InvalidConfigError
		if errors.As(err, &invalid) {
			return response.Fail(c, fiber.StatusBadRequest, invalid.Message)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.RunResponse{Success: true, Message: "Configuration saved"})
}

func formatValidationErrors(err error) any {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
