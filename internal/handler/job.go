package handler

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/fieldcrm/crm-jobs/internal/model"
	"github.com/fieldcrm/crm-jobs/internal/service"
	ws "github.com/fieldcrm/crm-jobs/internal/websocket"
	"github.com/fieldcrm/crm-jobs/pkg/response"
)

type JobHandler struct {
	service *service.JobService
	hub     *ws.Hub
}

func NewJobHandler(svc *service.JobService, hub *ws.Hub) *JobHandler {
	return &JobHandler{
		service: svc,
		hub:     hub,
	}
}

func jobTypeParam(c *fiber.Ctx) (model.JobType, bool) {
	jobType, err := model.ParseJobType(c.Params("type"))
	return jobType, err == nil
}

// Run handles POST /jobs/:type/run
func (h *JobHandler) Run(c *fiber.Ctx) error {
	jobType, ok := jobTypeParam(c)
	if !ok {
		return response.NotFound(c, "Unknown job type")
	}

	result, err := h.service.Start(c.UserContext(), jobType)
	if err != nil {
		var rejected *service.RejectedError
		if errors.As(err, &rejected) {
			return response.Fail(c, fiber.StatusBadRequest, rejected.Message)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Cancel handles POST /jobs/:type/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobType, ok := jobTypeParam(c)
	if !ok {
		return response.NotFound(c, "Unknown job type")
	}
	return response.OK(c, h.service.Cancel(jobType))
}

// Progress handles GET /jobs/:type/progress
func (h *JobHandler) Progress(c *fiber.Ctx) error {
	jobType, ok := jobTypeParam(c)
	if !ok {
		return response.NotFound(c, "Unknown job type")
	}
	return response.OK(c, h.service.Progress(jobType))
}

// Sessions handles GET /jobs/:type/sessions
func (h *JobHandler) Sessions(c *fiber.Ctx) error {
	jobType, ok := jobTypeParam(c)
	if !ok {
		return response.NotFound(c, "Unknown job type")
	}

	sessions, err := h.service.Sessions(c.UserContext(), jobType)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, sessions)
}

// CustomerCount handles GET /jobs/scraper/customers/count
func (h *JobHandler) CustomerCount(c *fiber.Ctx) error {
	count, err := h.service.CustomerCount(c.UserContext())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, count)
}

// RequireJobType rejects websocket upgrades for unknown job types before the
// handshake
func (h *JobHandler) RequireJobType(c *fiber.Ctx) error {
	if _, ok := jobTypeParam(c); !ok {
		return response.NotFound(c, "Unknown job type")
	}
	return c.Next()
}

// Stream handles GET /ws/jobs/:type. The current snapshot is sent on connect.
func (h *JobHandler) Stream(c *websocket.Conn) {
	jobType, err := model.ParseJobType(c.Params("type"))
	if err != nil {
		return
	}
	p := h.service.Progress(jobType)
	snapshot := ws.ProgressMessage(jobType, p.SessionID, p.IsRunning, p.Progress)
	h.hub.HandleConnection(c, jobType, snapshot)
}
