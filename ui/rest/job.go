package rest

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	pkgError "github.com/voxsend/vox-relay/pkg/error"
	"github.com/voxsend/vox-relay/pkg/utils"
	"github.com/voxsend/vox-relay/scheduler/domain"
	"github.com/voxsend/vox-relay/scheduler/usecase"
)

type Job struct {
	Service *usecase.JobUsecase
}

func InitRestJob(app fiber.Router, service *usecase.JobUsecase) Job {
	rest := Job{Service: service}

	app.Post("/jobs", rest.CreateJob)
	app.Get("/jobs", rest.ListJobs)
	app.Get("/jobs/:job_id", rest.GetJob)
	app.Patch("/jobs/:job_id", rest.UpdateJob)
	app.Post("/jobs/:job_id/pause", rest.PauseJob)
	app.Post("/jobs/:job_id/resume", rest.ResumeJob)
	app.Post("/jobs/:job_id/cancel", rest.CancelJob)
	return rest
}

type createJobPayload struct {
	OwnerID      string           `json:"owner_id"`
	ContentRef   string           `json:"content_ref"`
	Recipient    domain.Recipient `json:"recipient"`
	Channels     []domain.Channel `json:"channels"`
	ScheduledFor time.Time        `json:"scheduled_for"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}

func (controller *Job) CreateJob(c *fiber.Ctx) error {
	var payload createJobPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "INVALID_PAYLOAD", Message: err.Error()})
	}

	job, err := controller.Service.CreateJob(c.UserContext(), usecase.CreateJobRequest{
		OwnerID:      payload.OwnerID,
		ContentRef:   payload.ContentRef,
		Recipient:    payload.Recipient,
		Channels:     payload.Channels,
		ScheduledFor: payload.ScheduledFor,
		Metadata:     payload.Metadata,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(201).JSON(utils.ResponseData{
		Status:  201,
		Code:    "SUCCESS",
		Message: "Job scheduled",
		Results: job,
	})
}

func (controller *Job) GetJob(c *fiber.Ctx) error {
	job, err := controller.Service.GetJob(c.UserContext(), c.Params("job_id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Job found",
		Results: job,
	})
}

func (controller *Job) ListJobs(c *fiber.Ctx) error {
	filter := domain.JobFilter{
		OwnerID: c.Query("owner_id"),
		Status:  domain.JobStatus(c.Query("status")),
		Limit:   c.QueryInt("limit", 100),
		Offset:  c.QueryInt("offset", 0),
	}

	jobs, err := controller.Service.ListJobs(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Jobs listed",
		Results: jobs,
	})
}

func (controller *Job) UpdateJob(c *fiber.Ctx) error {
	var payload usecase.UpdateJobRequest
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(400).JSON(utils.ResponseData{Status: 400, Code: "INVALID_PAYLOAD", Message: err.Error()})
	}

	job, err := controller.Service.UpdateJob(c.UserContext(), c.Params("job_id"), payload)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Job updated",
		Results: job,
	})
}

func (controller *Job) PauseJob(c *fiber.Ctx) error {
	return controller.transition(c, controller.Service.PauseJob, "Job paused")
}

func (controller *Job) ResumeJob(c *fiber.Ctx) error {
	return controller.transition(c, controller.Service.ResumeJob, "Job resumed")
}

func (controller *Job) CancelJob(c *fiber.Ctx) error {
	return controller.transition(c, controller.Service.CancelJob, "Job cancelled")
}

func (controller *Job) transition(
	c *fiber.Ctx,
	op func(ctx context.Context, id string) (*domain.ScheduledJob, error),
	message string,
) error {
	job, err := op(c.UserContext(), c.Params("job_id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: message,
		Results: job,
	})
}

func respondError(c *fiber.Ctx, err error) error {
	if typed, ok := err.(pkgError.GenericError); ok {
		return c.Status(typed.StatusCode()).JSON(utils.ResponseData{
			Status:  typed.StatusCode(),
			Code:    typed.ErrCode(),
			Message: typed.Error(),
		})
	}
	return c.Status(500).JSON(utils.ResponseData{Status: 500, Code: "INTERNAL_SERVER_ERROR", Message: err.Error()})
}
