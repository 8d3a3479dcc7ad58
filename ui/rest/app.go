package rest

import (
	"github.com/gofiber/fiber/v2"
	"github.com/voxsend/vox-relay/core/config"
	"github.com/voxsend/vox-relay/core/database"
	"github.com/voxsend/vox-relay/pkg/jobworker"
	"github.com/voxsend/vox-relay/pkg/utils"
)

type App struct {
	Pool *jobworker.Pool
}

func InitRestApp(app fiber.Router, pool *jobworker.Pool) App {
	rest := App{Pool: pool}

	app.Get("/health", rest.Health)
	app.Get("/engine/stats", rest.EngineStats)
	return rest
}

func (controller *App) Health(c *fiber.Ctx) error {
	dbStatus := "ok"
	if sqlDB, err := database.GetSQLDB(); err != nil {
		dbStatus = err.Error()
	} else if err := sqlDB.PingContext(c.UserContext()); err != nil {
		dbStatus = err.Error()
	}

	status := 200
	if dbStatus != "ok" {
		status = 503
	}

	return c.Status(status).JSON(utils.ResponseData{
		Status:  status,
		Code:    "HEALTH",
		Message: "Health check",
		Results: fiber.Map{
			"version":  config.Global.App.Version,
			"database": dbStatus,
		},
	})
}

func (controller *App) EngineStats(c *fiber.Ctx) error {
	var stats any
	if controller.Pool != nil {
		stats = controller.Pool.GetStats()
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Engine stats",
		Results: stats,
	})
}
