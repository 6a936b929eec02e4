package routes

import (
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "leadpilot/controllers"
	"leadpilot/engine"
	"leadpilot/middleware"
)

func SetupAuthRoutes(app *fiber.App) {
	// Auth routes group with logging middleware
	auth := app.Group("/auth", fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/change-password", controller.ChangePassword)
	protectedAuth.Get("/me", controller.GetCurrentUser)
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine, logger *logrus.Logger) {
	leadController := controller.NewLeadController(db, logger)
	journeyController := controller.NewJourneyController(db, logger)
	enrollmentController := controller.NewEnrollmentController(db, eng, logger)
	transferController := controller.NewTransferController(db, eng, logger)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Lead routes
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Get("/", leadController.GetLeads)
	lead.Get("/:id", leadController.GetLead)
	lead.Put("/:id", leadController.UpdateLead)
	lead.Delete("/:id", leadController.DeleteLead)
	lead.Get("/:id/calls", leadController.GetLeadCallLogs)

	// Journey routes
	journey := api.Group("/journeys")
	journey.Post("/", journeyController.CreateJourney)
	journey.Get("/", journeyController.GetJourneys)
	journey.Get("/:id", journeyController.GetJourney)
	journey.Put("/:id", journeyController.UpdateJourney)
	journey.Delete("/:id", journeyController.DeleteJourney)

	// Enrollment routes; creating one is rate limited since each
	// enrollment schedules outbound work
	enrollment := api.Group("/enrollments")
	enrollment.Post("/", middleware.EnrollRateLimiter(), enrollmentController.EnrollLead)
	enrollment.Get("/", enrollmentController.GetEnrollments)
	enrollment.Get("/:id", enrollmentController.GetEnrollment)
	enrollment.Post("/:id/pause", enrollmentController.PauseEnrollment)
	enrollment.Post("/:id/resume", enrollmentController.ResumeEnrollment)
	enrollment.Post("/:id/restart", enrollmentController.RestartEnrollment)

	// Transfer group routes
	transfer := api.Group("/transfer-groups")
	transfer.Post("/", transferController.CreateGroup)
	transfer.Get("/", transferController.GetGroups)
	transfer.Get("/:id", transferController.GetGroup)
	transfer.Put("/:id", transferController.UpdateGroup)
	transfer.Delete("/:id", transferController.DeleteGroup)
	transfer.Post("/:id/numbers", transferController.AddNumber)
	transfer.Put("/:id/numbers/:numberId", transferController.UpdateNumber)
	transfer.Delete("/:id/numbers/:numberId", transferController.DeleteNumber)
	transfer.Post("/:id/select", transferController.SelectNumber)

	// WebSocket route for live journey progress
	app.Get("/api/v1/journeys/progress", middleware.Protected(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(controller.JourneyProgressWS(eng, logger)))
}

func SetupRoutes(app *fiber.App, db *gorm.DB, eng *engine.Engine, logger *logrus.Logger) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Setup auth routes
	SetupAuthRoutes(app)

	// Setup API routes
	SetupAPIRoutes(app, db, eng, logger)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	logger.Info("Routes initialized successfully")
}
