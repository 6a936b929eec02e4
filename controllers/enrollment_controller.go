package controller

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadpilot/engine"
	"leadpilot/models"
	"leadpilot/utils"
)

type EnrollmentController struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *logrus.Logger
}

func NewEnrollmentController(db *gorm.DB, eng *engine.Engine, logger *logrus.Logger) *EnrollmentController {
	return &EnrollmentController{
		DB:     db,
		Engine: eng,
		Logger: logger,
	}
}

// EnrollLead starts a lead on a journey
func (ec *EnrollmentController) EnrollLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		LeadID    uint `json:"lead_id" validate:"required"`
		JourneyID uint `json:"journey_id" validate:"required"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var lead models.Lead
	if err := ec.DB.Where("id = ? AND tenant_id = ?", input.LeadID, user.TenantID).First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	if lead.IsDoNotContact {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is marked do-not-contact", nil)
	}

	var journey models.Journey
	if err := ec.DB.Preload("Steps").
		Where("id = ? AND tenant_id = ?", input.JourneyID, user.TenantID).First(&journey).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Journey not found", nil)
	}

	if !journey.IsActive {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Journey is not active", nil)
	}

	// One live run per lead per journey
	var existing models.LeadJourney
	if err := ec.DB.Where("lead_id = ? AND journey_id = ? AND status IN ?",
		lead.ID, journey.ID, []string{models.EnrollmentActive, models.EnrollmentPaused}).
		First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is already enrolled in this journey", nil)
	}

	var tenant models.Tenant
	if err := ec.DB.First(&tenant, user.TenantID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch tenant", err)
	}

	lj, err := ec.Engine.StartEnrollment(&lead, &journey, &tenant)
	if err != nil {
		if errors.Is(err, engine.ErrNoActiveSteps) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Journey has no active steps", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll lead", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lj))
}

// GetEnrollments returns paginated enrollments, filterable by lead,
// journey and status
func (ec *EnrollmentController) GetEnrollments(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	// Pagination
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := ec.DB.Where("tenant_id = ?", user.TenantID)
	if leadID := c.Query("lead_id"); leadID != "" {
		query = query.Where("lead_id = ?", utils.ParseUint(leadID))
	}
	if journeyID := c.Query("journey_id"); journeyID != "" {
		query = query.Where("journey_id = ?", utils.ParseUint(journeyID))
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var enrollments []models.LeadJourney
	if err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&enrollments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollments", err)
	}

	var total int64
	query.Model(&models.LeadJourney{}).Count(&total)

	return c.JSON(utils.PaginatedResponse{
		Data:  enrollments,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetEnrollment returns one enrollment with its execution history and
// pending work count
func (ec *EnrollmentController) GetEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	lj, err := ec.findEnrollment(c.Params("id"), user.TenantID)
	if err != nil {
		return ec.enrollmentError(c, err)
	}

	pending, err := ec.Engine.CountPendingExecutions(lj.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count pending executions", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"enrollment":         lj,
		"pending_executions": pending,
	}))
}

// PauseEnrollment suspends an active enrollment
func (ec *EnrollmentController) PauseEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	lj, err := ec.findEnrollment(c.Params("id"), user.TenantID)
	if err != nil {
		return ec.enrollmentError(c, err)
	}

	if err := ec.Engine.PauseEnrollment(lj); err != nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Failed to pause enrollment", err)
	}

	return c.JSON(utils.SuccessResponse(lj))
}

// ResumeEnrollment reactivates a paused enrollment
func (ec *EnrollmentController) ResumeEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	lj, err := ec.findEnrollment(c.Params("id"), user.TenantID)
	if err != nil {
		return ec.enrollmentError(c, err)
	}

	var tenant models.Tenant
	if err := ec.DB.First(&tenant, user.TenantID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch tenant", err)
	}

	if err := ec.Engine.ResumeEnrollment(lj, &tenant); err != nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Failed to resume enrollment", err)
	}

	return c.JSON(utils.SuccessResponse(lj))
}

// RestartEnrollment starts the enrollment over from the first step
func (ec *EnrollmentController) RestartEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	lj, err := ec.findEnrollment(c.Params("id"), user.TenantID)
	if err != nil {
		return ec.enrollmentError(c, err)
	}

	var journey models.Journey
	if err := ec.DB.Preload("Steps").First(&journey, lj.JourneyID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch journey", err)
	}

	var tenant models.Tenant
	if err := ec.DB.First(&tenant, user.TenantID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch tenant", err)
	}

	if err := ec.Engine.RestartEnrollment(lj, &journey, &tenant); err != nil {
		if errors.Is(err, engine.ErrNoActiveSteps) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Journey has no active steps", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to restart enrollment", err)
	}

	return c.JSON(utils.SuccessResponse(lj))
}

func (ec *EnrollmentController) findEnrollment(id string, tenantID uint) (*models.LeadJourney, error) {
	var lj models.LeadJourney
	if err := ec.DB.Where("id = ? AND tenant_id = ?", id, tenantID).First(&lj).Error; err != nil {
		return nil, err
	}
	return &lj, nil
}

func (ec *EnrollmentController) enrollmentError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollment", err)
}
