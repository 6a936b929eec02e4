package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadpilot/models"
	"leadpilot/utils"
)

type JourneyController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewJourneyController(db *gorm.DB, logger *logrus.Logger) *JourneyController {
	return &JourneyController{
		DB:     db,
		Logger: logger,
	}
}

type journeyStepInput struct {
	StepOrder    int                    `json:"step_order" validate:"required,min=1"`
	ActionType   string                 `json:"action_type" validate:"required,oneof=call sms email status_change tag_update webhook delay"`
	ActionConfig models.JSONMap         `json:"action_config"`
	DelayType    string                 `json:"delay_type" validate:"omitempty,oneof=immediate fixed_time delay_after_previous delay_after_enrollment specific_days"`
	DelayConfig  models.JSONMap         `json:"delay_config"`
	Conditions   *models.StepConditions `json:"conditions"`
	IsActive     *bool                  `json:"is_active"`
	IsExitPoint  bool                   `json:"is_exit_point"`
	IsDayEnd     bool                   `json:"is_day_end"`
}

func (in *journeyStepInput) toModel(journeyID uint) models.JourneyStep {
	step := models.JourneyStep{
		JourneyID:    journeyID,
		StepOrder:    in.StepOrder,
		ActionType:   in.ActionType,
		ActionConfig: in.ActionConfig,
		DelayConfig:  in.DelayConfig,
		Conditions:   in.Conditions,
		IsActive:     true,
		IsExitPoint:  in.IsExitPoint,
		IsDayEnd:     in.IsDayEnd,
	}
	if in.DelayType != "" {
		step.DelayType = in.DelayType
	} else {
		step.DelayType = models.DelayImmediate
	}
	if in.IsActive != nil {
		step.IsActive = *in.IsActive
	}
	return step
}

// CreateJourney creates a journey with its ordered steps
func (jc *JourneyController) CreateJourney(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name        string             `json:"name" validate:"required,max=200"`
		Description string             `json:"description" validate:"omitempty,max=1000"`
		RepeatDays  int                `json:"repeat_days" validate:"omitempty,min=0,max=365"`
		Steps       []journeyStepInput `json:"steps" validate:"required,min=1,dive"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	journey := models.Journey{
		TenantID:    user.TenantID,
		Name:        input.Name,
		Description: input.Description,
		RepeatDays:  input.RepeatDays,
		IsActive:    true,
	}

	err := jc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&journey).Error; err != nil {
			return err
		}
		for _, in := range input.Steps {
			step := in.toModel(journey.ID)
			if err := tx.Create(&step).Error; err != nil {
				return err
			}
			journey.Steps = append(journey.Steps, step)
		}
		return nil
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create journey", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(journey))
}

// GetJourneys returns paginated journeys for the tenant
func (jc *JourneyController) GetJourneys(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	// Pagination
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := jc.DB.Where("tenant_id = ?", user.TenantID)
	if active := c.Query("active"); active != "" {
		query = query.Where("is_active = ?", active == "true")
	}

	var journeys []models.Journey
	if err := query.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).Offset(offset).Limit(limit).Order("created_at DESC").Find(&journeys).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch journeys", err)
	}

	var total int64
	query.Model(&models.Journey{}).Count(&total)

	return c.JSON(utils.PaginatedResponse{
		Data:  journeys,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetJourney returns a single journey with steps and enrollment counts
func (jc *JourneyController) GetJourney(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	journeyID := c.Params("id")

	var journey models.Journey
	if err := jc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).Where("id = ? AND tenant_id = ?", journeyID, user.TenantID).First(&journey).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Journey not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch journey", err)
	}

	var counts []struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	jc.DB.Model(&models.LeadJourney{}).
		Select("status, count(*) as count").
		Where("journey_id = ?", journey.ID).
		Group("status").
		Scan(&counts)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"journey":     journey,
		"enrollments": counts,
	}))
}

// UpdateJourney updates journey metadata; steps are replaced wholesale
// when provided so step ordering never drifts from the client's view.
func (jc *JourneyController) UpdateJourney(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	journeyID := c.Params("id")

	var input struct {
		Name        string             `json:"name" validate:"omitempty,max=200"`
		Description *string            `json:"description" validate:"omitempty,max=1000"`
		IsActive    *bool              `json:"is_active"`
		RepeatDays  *int               `json:"repeat_days" validate:"omitempty,min=0,max=365"`
		Steps       []journeyStepInput `json:"steps" validate:"omitempty,min=1,dive"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var journey models.Journey
	if err := jc.DB.Where("id = ? AND tenant_id = ?", journeyID, user.TenantID).First(&journey).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Journey not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch journey", err)
	}

	if input.Name != "" {
		journey.Name = input.Name
	}
	if input.Description != nil {
		journey.Description = *input.Description
	}
	if input.IsActive != nil {
		journey.IsActive = *input.IsActive
	}
	if input.RepeatDays != nil {
		journey.RepeatDays = *input.RepeatDays
	}

	err := jc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&journey).Error; err != nil {
			return err
		}
		if input.Steps == nil {
			return nil
		}
		// Replacing steps while runs are in flight would orphan their
		// current step pointers
		var activeRuns int64
		tx.Model(&models.LeadJourney{}).
			Where("journey_id = ? AND status = ?", journey.ID, models.EnrollmentActive).
			Count(&activeRuns)
		if activeRuns > 0 {
			return gorm.ErrInvalidData
		}
		if err := tx.Where("journey_id = ?", journey.ID).Delete(&models.JourneyStep{}).Error; err != nil {
			return err
		}
		for _, in := range input.Steps {
			step := in.toModel(journey.ID)
			if err := tx.Create(&step).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err == gorm.ErrInvalidData {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Cannot replace steps while enrollments are active", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update journey", err)
	}

	// Reload with fresh steps
	jc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).First(&journey, journey.ID)

	return c.JSON(utils.SuccessResponse(journey))
}

// DeleteJourney deletes a journey that has no active enrollments
func (jc *JourneyController) DeleteJourney(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	journeyID := c.Params("id")

	var journey models.Journey
	if err := jc.DB.Where("id = ? AND tenant_id = ?", journeyID, user.TenantID).First(&journey).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Journey not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch journey", err)
	}

	var activeRuns int64
	jc.DB.Model(&models.LeadJourney{}).
		Where("journey_id = ? AND status = ?", journey.ID, models.EnrollmentActive).
		Count(&activeRuns)
	if activeRuns > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Journey has active enrollments", nil)
	}

	tx := jc.DB.Begin()

	if err := tx.Where("journey_id = ?", journey.ID).Delete(&models.JourneyStep{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete journey steps", err)
	}

	if err := tx.Delete(&journey).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete journey", err)
	}

	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Journey deleted successfully",
	}))
}
