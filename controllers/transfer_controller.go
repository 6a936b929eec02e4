package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadpilot/engine"
	"leadpilot/models"
	"leadpilot/utils"
)

type TransferController struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *logrus.Logger
}

func NewTransferController(db *gorm.DB, eng *engine.Engine, logger *logrus.Logger) *TransferController {
	return &TransferController{
		DB:     db,
		Engine: eng,
		Logger: logger,
	}
}

// CreateGroup creates a transfer group
func (tc *TransferController) CreateGroup(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name          string                 `json:"name" validate:"required,max=200"`
		Type          string                 `json:"type" validate:"omitempty,oneof=roundrobin priority percentage simultaneous"`
		Brand         string                 `json:"brand" validate:"omitempty,max=100"`
		Ingroup       string                 `json:"ingroup" validate:"omitempty,max=100"`
		DialerContext string                 `json:"dialer_context" validate:"omitempty,max=100"`
		AgentAPI      *models.AgentAPIConfig `json:"agent_api"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	group := models.TransferGroup{
		TenantID:      user.TenantID,
		Name:          input.Name,
		Brand:         input.Brand,
		Ingroup:       input.Ingroup,
		DialerContext: input.DialerContext,
		AgentAPI:      input.AgentAPI,
		IsActive:      true,
	}
	if input.Type != "" {
		group.Type = input.Type
	} else {
		group.Type = models.RouteRoundRobin
	}

	if err := tc.DB.Create(&group).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create transfer group", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(group))
}

// GetGroups returns all transfer groups for the tenant
func (tc *TransferController) GetGroups(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var groups []models.TransferGroup
	if err := tc.DB.Preload("Numbers").
		Where("tenant_id = ?", user.TenantID).Find(&groups).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch transfer groups", err)
	}

	return c.JSON(utils.SuccessResponse(groups))
}

// GetGroup returns one transfer group with its numbers
func (tc *TransferController) GetGroup(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	group, err := tc.findGroup(c.Params("id"), user.TenantID)
	if err != nil {
		return tc.groupError(c, err)
	}

	return c.JSON(utils.SuccessResponse(group))
}

// UpdateGroup updates group routing settings
func (tc *TransferController) UpdateGroup(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name          string                 `json:"name" validate:"omitempty,max=200"`
		Type          string                 `json:"type" validate:"omitempty,oneof=roundrobin priority percentage simultaneous"`
		Brand         *string                `json:"brand" validate:"omitempty,max=100"`
		Ingroup       *string                `json:"ingroup" validate:"omitempty,max=100"`
		DialerContext *string                `json:"dialer_context" validate:"omitempty,max=100"`
		AgentAPI      *models.AgentAPIConfig `json:"agent_api"`
		IsActive      *bool                  `json:"is_active"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	group, err := tc.findGroup(c.Params("id"), user.TenantID)
	if err != nil {
		return tc.groupError(c, err)
	}

	if input.Name != "" {
		group.Name = input.Name
	}
	if input.Type != "" {
		group.Type = input.Type
	}
	if input.Brand != nil {
		group.Brand = *input.Brand
	}
	if input.Ingroup != nil {
		group.Ingroup = *input.Ingroup
	}
	if input.DialerContext != nil {
		group.DialerContext = *input.DialerContext
	}
	if input.AgentAPI != nil {
		group.AgentAPI = input.AgentAPI
	}
	if input.IsActive != nil {
		group.IsActive = *input.IsActive
	}

	if err := tc.DB.Save(group).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update transfer group", err)
	}

	return c.JSON(utils.SuccessResponse(group))
}

// DeleteGroup deletes a transfer group and its numbers
func (tc *TransferController) DeleteGroup(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	group, err := tc.findGroup(c.Params("id"), user.TenantID)
	if err != nil {
		return tc.groupError(c, err)
	}

	tx := tc.DB.Begin()

	if err := tx.Where("transfer_group_id = ?", group.ID).Delete(&models.TransferNumber{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete transfer numbers", err)
	}

	if err := tx.Delete(&models.TransferGroup{}, group.ID).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete transfer group", err)
	}

	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Transfer group deleted successfully",
	}))
}

// AddNumber adds a number to a transfer group
func (tc *TransferController) AddNumber(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		PhoneNumber  string              `json:"phone_number" validate:"required,e164"`
		Priority     int                 `json:"priority" validate:"omitempty,min=1"`
		Weight       int                 `json:"weight" validate:"omitempty,min=1,max=100"`
		HoursEnabled bool                `json:"hours_enabled"`
		Schedule     models.WeekSchedule `json:"schedule"`
		Timezone     string              `json:"timezone" validate:"omitempty,max=64"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	group, err := tc.findGroup(c.Params("id"), user.TenantID)
	if err != nil {
		return tc.groupError(c, err)
	}

	number := models.TransferNumber{
		TransferGroupID: group.ID,
		PhoneNumber:     input.PhoneNumber,
		HoursEnabled:    input.HoursEnabled,
		Schedule:        input.Schedule,
		Timezone:        input.Timezone,
		IsActive:        true,
		Priority:        1,
		Weight:          1,
	}
	if input.Priority > 0 {
		number.Priority = input.Priority
	}
	if input.Weight > 0 {
		number.Weight = input.Weight
	}

	if err := tc.DB.Create(&number).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to add transfer number", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(number))
}

// UpdateNumber updates one number in a group
func (tc *TransferController) UpdateNumber(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		PhoneNumber  string              `json:"phone_number" validate:"omitempty,e164"`
		Priority     *int                `json:"priority" validate:"omitempty,min=1"`
		Weight       *int                `json:"weight" validate:"omitempty,min=1,max=100"`
		IsActive     *bool               `json:"is_active"`
		HoursEnabled *bool               `json:"hours_enabled"`
		Schedule     models.WeekSchedule `json:"schedule"`
		Timezone     *string             `json:"timezone" validate:"omitempty,max=64"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	group, err := tc.findGroup(c.Params("id"), user.TenantID)
	if err != nil {
		return tc.groupError(c, err)
	}

	var number models.TransferNumber
	if err := tc.DB.Where("id = ? AND transfer_group_id = ?", c.Params("numberId"), group.ID).
		First(&number).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Transfer number not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch transfer number", err)
	}

	if input.PhoneNumber != "" {
		number.PhoneNumber = input.PhoneNumber
	}
	if input.Priority != nil {
		number.Priority = *input.Priority
	}
	if input.Weight != nil {
		number.Weight = *input.Weight
	}
	if input.IsActive != nil {
		number.IsActive = *input.IsActive
	}
	if input.HoursEnabled != nil {
		number.HoursEnabled = *input.HoursEnabled
	}
	if input.Schedule != nil {
		number.Schedule = input.Schedule
	}
	if input.Timezone != nil {
		number.Timezone = *input.Timezone
	}

	if err := tc.DB.Save(&number).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update transfer number", err)
	}

	return c.JSON(utils.SuccessResponse(number))
}

// DeleteNumber removes a number from a group
func (tc *TransferController) DeleteNumber(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	group, err := tc.findGroup(c.Params("id"), user.TenantID)
	if err != nil {
		return tc.groupError(c, err)
	}

	result := tc.DB.Where("id = ? AND transfer_group_id = ?", c.Params("numberId"), group.ID).
		Delete(&models.TransferNumber{})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete transfer number", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Transfer number not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Transfer number deleted successfully",
	}))
}

// SelectNumber runs the group's routing policy once and returns the
// selected number(s). This is a live selection: single-number policies
// bump the winner's usage stats exactly as a call step would.
func (tc *TransferController) SelectNumber(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	group, err := tc.findGroup(c.Params("id"), user.TenantID)
	if err != nil {
		return tc.groupError(c, err)
	}

	if !group.IsActive {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Transfer group is not active", nil)
	}

	numbers, err := tc.Engine.SelectTransferNumbers(group)
	if err != nil {
		if errors.Is(err, engine.ErrNoNumbersAvailable) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "No transfer numbers available", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Selection failed", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"policy":  group.Type,
		"numbers": numbers,
	}))
}

func (tc *TransferController) findGroup(id string, tenantID uint) (*models.TransferGroup, error) {
	var group models.TransferGroup
	if err := tc.DB.Preload("Numbers").
		Where("id = ? AND tenant_id = ?", id, tenantID).First(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func (tc *TransferController) groupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Transfer group not found", nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch transfer group", err)
}
