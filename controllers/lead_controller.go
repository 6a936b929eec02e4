package controller

import (
	"strconv"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadpilot/models"
	"leadpilot/utils"
)

type LeadController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewLeadController(db *gorm.DB, logger *logrus.Logger) *LeadController {
	return &LeadController{
		DB:     db,
		Logger: logger,
	}
}

// CreateLead creates a new lead with validation
func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Email     string   `json:"email" validate:"omitempty,email"`
		Phone     string   `json:"phone" validate:"omitempty,e164"`
		FirstName string   `json:"first_name" validate:"omitempty,max=100"`
		LastName  string   `json:"last_name" validate:"omitempty,max=100"`
		Company   string   `json:"company" validate:"omitempty,max=200"`
		Source    string   `json:"source" validate:"omitempty,max=100"`
		Tags      []string `json:"tags"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if input.Email == "" && input.Phone == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Lead needs an email or a phone number", nil)
	}

	if input.Email != "" {
		if err := checkmail.ValidateFormat(input.Email); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid email format", err)
		}

		// Check if lead already exists in this tenant
		var existingLead models.Lead
		if err := lc.DB.Where("email = ? AND tenant_id = ?", strings.ToLower(input.Email), user.TenantID).
			First(&existingLead).Error; err == nil {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Lead with this email already exists", nil)
		}
	}

	lead := models.Lead{
		TenantID:  user.TenantID,
		Email:     strings.ToLower(input.Email),
		Phone:     input.Phone,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Company:   input.Company,
		Source:    input.Source,
		Tags:      models.StringList(input.Tags),
		Status:    "new",
	}

	if err := lc.DB.Create(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

// GetLeads returns paginated list of leads with filters
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	// Pagination
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	// Filters
	email := c.Query("email")
	company := c.Query("company")
	status := c.Query("status")
	source := c.Query("source")

	query := lc.DB.Where("tenant_id = ?", user.TenantID)

	if email != "" {
		query = query.Where("email LIKE ?", "%"+strings.ToLower(email)+"%")
	}
	if company != "" {
		query = query.Where("company LIKE ?", "%"+company+"%")
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if source != "" {
		query = query.Where("source = ?", source)
	}

	var leads []models.Lead
	if err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	var total int64
	query.Model(&models.Lead{}).Count(&total)

	return c.JSON(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetLead returns a single lead by ID with its enrollments
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	leadID := c.Params("id")

	var lead models.Lead
	if err := lc.DB.Preload("Enrollments").
		Where("id = ? AND tenant_id = ?", leadID, user.TenantID).First(&lead).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// UpdateLead updates lead details
func (lc *LeadController) UpdateLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	leadID := c.Params("id")

	var input struct {
		Email          string   `json:"email" validate:"omitempty,email"`
		Phone          string   `json:"phone" validate:"omitempty,e164"`
		FirstName      string   `json:"first_name" validate:"omitempty,max=100"`
		LastName       string   `json:"last_name" validate:"omitempty,max=100"`
		Company        string   `json:"company" validate:"omitempty,max=200"`
		Status         string   `json:"status" validate:"omitempty,oneof=new contacted qualified converted dead"`
		Tags           []string `json:"tags"`
		IsDoNotContact *bool    `json:"is_do_not_contact"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	// Validate input
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND tenant_id = ?", leadID, user.TenantID).First(&lead).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}

	// Check if email is being updated to an existing one
	if input.Email != "" && strings.ToLower(input.Email) != lead.Email {
		var existingLead models.Lead
		if err := lc.DB.Where("email = ? AND tenant_id = ?", strings.ToLower(input.Email), user.TenantID).
			First(&existingLead).Error; err == nil {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Lead with this email already exists", nil)
		}
		lead.Email = strings.ToLower(input.Email)
	}

	// Update fields
	if input.Phone != "" {
		lead.Phone = input.Phone
	}
	if input.FirstName != "" {
		lead.FirstName = input.FirstName
	}
	if input.LastName != "" {
		lead.LastName = input.LastName
	}
	if input.Company != "" {
		lead.Company = input.Company
	}
	if input.Status != "" {
		lead.Status = input.Status
	}
	if input.Tags != nil {
		lead.Tags = models.StringList(input.Tags)
	}
	if input.IsDoNotContact != nil {
		lead.IsDoNotContact = *input.IsDoNotContact
	}

	if err := lc.DB.Save(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// DeleteLead deletes a lead together with its enrollments and pending work
func (lc *LeadController) DeleteLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	leadID := c.Params("id")

	tx := lc.DB.Begin()

	// Cancel any scheduled work first
	var enrollmentIDs []uint
	if err := tx.Model(&models.LeadJourney{}).
		Where("lead_id = ? AND tenant_id = ?", leadID, user.TenantID).
		Pluck("id", &enrollmentIDs).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollments", err)
	}

	if len(enrollmentIDs) > 0 {
		if err := tx.Where("lead_journey_id IN ?", enrollmentIDs).
			Delete(&models.JourneyExecution{}).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete executions", err)
		}
		if err := tx.Where("id IN ?", enrollmentIDs).Delete(&models.LeadJourney{}).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete enrollments", err)
		}
	}

	result := tx.Where("id = ? AND tenant_id = ?", leadID, user.TenantID).Delete(&models.Lead{})
	if result.Error != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete lead", result.Error)
	}

	if result.RowsAffected == 0 {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Lead deleted successfully",
	}))
}

// GetLeadCallLogs returns the call history for a lead
func (lc *LeadController) GetLeadCallLogs(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	leadID := c.Params("id")

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND tenant_id = ?", leadID, user.TenantID).First(&lead).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}

	var logs []models.CallLog
	if err := lc.DB.Where("lead_id = ?", lead.ID).Order("created_at DESC").Find(&logs).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch call logs", err)
	}

	return c.JSON(utils.SuccessResponse(logs))
}
