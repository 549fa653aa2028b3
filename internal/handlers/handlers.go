package handlers

import (
	"errors"
	"net/http"
	"time"

	"advisorcrm/internal/events"
	"advisorcrm/internal/middleware"
	"advisorcrm/internal/services"
	"advisorcrm/internal/utils"

	"github.com/gin-gonic/gin"
)

// Dependencies groups the services the HTTP layer calls into
type Dependencies struct {
	Auth           *services.AuthService
	Google         *services.GoogleAuthService
	Gmail          *services.GmailService
	Leads          *services.LeadService
	Clients        *services.ClientService
	Communications *services.CommunicationService
	Investments    *services.InvestmentService
	Activity       *services.ActivityService
	Reminders      *services.ReminderService
	Dashboard      *services.DashboardService
	Email          services.EmailSender
	WhatsApp       services.WhatsAppSender
	Bus            events.Bus
	// TwilioAuthToken and TwilioWebhookURL verify inbound webhook signatures
	TwilioAuthToken  string
	TwilioWebhookURL string
}

type Handler struct {
	Dependencies
	heartbeat time.Duration
}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{Dependencies: deps, heartbeat: 25 * time.Second}
}

// NoMethod answers 405 for a known path with the wrong method
func (h *Handler) NoMethod(c *gin.Context) {
	utils.RespondWithMethodNotAllowed(c)
}

// NoRoute answers 404 in the standard envelope
func (h *Handler) NoRoute(c *gin.Context) {
	utils.RespondWithNotFound(c, "Route")
}

// respondError maps service errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrInvalidEmail),
		errors.Is(err, services.ErrWeakPassword):
		utils.RespondWithValidationError(c, err.Error(), nil)
	case errors.Is(err, services.ErrLeadNotFound):
		utils.RespondWithNotFound(c, "Lead")
	case errors.Is(err, services.ErrClientNotFound):
		utils.RespondWithNotFound(c, "Client")
	case errors.Is(err, services.ErrCommunicationNotFound):
		utils.RespondWithNotFound(c, "Communication")
	case errors.Is(err, services.ErrUserNotFound):
		utils.RespondWithNotFound(c, "User")
	case errors.Is(err, services.ErrLeadLost),
		errors.Is(err, services.ErrMandateNotReady),
		errors.Is(err, services.ErrEmailExists):
		utils.RespondWithConflict(c, err.Error())
	case errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrWrongPassword),
		errors.Is(err, services.ErrUserDeactivated):
		utils.RespondWithUnauthorized(c, err.Error())
	case errors.Is(err, services.ErrExternalAPI):
		utils.RespondWithExternalError(c, err)
	default:
		utils.RespondWithInternalError(c, err)
	}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		utils.RespondWithValidationError(c, "Invalid request body", err.Error())
		return false
	}
	return true
}

// ==================== AUTH HANDLERS ====================

// Register creates a new advisor
func (h *Handler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.Auth.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.RespondWithCreated(c, resp)
}

// Login authenticates an advisor
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrWrongPassword) {
			utils.RespondWithUnauthorized(c, "Invalid email or password")
			return
		}
		respondError(c, err)
		return
	}

	utils.RespondWithSuccess(c, resp)
}

// RefreshToken rotates the refresh token
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.Auth.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		utils.RespondWithUnauthorized(c, "Invalid or expired refresh token")
		return
	}

	utils.RespondWithSuccess(c, resp)
}

// Logout revokes a refresh token
func (h *Handler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.Auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, gin.H{"message": "Logged out"})
}

// GetMe returns the current advisor
func (h *Handler) GetMe(c *gin.Context) {
	user, err := h.Auth.GetUserByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.RespondWithSuccess(c, user)
}

// UpdateMe updates the advisor profile
func (h *Handler) UpdateMe(c *gin.Context) {
	var req services.UpdateUserRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.Auth.UpdateUser(c.Request.Context(), middleware.UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.RespondWithSuccess(c, user)
}

// ==================== ACTIVITY / DASHBOARD ====================

func (h *Handler) ListActivities(c *gin.Context) {
	_, limit, _ := utils.PaginationParams(c)
	activities, err := h.Activity.List(c.Request.Context(), middleware.UserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, activities)
}

func (h *Handler) GetDashboard(c *gin.Context) {
	stats, err := h.Dashboard.Stats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, stats)
}

// ==================== REMINDERS ====================

func (h *Handler) ListReminders(c *gin.Context) {
	_, limit, _ := utils.PaginationParams(c)
	reminders, err := h.Reminders.List(c.Request.Context(), middleware.UserID(c), c.Query("client_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, reminders)
}

// RunReminders runs the SIP reminder job for the current advisor
func (h *Handler) RunReminders(c *gin.Context) {
	run, err := h.Reminders.Run(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, run)
}

// statusForCreate is 201 when something new was stored, 200 otherwise
func statusForCreate(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
