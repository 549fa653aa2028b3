package handlers

import (
	"context"
	"net/http"
	"strconv"

	"advisorcrm/internal/middleware"
	"advisorcrm/internal/models"
	"advisorcrm/internal/pipeline"
	"advisorcrm/internal/services"
	"advisorcrm/internal/utils"

	"github.com/gin-gonic/gin"
)

// LeadTransition is returned by advance and retreat. Changed is false when
// the lead was already at the boundary or is lost.
type LeadTransition struct {
	Lead    *models.Lead   `json:"lead"`
	Changed bool           `json:"changed"`
	View    *pipeline.View `json:"progress"`
}

type ConversionResult struct {
	Client  *models.Client `json:"client"`
	Created bool           `json:"created"`
}

func (h *Handler) CreateLead(c *gin.Context) {
	var req services.CreateLeadRequest
	if !bindJSON(c, &req) {
		return
	}

	lead, err := h.Leads.Create(c.Request.Context(), middleware.UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithCreated(c, lead)
}

func (h *Handler) ListLeads(c *gin.Context) {
	page, limit, offset := utils.PaginationParams(c)
	leads, total, err := h.Leads.List(c.Request.Context(), middleware.UserID(c), services.LeadFilter{
		Status: c.Query("status"),
		Stage:  c.Query("stage"),
		Search: c.Query("search"),
		Page:   services.Page{Offset: offset, Limit: limit},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithPage(c, leads, total, page, limit)
}

func (h *Handler) GetLead(c *gin.Context) {
	lead, err := h.Leads.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, lead)
}

func (h *Handler) UpdateLead(c *gin.Context) {
	var req services.UpdateLeadRequest
	if !bindJSON(c, &req) {
		return
	}

	lead, err := h.Leads.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, lead)
}

func (h *Handler) AddLeadNote(c *gin.Context) {
	var req struct {
		Note string `json:"note" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	lead, err := h.Leads.AddNote(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, lead)
}

func (h *Handler) AdvanceLead(c *gin.Context) {
	h.transitionLead(c, h.Leads.Advance)
}

func (h *Handler) RetreatLead(c *gin.Context) {
	h.transitionLead(c, h.Leads.Retreat)
}

func (h *Handler) transitionLead(c *gin.Context, step func(context.Context, string, string) (*models.Lead, bool, error)) {
	userID := middleware.UserID(c)
	lead, changed, err := step(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	view, err := h.Leads.Progress(c.Request.Context(), userID, lead.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, LeadTransition{Lead: lead, Changed: changed, View: view})
}

func (h *Handler) GetLeadProgress(c *gin.Context) {
	view, err := h.Leads.Progress(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, view)
}

// ConvertLead creates the client for a lead. Repeating the call returns the
// same client with 200 instead of 201.
func (h *Handler) ConvertLead(c *gin.Context) {
	client, created, err := h.Leads.Convert(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(statusForCreate(created), utils.NewSuccessResponse(ConversionResult{Client: client, Created: created}))
}

// GetMandateQR serves the mandate link as a PNG QR code
func (h *Handler) GetMandateQR(c *gin.Context) {
	size, _ := strconv.Atoi(c.DefaultQuery("size", "256"))
	png, err := h.Leads.MandateQR(c.Request.Context(), middleware.UserID(c), c.Param("id"), size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
