package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"advisorcrm/internal/middleware"
	"advisorcrm/internal/models"
	"advisorcrm/internal/services"
	"advisorcrm/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ==================== CLIENT HANDLERS ====================

func (h *Handler) CreateClient(c *gin.Context) {
	var req services.CreateClientRequest
	if !bindJSON(c, &req) {
		return
	}

	client, err := h.Clients.Create(c.Request.Context(), middleware.UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithCreated(c, client)
}

func (h *Handler) ListClients(c *gin.Context) {
	page, limit, offset := utils.PaginationParams(c)
	clients, total, err := h.Clients.List(c.Request.Context(), middleware.UserID(c), services.ClientFilter{
		Search:  c.Query("search"),
		Product: c.Query("product"),
		Page:    services.Page{Offset: offset, Limit: limit},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithPage(c, clients, total, page, limit)
}

func (h *Handler) GetClient(c *gin.Context) {
	client, err := h.Clients.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, client)
}

func (h *Handler) UpdateClient(c *gin.Context) {
	var req services.UpdateClientRequest
	if !bindJSON(c, &req) {
		return
	}

	client, err := h.Clients.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, client)
}

func (h *Handler) DeleteClient(c *gin.Context) {
	if err := h.Clients.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithNoContent(c)
}

// ==================== COMMUNICATION HANDLERS ====================

// LogCommunication records an interaction for a client. With "send": true an
// email or WhatsApp entry is delivered first; a delivery failure is still
// logged and answered with 502.
func (h *Handler) LogCommunication(c *gin.Context) {
	var req services.LogCommunicationRequest
	if !bindJSON(c, &req) {
		return
	}

	comm, err := h.Communications.Log(c.Request.Context(), middleware.UserID(c), c.Param("id"), &req)
	if err != nil {
		if comm != nil && errors.Is(err, services.ErrExternalAPI) {
			utils.RespondWithError(c, http.StatusBadGateway, utils.ErrCodeExternalAPIError, err.Error())
			return
		}
		respondError(c, err)
		return
	}
	utils.RespondWithCreated(c, comm)
}

func (h *Handler) ListClientCommunications(c *gin.Context) {
	h.listCommunications(c, c.Param("id"))
}

func (h *Handler) ListCommunications(c *gin.Context) {
	h.listCommunications(c, c.Query("client_id"))
}

func (h *Handler) listCommunications(c *gin.Context, clientID string) {
	page, limit, offset := utils.PaginationParams(c)
	comms, total, err := h.Communications.List(c.Request.Context(), middleware.UserID(c), services.CommunicationFilter{
		ClientID: clientID,
		Type:     c.Query("type"),
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
		Page:     services.Page{Offset: offset, Limit: limit},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithPage(c, comms, total, page, limit)
}

func (h *Handler) GetCommunication(c *gin.Context) {
	comm, err := h.Communications.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, comm)
}

// ListFollowUps returns follow-ups due in the next ?days (default 7)
func (h *Handler) ListFollowUps(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 0 || days > 365 {
		utils.RespondWithValidationError(c, "days must be between 0 and 365", nil)
		return
	}

	from := time.Now().UTC()
	comms, err := h.Communications.ListFollowUps(c.Request.Context(), middleware.UserID(c), from, from.AddDate(0, 0, days))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, comms)
}

// ==================== INVESTMENT HANDLERS ====================

func pathInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		utils.RespondWithValidationError(c, name+" must be a number", nil)
		return 0, false
	}
	return v, true
}

func (h *Handler) GetInvestmentYear(c *gin.Context) {
	year, ok := pathInt(c, "year")
	if !ok {
		return
	}

	summary, err := h.Investments.GetYear(c.Request.Context(), middleware.UserID(c), year)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, summary)
}

func (h *Handler) UpsertInvestmentMonth(c *gin.Context) {
	year, ok := pathInt(c, "year")
	if !ok {
		return
	}
	month, ok := pathInt(c, "month")
	if !ok {
		return
	}

	var req services.UpsertMonthRequest
	if !bindJSON(c, &req) {
		return
	}

	summary, err := h.Investments.UpsertMonth(c.Request.Context(), middleware.UserID(c), year, month, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, summary)
}

// SummarizeInvestments recomputes a summary from posted records without
// storing anything.
func (h *Handler) SummarizeInvestments(c *gin.Context) {
	var req struct {
		Year    int `json:"year" binding:"required"`
		Records []struct {
			Month           int             `json:"month"`
			SIPTarget       decimal.Decimal `json:"sip_target"`
			SIPAchieved     decimal.Decimal `json:"sip_achieved"`
			LumpsumTarget   decimal.Decimal `json:"lumpsum_target"`
			LumpsumAchieved decimal.Decimal `json:"lumpsum_achieved"`
		} `json:"records"`
	}
	if !bindJSON(c, &req) {
		return
	}

	records := make([]models.InvestmentRecord, 0, len(req.Records))
	for _, r := range req.Records {
		if r.SIPTarget.IsNegative() || r.SIPAchieved.IsNegative() || r.LumpsumTarget.IsNegative() || r.LumpsumAchieved.IsNegative() {
			utils.RespondWithValidationError(c, "amounts cannot be negative", gin.H{"month": r.Month})
			return
		}
		records = append(records, models.InvestmentRecord{
			Year:            req.Year,
			Month:           r.Month,
			SIPTarget:       r.SIPTarget,
			SIPAchieved:     r.SIPAchieved,
			LumpsumTarget:   r.LumpsumTarget,
			LumpsumAchieved: r.LumpsumAchieved,
		})
	}

	utils.RespondWithSuccess(c, services.SummarizeYear(req.Year, records))
}
