package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"time"

	"advisorcrm/internal/middleware"
	"advisorcrm/internal/models"
	"advisorcrm/internal/services"
	"advisorcrm/internal/utils"

	"github.com/gin-gonic/gin"
)

const oauthStateCookie = "oauth_state"

// ==================== GOOGLE SIGN-IN ====================

// GoogleLogin redirects to Google's consent screen
func (h *Handler) GoogleLogin(c *gin.Context) {
	if h.Google == nil || !h.Google.Configured() {
		utils.RespondWithError(c, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable, "Google sign-in is not configured")
		return
	}

	state, err := randomState()
	if err != nil {
		utils.RespondWithInternalError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, int((10 * time.Minute).Seconds()), "/", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, h.Google.AuthURL(state))
}

// GoogleCallback finishes the code flow and returns our own tokens
func (h *Handler) GoogleCallback(c *gin.Context) {
	if h.Google == nil || !h.Google.Configured() {
		utils.RespondWithError(c, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable, "Google sign-in is not configured")
		return
	}

	if reason := c.Query("error"); reason != "" {
		utils.RespondWithUnauthorized(c, "Google sign-in was cancelled: "+reason)
		return
	}

	expected, err := c.Cookie(oauthStateCookie)
	if err != nil || expected == "" || c.Query("state") != expected {
		utils.RespondWithUnauthorized(c, "Invalid OAuth state")
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", c.Request.TLS != nil, true)

	code := c.Query("code")
	if code == "" {
		utils.RespondWithValidationError(c, "code is required", nil)
		return
	}

	login, err := h.Google.Callback(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, login)
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ==================== RELAYS ====================

func (h *Handler) ListGmail(c *gin.Context) {
	var req struct {
		AccessToken string `json:"access_token" binding:"required"`
		MaxResults  int64  `json:"max_results"`
	}
	if !bindJSON(c, &req) {
		return
	}

	messages, err := h.Gmail.ListInbox(c.Request.Context(), req.AccessToken, req.MaxResults)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondWithSuccess(c, messages)
}

func (h *Handler) SendGmail(c *gin.Context) {
	var req struct {
		AccessToken string `json:"access_token" binding:"required"`
		To          string `json:"to" binding:"required"`
		Subject     string `json:"subject"`
		Body        string `json:"body"`
		ClientID    string `json:"client_id"`
	}
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	userID := middleware.UserID(c)
	if !h.clientExists(c, req.ClientID) {
		return
	}

	id, err := h.Gmail.Send(ctx, req.AccessToken, req.To, req.Subject, req.Body)
	if err != nil {
		respondError(c, err)
		return
	}

	h.recordRelay(c, userID, req.ClientID, &models.Communication{
		Type:       models.CommunicationEmail,
		Subject:    req.Subject,
		Content:    req.Body,
		ExternalID: id,
	})
	utils.RespondWithSuccess(c, gin.H{"id": id})
}

func (h *Handler) SendEmail(c *gin.Context) {
	var req struct {
		To       string `json:"to" binding:"required"`
		From     string `json:"from"`
		CC       string `json:"cc"`
		Subject  string `json:"subject" binding:"required"`
		Text     string `json:"text"`
		HTML     string `json:"html"`
		ClientID string `json:"client_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if !h.clientExists(c, req.ClientID) {
		return
	}

	msg := &services.EmailMessage{
		From:    req.From,
		To:      splitList(req.To),
		CC:      splitList(req.CC),
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
	}
	if err := h.Email.SendEmail(c.Request.Context(), msg); err != nil {
		respondError(c, err)
		return
	}

	h.recordRelay(c, middleware.UserID(c), req.ClientID, &models.Communication{
		Type:    models.CommunicationEmail,
		Subject: req.Subject,
		Content: req.Text,
	})
	utils.RespondWithSuccess(c, gin.H{"message": "Email sent"})
}

func (h *Handler) SendWhatsApp(c *gin.Context) {
	var req struct {
		To       string `json:"to" binding:"required"`
		From     string `json:"from"`
		Message  string `json:"message" binding:"required"`
		ClientID string `json:"client_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if !h.clientExists(c, req.ClientID) {
		return
	}

	sid, err := h.WhatsApp.SendWhatsApp(c.Request.Context(), req.From, req.To, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}

	h.recordRelay(c, middleware.UserID(c), req.ClientID, &models.Communication{
		Type:       models.CommunicationWhatsApp,
		Content:    req.Message,
		ExternalID: sid,
	})
	utils.RespondWithSuccess(c, gin.H{"sid": sid})
}

// clientExists checks an optional client id before anything is sent
func (h *Handler) clientExists(c *gin.Context, clientID string) bool {
	if clientID == "" {
		return true
	}
	if _, err := h.Clients.Get(c.Request.Context(), middleware.UserID(c), clientID); err != nil {
		respondError(c, err)
		return false
	}
	return true
}

// recordRelay logs a delivered relay message. The send already happened, so
// a logging failure does not fail the request.
func (h *Handler) recordRelay(c *gin.Context, userID, clientID string, comm *models.Communication) {
	if clientID == "" {
		return
	}
	comm.Priority = models.PriorityMedium
	comm.Status = models.CommunicationSent
	if _, err := h.Communications.Record(c.Request.Context(), userID, clientID, comm); err != nil {
		log.Printf("[COMMS] relay %s for client %s not logged: %v", comm.Type, clientID, err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
