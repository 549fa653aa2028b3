package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"advisorcrm/internal/utils"

	"github.com/gin-gonic/gin"
)

// TwilioWebhook receives inbound WhatsApp messages and logs them against the
// clients whose phone number matches the sender.
func (h *Handler) TwilioWebhook(c *gin.Context) {
	if h.TwilioAuthToken == "" || h.TwilioWebhookURL == "" {
		utils.RespondWithError(c, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable, "Twilio webhook is not configured")
		return
	}

	if err := c.Request.ParseForm(); err != nil {
		utils.RespondWithValidationError(c, "Invalid form body", err.Error())
		return
	}

	if !validTwilioSignature(h.TwilioAuthToken, h.TwilioWebhookURL, c.Request.PostForm, c.GetHeader("X-Twilio-Signature")) {
		log.Printf("[WHATSAPP] rejected webhook with bad signature from %s", c.ClientIP())
		utils.RespondWithUnauthorized(c, "Invalid signature")
		return
	}

	from := c.Request.PostForm.Get("From")
	sid := c.Request.PostForm.Get("MessageSid")
	logged, err := h.Communications.RecordInbound(c.Request.Context(), from, c.Request.PostForm.Get("Body"), sid)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(logged) == 0 {
		log.Printf("[WHATSAPP] message %s from %s matches no client", sid, from)
	}

	// Empty TwiML: acknowledge without replying to the sender
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte("<Response/>"))
}

// twilioSignature is base64(HMAC-SHA1(url + sorted key/value pairs))
func twilioSignature(authToken, webhookURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(webhookURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validTwilioSignature(authToken, webhookURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := twilioSignature(authToken, webhookURL, form)
	return hmac.Equal([]byte(expected), []byte(signature))
}
