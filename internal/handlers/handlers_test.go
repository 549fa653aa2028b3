package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"advisorcrm/internal/config"
	"advisorcrm/internal/database"
	"advisorcrm/internal/events"
	"advisorcrm/internal/middleware"
	"advisorcrm/internal/models"
	"advisorcrm/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTwilioToken = "twilio-token"
	testWebhookURL  = "https://crm.example.com/api/webhooks/twilio/whatsapp"
)

var unsafeDSN = regexp.MustCompile(`[^A-Za-z0-9]+`)

type stubEmail struct{}

func (stubEmail) SendEmail(ctx context.Context, msg *services.EmailMessage) error { return nil }

type stubWhatsApp struct {
	mu  sync.Mutex
	err error
}

func (s *stubWhatsApp) SendWhatsApp(ctx context.Context, from, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return "SM1", nil
}

type testServer struct {
	router   *gin.Engine
	deps     Dependencies
	whatsapp *stubWhatsApp
	token    string
	userID   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New(&config.DatabaseConfig{
		Driver:       "sqlite3",
		DSN:          "file:" + unsafeDSN.ReplaceAllString(t.Name(), "_") + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	cfg := &config.Config{
		JWT:     config.JWTConfig{Secret: "handler-secret", Issuer: "advisorcrm-test", Expiry: time.Hour, RefreshExpiry: time.Hour},
		Mandate: config.MandateConfig{BaseURL: "https://mandate.example.com/m"},
	}

	bus := events.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	whatsapp := &stubWhatsApp{}
	activity := services.NewActivityService(db, bus)
	auth := services.NewAuthService(db, cfg)
	clients := services.NewClientService(db, activity)
	comms := services.NewCommunicationService(db, activity, clients, stubEmail{}, whatsapp)

	deps := Dependencies{
		Auth:             auth,
		Google:           services.NewGoogleAuthService(config.GoogleConfig{}, auth),
		Leads:            services.NewLeadService(db, activity, cfg.Mandate.BaseURL),
		Clients:          clients,
		Communications:   comms,
		Investments:      services.NewInvestmentService(db, activity),
		Activity:         activity,
		Reminders:        services.NewReminderService(db, activity, comms, stubEmail{}, whatsapp, cfg.Reminders),
		Dashboard:        services.NewDashboardService(db, activity),
		Email:            stubEmail{},
		WhatsApp:         whatsapp,
		Bus:              bus,
		TwilioAuthToken:  testTwilioToken,
		TwilioWebhookURL: testWebhookURL,
	}
	h := NewHandler(deps)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.NoMethod(h.NoMethod)
	r.NoRoute(h.NoRoute)

	api := r.Group("/api")
	api.GET("/auth/google", h.GoogleLogin)
	api.GET("/auth/google/callback", h.GoogleCallback)
	api.POST("/webhooks/twilio/whatsapp", h.TwilioWebhook)

	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", h.Register)

	protected := v1.Group("", middleware.AuthMiddleware(auth))
	protected.POST("/leads", h.CreateLead)
	protected.GET("/leads/:id", h.GetLead)
	protected.POST("/leads/:id/advance", h.AdvanceLead)
	protected.POST("/leads/:id/convert", h.ConvertLead)
	protected.GET("/leads/:id/mandate-qr", h.GetMandateQR)
	protected.POST("/clients", h.CreateClient)
	protected.POST("/clients/:id/communications", h.LogCommunication)
	protected.GET("/communications/follow-ups", h.ListFollowUps)
	protected.POST("/investments/summary", h.SummarizeInvestments)
	protected.GET("/subscribe/:collection", h.Subscribe)

	ts := &testServer{router: r, deps: deps, whatsapp: whatsapp}

	resp, err := auth.Register(context.Background(), &services.RegisterRequest{
		Email: "meera@example.com", Password: "password123", Name: "Meera",
	})
	require.NoError(t, err)
	ts.token = resp.AccessToken
	ts.userID = resp.User.ID
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestRoutingEnvelopes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodDelete, "/api/v1/auth/register", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decode(t, w).Error.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	w := ts.do(t, http.MethodPost, "/api/v1/leads", map[string]any{"name": "Asha"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, w).Error.Code)

	ts.token = "garbage"
	w = ts.do(t, http.MethodPost, "/api/v1/leads", map[string]any{"name": "Asha"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLeadLifecycle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/leads", map[string]any{"name": "Asha", "product_interest": []string{"sip"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var lead struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &lead))

	w = ts.do(t, http.MethodPost, "/api/v1/leads", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Not at the mandate stage yet
	w = ts.do(t, http.MethodGet, "/api/v1/leads/"+lead.ID+"/mandate-qr", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	for i := 0; i < 6; i++ {
		w = ts.do(t, http.MethodPost, "/api/v1/leads/"+lead.ID+"/advance", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodGet, "/api/v1/leads/"+lead.ID+"/mandate-qr?size=128", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = ts.do(t, http.MethodPost, "/api/v1/leads/"+lead.ID+"/convert", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first ConversionResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &first))
	assert.True(t, first.Created)

	w = ts.do(t, http.MethodPost, "/api/v1/leads/"+lead.ID+"/convert", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second ConversionResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &second))
	assert.False(t, second.Created)
	assert.Equal(t, first.Client.ID, second.Client.ID)

	w = ts.do(t, http.MethodGet, "/api/v1/leads/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogCommunicationGatewayFailure(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/clients", map[string]any{"name": "Priya", "phone": "9820012345"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var client struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &client))

	ts.whatsapp.err = services.ErrExternalAPI
	w = ts.do(t, http.MethodPost, "/api/v1/clients/"+client.ID+"/communications", map[string]any{
		"type": "whatsapp", "content": "Hello", "send": true,
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "EXTERNAL_API_ERROR", decode(t, w).Error.Code)

	// The attempt is still on record
	_, total, err := ts.deps.Communications.List(context.Background(), ts.userID, services.CommunicationFilter{ClientID: client.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	ts.whatsapp.err = nil
	w = ts.do(t, http.MethodPost, "/api/v1/clients/"+client.ID+"/communications", map[string]any{"type": "call"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/clients/missing/communications", map[string]any{"type": "call"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFollowUpWindowValidation(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/communications/follow-ups", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/communications/follow-ups?days=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/communications/follow-ups?days=abc", nil).Code)
}

func TestSummarizeInvestments(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/investments/summary", map[string]any{
		"year": 2025,
		"records": []map[string]any{
			{"month": 1, "sip_target": "15000", "sip_achieved": "15000"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary services.YearSummary
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &summary))
	require.Len(t, summary.Months, 12)
	assert.True(t, decimal.NewFromInt(100).Equal(summary.Months[0].SIP.ProgressPercent))
	assert.True(t, summary.Months[0].SIP.Deficit.IsZero())

	w = ts.do(t, http.MethodPost, "/api/v1/investments/summary", map[string]any{
		"year":    2025,
		"records": []map[string]any{{"month": 1, "sip_target": "-5"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTwilioWebhook(t *testing.T) {
	ts := newTestServer(t)
	ts.token = ""

	_, err := ts.deps.Clients.Create(context.Background(), ts.userID, &services.CreateClientRequest{Name: "Priya", Phone: "9820012345"})
	require.NoError(t, err)

	form := url.Values{
		"From":       {"whatsapp:+919820012345"},
		"Body":       {"When is my SIP due?"},
		"MessageSid": {"SMin1"},
	}

	post := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/twilio/whatsapp", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", signature)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		return w
	}

	w := post("bm90LXRoZS1zaWduYXR1cmU=")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(twilioSignature(testTwilioToken, testWebhookURL, form))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "<Response/>", w.Body.String())

	comms, _, err := ts.deps.Communications.List(context.Background(), ts.userID, services.CommunicationFilter{})
	require.NoError(t, err)
	require.Len(t, comms, 1)
	assert.Equal(t, "SMin1", comms[0].ExternalID)
}

func TestTwilioSignatureOrdersParameters(t *testing.T) {
	a := url.Values{"b": {"2"}, "a": {"1"}}
	b := url.Values{"a": {"1"}, "b": {"2"}}
	assert.Equal(t, twilioSignature("tok", "https://x", a), twilioSignature("tok", "https://x", b))
	assert.NotEqual(t, twilioSignature("tok", "https://x", a), twilioSignature("other", "https://x", a))
	assert.False(t, validTwilioSignature("tok", "https://x", a, ""))
}

func TestGoogleRoutes(t *testing.T) {
	ts := newTestServer(t)

	// No client id configured
	w := ts.do(t, http.MethodGet, "/api/auth/google", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ts.deps.Google = services.NewGoogleAuthService(config.GoogleConfig{
		ClientID: "client-id", ClientSecret: "secret", RedirectURL: "https://crm.example.com/api/auth/google/callback",
	}, ts.deps.Auth)
	h := NewHandler(ts.deps)
	r := gin.New()
	r.GET("/login", h.GoogleLogin)
	r.GET("/callback", h.GoogleCallback)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	var stateCookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == oauthStateCookie {
			stateCookie = ck
		}
	}
	require.NotNil(t, stateCookie)
	assert.Equal(t, state, stateCookie.Value)
	assert.True(t, stateCookie.HttpOnly)

	// A state that does not match the cookie is rejected before any exchange
	req := httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=forged", nil)
	req.AddCookie(stateCookie)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubscribeStreamsSnapshotThenChanges(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	w := ts.do(t, http.MethodGet, "/api/v1/subscribe/portfolios", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := ts.deps.Leads.Create(context.Background(), ts.userID, &services.CreateLeadRequest{Name: "Asha"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/subscribe/leads?access_token="+ts.token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, data := nextEvent()
	assert.Equal(t, "snapshot", name)
	assert.Contains(t, data, "Asha")

	// Another advisor's change is not delivered, ours is
	otherID := "00000000-0000-0000-0000-000000000001"
	ts.deps.Activity.Publish(context.Background(), events.CollectionLeads, events.Added, "x", otherID, map[string]string{"name": "Hidden"})
	_, err = ts.deps.Leads.Create(context.Background(), ts.userID, &services.CreateLeadRequest{Name: "Vikram"})
	require.NoError(t, err)

	name, data = nextEvent()
	assert.Equal(t, "added", name)
	assert.Contains(t, data, "Vikram")
	assert.NotContains(t, data, "Hidden")
}

func TestSnapshotIncludesEveryDocument(t *testing.T) {
	ts := newTestServer(t)
	h := NewHandler(ts.deps)
	ctx := context.Background()

	for i := 0; i < 130; i++ {
		_, err := ts.deps.Leads.Create(ctx, ts.userID, &services.CreateLeadRequest{Name: "Lead " + strconv.Itoa(i)})
		require.NoError(t, err)
	}

	snap, err := h.snapshot(ctx, ts.userID, events.CollectionLeads)
	require.NoError(t, err)
	assert.EqualValues(t, 130, snap.Total)
	assert.False(t, snap.Truncated)
	leads, ok := snap.Documents.([]models.Lead)
	require.True(t, ok)
	assert.Len(t, leads, 130)

	seen := make(map[string]bool, len(leads))
	for _, l := range leads {
		seen[l.ID] = true
	}
	assert.Len(t, seen, 130)

	// Activities are cut to the most recent entries and say so
	snap, err = h.snapshot(ctx, ts.userID, events.CollectionActivities)
	require.NoError(t, err)
	assert.EqualValues(t, 130, snap.Total)

	empty, err := h.snapshot(ctx, ts.userID, events.CollectionSIPReminders)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.NotNil(t, empty.Documents)
}

func TestSnapshotRejectsUnknownCollection(t *testing.T) {
	ts := newTestServer(t)

	snap, err := NewHandler(ts.deps).snapshot(context.Background(), ts.userID, "portfolios")
	assert.Error(t, err)
	assert.Nil(t, snap)
}
