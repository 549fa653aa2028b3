package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"advisorcrm/internal/config"
	"advisorcrm/internal/database"
	"advisorcrm/internal/events"
	"advisorcrm/internal/models"

	"github.com/stretchr/testify/require"
)

var unsafeDSN = regexp.MustCompile(`[^A-Za-z0-9]+`)

// testEnv is a fully wired service graph on a private in-memory database
type testEnv struct {
	cfg         *config.Config
	db          *database.DB
	bus         *events.MemoryBus
	activity    *ActivityService
	auth        *AuthService
	leads       *LeadService
	clients     *ClientService
	comms       *CommunicationService
	investments *InvestmentService
	reminders   *ReminderService
	dashboard   *DashboardService
	email       *fakeEmail
	whatsapp    *fakeWhatsApp
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

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
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:        "test-secret-key",
			Issuer:        "advisorcrm-test",
			Expiry:        time.Hour,
			RefreshExpiry: 24 * time.Hour,
		},
		Reminders: config.ReminderConfig{
			Enabled:        true,
			Interval:       time.Hour,
			DaysBeforeDue:  3,
			EnableEmail:    true,
			EnableWhatsApp: true,
		},
		Mandate: config.MandateConfig{BaseURL: "https://mandate.example.com/m/"},
	}

	env := &testEnv{
		cfg:      cfg,
		db:       newTestDB(t),
		bus:      events.NewMemoryBus(),
		email:    &fakeEmail{},
		whatsapp: &fakeWhatsApp{sid: "SM123"},
	}
	t.Cleanup(func() { env.bus.Close() })

	env.activity = NewActivityService(env.db, env.bus)
	env.auth = NewAuthService(env.db, cfg)
	env.leads = NewLeadService(env.db, env.activity, cfg.Mandate.BaseURL)
	env.clients = NewClientService(env.db, env.activity)
	env.comms = NewCommunicationService(env.db, env.activity, env.clients, env.email, env.whatsapp)
	env.investments = NewInvestmentService(env.db, env.activity)
	env.reminders = NewReminderService(env.db, env.activity, env.comms, env.email, env.whatsapp, cfg.Reminders)
	env.dashboard = NewDashboardService(env.db, env.activity)
	return env
}

// advisor registers an advisor and returns its id
func (e *testEnv) advisor(t *testing.T, email string) string {
	t.Helper()
	resp, err := e.auth.Register(context.Background(), &RegisterRequest{
		Email:    email,
		Password: "password123",
		Name:     "Meera Advisor",
	})
	require.NoError(t, err)
	return resp.User.ID
}

func (e *testEnv) lead(t *testing.T, userID, name string, products ...string) *models.Lead {
	t.Helper()
	lead, err := e.leads.Create(context.Background(), userID, &CreateLeadRequest{
		Name:            name,
		Email:           "lead@example.com",
		Phone:           "9876543210",
		ProductInterest: products,
	})
	require.NoError(t, err)
	return lead
}

func (e *testEnv) client(t *testing.T, userID string, req *CreateClientRequest) *models.Client {
	t.Helper()
	client, err := e.clients.Create(context.Background(), userID, req)
	require.NoError(t, err)
	return client
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []*EmailMessage
	err  error
}

func (f *fakeEmail) SendEmail(ctx context.Context, msg *EmailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeWhatsApp struct {
	mu   sync.Mutex
	sid  string
	sent []string
	err  error
}

func (f *fakeWhatsApp) SendWhatsApp(ctx context.Context, from, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, to)
	return f.sid, nil
}

func (f *fakeWhatsApp) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var errUpstream = errors.Join(ErrExternalAPI, errors.New("gateway timeout"))

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
