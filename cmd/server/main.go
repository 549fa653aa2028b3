package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"advisorcrm/internal/config"
	"advisorcrm/internal/database"
	"advisorcrm/internal/events"
	"advisorcrm/internal/handlers"
	"advisorcrm/internal/middleware"
	"advisorcrm/internal/services"
	"advisorcrm/internal/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Log database stats periodically
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := db.Stats()
			log.Printf("[DB] Open=%d Idle=%d InUse=%d WaitCount=%d",
				stats.OpenConnections, stats.Idle,
				stats.InUse, stats.WaitCount)
		}
	}()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	bus, err := newBus(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to start event bus: %v", err)
	}

	// Initialize services
	deps := newDependencies(cfg, db, bus)
	if cfg.Reminders.Enabled {
		deps.Reminders.Start(ctx)
	}

	handler := handlers.NewHandler(deps)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	defer rateLimiter.Stop()

	// Setup Gin
	if cfg.Server.Mode == "production" || cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Custom server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      setupRouter(cfg, db, handler, rateLimiter, deps.Auth),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting advisor CRM on :%s (mode: %s)", cfg.Server.Port, cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stops the reminder loop and ends open SSE streams
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	// Stop accepting new requests
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if err := bus.Close(); err != nil {
		log.Printf("Error closing event bus: %v", err)
	}

	// Close database connections
	if err := db.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("Server exited gracefully")
}

// newBus picks Redis pub/sub when REDIS_URL is set, in-process fan-out otherwise
func newBus(ctx context.Context, cfg config.RedisConfig) (events.Bus, error) {
	if cfg.URL == "" {
		log.Println("[EVENTS] using in-process event bus")
		return events.NewMemoryBus(), nil
	}
	bus, err := events.NewRedisBus(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Println("[EVENTS] using Redis event bus")
	return bus, nil
}

func newDependencies(cfg *config.Config, db *database.DB, bus events.Bus) handlers.Dependencies {
	email := services.NewEmailService(cfg.Mail)

	var whatsapp services.WhatsAppSender
	if cfg.Twilio.AccountSID != "" {
		whatsapp = services.NewWhatsAppService(cfg.Twilio)
	} else {
		log.Println("[WHATSAPP] Twilio not configured, messages will only be logged")
		whatsapp = services.NewLogWhatsAppService()
	}

	activity := services.NewActivityService(db, bus)
	auth := services.NewAuthService(db, cfg)
	clients := services.NewClientService(db, activity)
	comms := services.NewCommunicationService(db, activity, clients, email, whatsapp)

	return handlers.Dependencies{
		Auth:             auth,
		Google:           services.NewGoogleAuthService(cfg.Google, auth),
		Gmail:            services.NewGmailService(cfg.Google.GmailEndpoint),
		Leads:            services.NewLeadService(db, activity, cfg.Mandate.BaseURL),
		Clients:          clients,
		Communications:   comms,
		Investments:      services.NewInvestmentService(db, activity),
		Activity:         activity,
		Reminders:        services.NewReminderService(db, activity, comms, email, whatsapp, cfg.Reminders),
		Dashboard:        services.NewDashboardService(db, activity),
		Email:            email,
		WhatsApp:         whatsapp,
		Bus:              bus,
		TwilioAuthToken:  cfg.Twilio.AuthToken,
		TwilioWebhookURL: cfg.Twilio.WebhookURL,
	}
}

func setupRouter(cfg *config.Config, db *database.DB, handler *handlers.Handler,
	rateLimiter *middleware.RateLimiter, authService *services.AuthService) *gin.Engine {

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Recovery - prevents panics from crashing server
	r.Use(utils.RecoveryMiddleware())

	// Request ID - for tracing
	r.Use(utils.RequestIDMiddleware())

	// Logger - one line per request
	r.Use(utils.LoggerMiddleware())

	// CORS
	r.Use(utils.CORSHeaders(cfg.Server.AllowedOrigins))

	r.NoMethod(handler.NoMethod)
	r.NoRoute(handler.NoRoute)

	// Health check (no rate limiting, no auth)
	r.GET("/health", healthCheckHandler(db))

	limited := middleware.RateLimitMiddleware(rateLimiter)
	requireAuth := middleware.AuthMiddleware(authService)

	// Google sign-in and the dashboard relays
	api := r.Group("/api")
	{
		api.GET("/auth/google", limited, handler.GoogleLogin)
		api.GET("/auth/google/callback", limited, handler.GoogleCallback)

		relays := api.Group("")
		relays.Use(requireAuth, limited)
		relays.POST("/gmail", handler.ListGmail)
		relays.POST("/gmail/send", handler.SendGmail)
		relays.POST("/send-email", handler.SendEmail)
		relays.POST("/send-whatsapp", handler.SendWhatsApp)

		// Twilio signs its requests; no JWT
		api.POST("/webhooks/twilio/whatsapp", handler.TwilioWebhook)
	}

	// Public routes
	public := r.Group("/api/v1")
	{
		public.POST("/auth/register", limited, handler.Register)
		public.POST("/auth/login", limited, handler.Login)
		public.POST("/auth/refresh", limited, handler.RefreshToken)
	}

	// Protected routes
	protected := r.Group("/api/v1")
	protected.Use(requireAuth, limited)
	{
		// Advisor
		protected.GET("/me", handler.GetMe)
		protected.PUT("/me", handler.UpdateMe)
		protected.POST("/logout", handler.Logout)

		// Leads
		protected.POST("/leads", handler.CreateLead)
		protected.GET("/leads", handler.ListLeads)
		protected.GET("/leads/:id", handler.GetLead)
		protected.PUT("/leads/:id", handler.UpdateLead)
		protected.POST("/leads/:id/notes", handler.AddLeadNote)
		protected.GET("/leads/:id/progress", handler.GetLeadProgress)
		protected.POST("/leads/:id/advance", handler.AdvanceLead)
		protected.POST("/leads/:id/retreat", handler.RetreatLead)
		protected.POST("/leads/:id/convert", handler.ConvertLead)
		protected.GET("/leads/:id/mandate-qr", handler.GetMandateQR)

		// Clients
		protected.POST("/clients", handler.CreateClient)
		protected.GET("/clients", handler.ListClients)
		protected.GET("/clients/:id", handler.GetClient)
		protected.PUT("/clients/:id", handler.UpdateClient)
		protected.DELETE("/clients/:id", handler.DeleteClient)
		protected.POST("/clients/:id/communications", handler.LogCommunication)
		protected.GET("/clients/:id/communications", handler.ListClientCommunications)

		// Communications
		protected.GET("/communications", handler.ListCommunications)
		protected.GET("/communications/follow-ups", handler.ListFollowUps)
		protected.GET("/communications/:id", handler.GetCommunication)

		// Investments
		protected.GET("/investments/:year", handler.GetInvestmentYear)
		protected.PUT("/investments/:year/:month", handler.UpsertInvestmentMonth)
		protected.POST("/investments/summary", handler.SummarizeInvestments)

		// Reminders, activity and dashboard
		protected.GET("/reminders", handler.ListReminders)
		protected.POST("/reminders/run", handler.RunReminders)
		protected.GET("/activities", handler.ListActivities)
		protected.GET("/dashboard", handler.GetDashboard)
	}

	// Live feeds sit outside the rate limiter; one request stays open
	live := r.Group("/api/v1")
	live.Use(requireAuth)
	live.GET("/subscribe/:collection", handler.Subscribe)

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(db *database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database
		if err := db.Ping(); err != nil {
			utils.RespondWithError(c, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable, "database connection failed")
			return
		}

		utils.RespondWithSuccess(c, gin.H{
			"status":  "healthy",
			"time":    time.Now().UTC().Format(time.RFC3339),
			"version": "1.0.0",
		})
	}
}
