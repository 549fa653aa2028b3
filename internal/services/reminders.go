package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"advisorcrm/internal/config"
	"advisorcrm/internal/database"
	"advisorcrm/internal/events"
	"advisorcrm/internal/models"
)

// ReminderService sends SIP instalment reminders ahead of each client's
// next SIP date and keeps those dates current.
type ReminderService struct {
	db       *database.DB
	activity *ActivityService
	comms    *CommunicationService
	email    EmailSender
	whatsapp WhatsAppSender
	cfg      config.ReminderConfig
	now      func() time.Time
}

// ReminderRun summarises one pass of the reminder job
type ReminderRun struct {
	Checked int `json:"checked"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Rolled  int `json:"rolled"`
}

func NewReminderService(db *database.DB, activity *ActivityService, comms *CommunicationService, email EmailSender, whatsapp WhatsAppSender, cfg config.ReminderConfig) *ReminderService {
	return &ReminderService{
		db:       db,
		activity: activity,
		comms:    comms,
		email:    email,
		whatsapp: whatsapp,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start runs the job on the configured interval until ctx is cancelled
func (s *ReminderService) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.cfg.Interval <= 0 {
		log.Println("[REMINDERS] scheduler disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx, ""); err != nil {
					log.Printf("[REMINDERS] run failed: %v", err)
				}
			}
		}
	}()
	log.Printf("[REMINDERS] scheduler started (every %v, %d days ahead)", s.cfg.Interval, s.cfg.DaysBeforeDue)
}

// Run processes every SIP client, or only one advisor's clients when userID
// is set. Past SIP dates are first rolled forward by whole months, then
// clients due within DaysBeforeDue get one reminder per channel.
func (s *ReminderService) Run(ctx context.Context, userID string) (*ReminderRun, error) {
	today := startOfDay(s.now())
	horizon := today.AddDate(0, 0, s.cfg.DaysBeforeDue)

	query := s.db.WithContext(ctx).
		Where("product_sip = ? AND sip_next_date IS NOT NULL AND sip_next_date < ?", true, horizon.AddDate(0, 0, 1))
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var clients []models.Client
	if err := query.Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch SIP clients: %w", err)
	}

	run := &ReminderRun{}
	advisors := make(map[string]*models.User)
	for i := range clients {
		client := &clients[i]
		run.Checked++

		due := startOfDay(*client.SIPNextDate)
		if due.Before(today) {
			due = rollForward(due, today)
			if err := s.rollClient(ctx, client, due); err != nil {
				log.Printf("[REMINDERS] failed to roll SIP date for client %s: %v", client.ID, err)
				continue
			}
			run.Rolled++
		}
		if due.After(horizon) {
			continue
		}

		advisor, ok := advisors[client.UserID]
		if !ok {
			advisor = &models.User{}
			if err := s.db.WithContext(ctx).First(advisor, "id = ?", client.UserID).Error; err != nil {
				log.Printf("[REMINDERS] advisor %s missing for client %s: %v", client.UserID, client.ID, err)
			}
			advisors[client.UserID] = advisor
		}

		for _, channel := range s.channelsFor(client) {
			sent, err := s.remind(ctx, client, advisor, due, channel)
			switch {
			case err != nil:
				run.Failed++
				log.Printf("[REMINDERS] %s reminder for client %s failed: %v", channel, client.ID, err)
			case sent:
				run.Sent++
			default:
				run.Skipped++
			}
		}
	}

	log.Printf("[REMINDERS] checked=%d sent=%d failed=%d skipped=%d rolled=%d",
		run.Checked, run.Sent, run.Failed, run.Skipped, run.Rolled)
	return run, nil
}

func (s *ReminderService) channelsFor(client *models.Client) []models.CommunicationType {
	var channels []models.CommunicationType
	if s.cfg.EnableEmail && client.Email != "" {
		channels = append(channels, models.CommunicationEmail)
	}
	if s.cfg.EnableWhatsApp && client.Phone != "" {
		channels = append(channels, models.CommunicationWhatsApp)
	}
	return channels
}

// remind sends one reminder unless one already exists for this client, due
// date and channel. sent is false when it was skipped.
func (s *ReminderService) remind(ctx context.Context, client *models.Client, advisor *models.User, due time.Time, channel models.CommunicationType) (sent bool, err error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SIPReminder{}).
		Where("client_id = ? AND due_date = ? AND channel = ?", client.ID, due, channel).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check reminder history: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	data := SIPReminderData{ClientName: client.Name, AdvisorName: advisor.Name, DueDate: due}
	if data.AdvisorName == "" {
		data.AdvisorName = "Your advisor"
	}

	comm := &models.Communication{
		Type:           channel,
		Priority:       models.PriorityMedium,
		Subject:        data.Subject(),
		Content:        data.Text(),
		RelatedProduct: models.ProductSIP,
		AdvisorNotes:   "automatic SIP reminder",
	}

	switch channel {
	case models.CommunicationEmail:
		html, renderErr := data.HTML()
		if renderErr != nil {
			return false, renderErr
		}
		err = s.email.SendEmail(ctx, &EmailMessage{
			To:      []string{client.Email},
			Subject: data.Subject(),
			Text:    data.Text(),
			HTML:    html,
		})
	case models.CommunicationWhatsApp:
		comm.ExternalID, err = s.whatsapp.SendWhatsApp(ctx, "", client.Phone, data.Text())
	}

	reminder := &models.SIPReminder{
		UserID:   client.UserID,
		ClientID: client.ID,
		DueDate:  due,
		Channel:  channel,
		Status:   models.ReminderSent,
	}
	comm.Status = models.CommunicationSent
	if err != nil {
		reminder.Status = models.ReminderFailed
		reminder.Error = err.Error()
		comm.Status = models.CommunicationFailed
	}

	if dbErr := s.db.WithContext(ctx).Create(reminder).Error; dbErr != nil {
		return false, fmt.Errorf("failed to record reminder: %w", dbErr)
	}
	s.activity.Publish(ctx, events.CollectionSIPReminders, events.Added, reminder.ID, reminder.UserID, reminder)

	if _, logErr := s.comms.Record(ctx, client.UserID, client.ID, comm); logErr != nil {
		log.Printf("[REMINDERS] failed to log communication for client %s: %v", client.ID, logErr)
	}

	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *ReminderService) rollClient(ctx context.Context, client *models.Client, next time.Time) error {
	if err := s.db.WithContext(ctx).Model(client).Update("sip_next_date", next).Error; err != nil {
		return err
	}
	client.SIPNextDate = &next
	s.activity.Publish(ctx, events.CollectionClients, events.Modified, client.ID, client.UserID, client)
	return nil
}

// List returns reminder history, newest first
func (s *ReminderService) List(ctx context.Context, userID, clientID string, limit int) ([]models.SIPReminder, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if clientID != "" {
		query = query.Where("client_id = ?", clientID)
	}

	var reminders []models.SIPReminder
	if err := query.Order("created_at DESC").Limit(limit).Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch reminders: %w", err)
	}
	return reminders, nil
}

// ListPage returns one page of an advisor's reminder history with the total
func (s *ReminderService) ListPage(ctx context.Context, userID string, page Page) ([]models.SIPReminder, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SIPReminder{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reminders: %w", err)
	}

	page = page.normalize()
	var reminders []models.SIPReminder
	if err := query.Order("created_at DESC, id DESC").Offset(page.Offset).Limit(page.Limit).Find(&reminders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch reminders: %w", err)
	}
	return reminders, total, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// rollForward adds whole months to due until it is no earlier than today.
// The day of month is kept from the original date where the month has it.
func rollForward(due, today time.Time) time.Time {
	day := due.Day()
	for months := 1; ; months++ {
		next := addMonthsClamped(due, months, day)
		if !next.Before(today) {
			return next
		}
	}
}

func addMonthsClamped(t time.Time, months, day int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
