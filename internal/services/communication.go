package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"advisorcrm/internal/database"
	"advisorcrm/internal/events"
	"advisorcrm/internal/models"

	"gorm.io/gorm"
)

// CommunicationService keeps the append-only log of client interactions and
// delivers email and WhatsApp messages when asked to send.
type CommunicationService struct {
	db       *database.DB
	activity *ActivityService
	clients  *ClientService
	email    EmailSender
	whatsapp WhatsAppSender
}

func NewCommunicationService(db *database.DB, activity *ActivityService, clients *ClientService, email EmailSender, whatsapp WhatsAppSender) *CommunicationService {
	return &CommunicationService{
		db:       db,
		activity: activity,
		clients:  clients,
		email:    email,
		whatsapp: whatsapp,
	}
}

// Log records a communication for one of the advisor's clients. With
// req.Send set, email and WhatsApp entries are delivered first and logged as
// sent or failed. The delivery error, if any, is returned next to the saved
// entry.
func (s *CommunicationService) Log(ctx context.Context, userID, clientID string, req *LogCommunicationRequest) (*models.Communication, error) {
	client, err := s.clients.Get(ctx, userID, clientID)
	if err != nil {
		return nil, err
	}

	comm, err := buildCommunication(userID, client.ID, req)
	if err != nil {
		return nil, err
	}

	var sendErr error
	if req.Send {
		sendErr = s.deliver(ctx, client, comm)
		// Nothing was attempted, so there is nothing to log
		if errors.Is(sendErr, ErrValidation) {
			return nil, sendErr
		}
	}

	if err := s.save(ctx, comm); err != nil {
		return nil, err
	}
	return comm, sendErr
}

func buildCommunication(userID, clientID string, req *LogCommunicationRequest) (*models.Communication, error) {
	commType := models.CommunicationType(strings.ToLower(strings.TrimSpace(req.Type)))
	if !commType.Valid() {
		return nil, validationError("unknown communication type %q", req.Type)
	}

	priority := models.PriorityMedium
	if req.Priority != "" {
		priority = models.Priority(strings.ToLower(req.Priority))
		if !priority.Valid() {
			return nil, validationError("unknown priority %q", req.Priority)
		}
	}

	status := models.CommunicationPending
	if req.Status != "" {
		status = models.CommunicationStatus(strings.ToLower(req.Status))
		if !status.Valid() {
			return nil, validationError("unknown status %q", req.Status)
		}
	}

	var product models.Product
	if req.RelatedProduct != "" {
		p, err := models.ParseProduct(req.RelatedProduct)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		product = p
	}

	comm := &models.Communication{
		UserID:         userID,
		ClientID:       clientID,
		Type:           commType,
		Priority:       priority,
		Status:         status,
		Subject:        strings.TrimSpace(req.Subject),
		Content:        req.Content,
		RelatedProduct: product,
		AdvisorNotes:   strings.TrimSpace(req.AdvisorNotes),
	}
	if req.FollowUpDate != nil {
		// sqlite compares timestamps as text, so every stored time is UTC
		followUp := req.FollowUpDate.UTC()
		comm.FollowUpDate = &followUp
	}
	if req.Date != nil {
		comm.Date = req.Date.UTC()
	}
	return comm, nil
}

func (s *CommunicationService) deliver(ctx context.Context, client *models.Client, comm *models.Communication) error {
	var err error
	switch comm.Type {
	case models.CommunicationEmail:
		if client.Email == "" {
			return validationError("client has no email address")
		}
		err = s.email.SendEmail(ctx, &EmailMessage{
			To:      []string{client.Email},
			Subject: comm.Subject,
			Text:    comm.Content,
		})
	case models.CommunicationWhatsApp:
		if client.Phone == "" {
			return validationError("client has no phone number")
		}
		var sid string
		sid, err = s.whatsapp.SendWhatsApp(ctx, "", client.Phone, comm.Content)
		comm.ExternalID = sid
	default:
		// Calls, meetings and documents are only logged
		return nil
	}

	if err != nil {
		comm.Status = models.CommunicationFailed
		log.Printf("[COMMS] %s to client %s failed: %v", comm.Type, client.ID, err)
		return err
	}
	comm.Status = models.CommunicationSent
	return nil
}

// Record logs a communication that was already delivered elsewhere, such as
// a Gmail send or a relay call.
func (s *CommunicationService) Record(ctx context.Context, userID, clientID string, comm *models.Communication) (*models.Communication, error) {
	client, err := s.clients.Get(ctx, userID, clientID)
	if err != nil {
		return nil, err
	}
	comm.UserID = userID
	comm.ClientID = client.ID
	if err := s.save(ctx, comm); err != nil {
		return nil, err
	}
	return comm, nil
}

// RecordInbound logs a received WhatsApp message against every client whose
// phone matches the sender. It returns the entries created.
func (s *CommunicationService) RecordInbound(ctx context.Context, fromPhone, body, externalID string) ([]models.Communication, error) {
	phone := normalizePhone(strings.TrimPrefix(fromPhone, "whatsapp:"))
	if phone == "" {
		return nil, validationError("sender phone is required")
	}

	var clients []models.Client
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("failed to match sender: %w", err)
	}

	logged := make([]models.Communication, 0, len(clients))
	for _, client := range clients {
		comm := &models.Communication{
			UserID:     client.UserID,
			ClientID:   client.ID,
			Type:       models.CommunicationWhatsApp,
			Priority:   models.PriorityMedium,
			Status:     models.CommunicationReceived,
			Content:    body,
			ExternalID: externalID,
		}
		if err := s.save(ctx, comm); err != nil {
			return logged, err
		}
		logged = append(logged, *comm)
	}
	return logged, nil
}

func (s *CommunicationService) save(ctx context.Context, comm *models.Communication) error {
	if err := s.db.WithContext(ctx).Create(comm).Error; err != nil {
		return fmt.Errorf("failed to log communication: %w", err)
	}

	s.activity.Publish(ctx, events.CollectionCommunications, events.Added, comm.ID, comm.UserID, comm)
	s.activity.Record(ctx, comm.UserID, "communication_logged", "communication", comm.ID,
		fmt.Sprintf("%s (%s) for client %s", comm.Type, comm.Status, comm.ClientID))
	return nil
}

// Get retrieves a single communication
func (s *CommunicationService) Get(ctx context.Context, userID, commID string) (*models.Communication, error) {
	var comm models.Communication
	err := s.db.WithContext(ctx).First(&comm, "id = ? AND user_id = ?", commID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommunicationNotFound
		}
		return nil, fmt.Errorf("failed to fetch communication: %w", err)
	}
	return &comm, nil
}

// List returns communications newest first
func (s *CommunicationService) List(ctx context.Context, userID string, filter CommunicationFilter) ([]models.Communication, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Communication{}).Where("user_id = ?", userID)

	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}
	if filter.Type != "" {
		if !models.CommunicationType(filter.Type).Valid() {
			return nil, 0, validationError("unknown communication type %q", filter.Type)
		}
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		if !models.CommunicationStatus(filter.Status).Valid() {
			return nil, 0, validationError("unknown status %q", filter.Status)
		}
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		if !models.Priority(filter.Priority).Valid() {
			return nil, 0, validationError("unknown priority %q", filter.Priority)
		}
		query = query.Where("priority = ?", filter.Priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count communications: %w", err)
	}

	page := filter.Page.normalize()
	var comms []models.Communication
	if err := query.Order("date DESC, id DESC").Offset(page.Offset).Limit(page.Limit).Find(&comms).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch communications: %w", err)
	}
	return comms, total, nil
}

// ListFollowUps returns communications whose follow-up date falls in
// [from, to], soonest first.
func (s *CommunicationService) ListFollowUps(ctx context.Context, userID string, from, to time.Time) ([]models.Communication, error) {
	if to.Before(from) {
		return nil, validationError("follow-up window ends before it starts")
	}

	var comms []models.Communication
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND follow_up_date IS NOT NULL AND follow_up_date >= ? AND follow_up_date <= ?", userID, from.UTC(), to.UTC()).
		Order("follow_up_date ASC").
		Find(&comms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch follow-ups: %w", err)
	}
	return comms, nil
}

// Request types
type LogCommunicationRequest struct {
	Type           string     `json:"type" binding:"required"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	Subject        string     `json:"subject"`
	Content        string     `json:"content"`
	FollowUpDate   *time.Time `json:"follow_up_date"`
	RelatedProduct string     `json:"related_product"`
	AdvisorNotes   string     `json:"advisor_notes"`
	Date           *time.Time `json:"date"`
	Send           bool       `json:"send"`
}

type CommunicationFilter struct {
	ClientID string
	Type     string
	Status   string
	Priority string
	Page
}
