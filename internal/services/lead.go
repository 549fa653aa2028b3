package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"advisorcrm/internal/database"
	"advisorcrm/internal/events"
	"advisorcrm/internal/models"
	"advisorcrm/internal/pipeline"

	"github.com/skip2/go-qrcode"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type LeadService struct {
	db             *database.DB
	activity       *ActivityService
	mandateBaseURL string
}

func NewLeadService(db *database.DB, activity *ActivityService, mandateBaseURL string) *LeadService {
	return &LeadService{db: db, activity: activity, mandateBaseURL: strings.TrimRight(mandateBaseURL, "/")}
}

// Create adds a new lead at the first pipeline stage
func (s *LeadService) Create(ctx context.Context, userID string, req *CreateLeadRequest) (*models.Lead, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationError("lead name is required")
	}
	email := strings.TrimSpace(req.Email)
	if email != "" && validateEmail(email) != nil {
		return nil, validationError("invalid email %q", email)
	}
	interest, err := models.ParseProducts(req.ProductInterest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	lead := &models.Lead{
		UserID:          userID,
		Name:            name,
		Email:           email,
		Phone:           normalizePhone(req.Phone),
		ProductInterest: datatypes.JSONSlice[models.Product](interest),
		Status:          models.LeadStatusNew,
		ProgressStatus:  pipeline.First(),
		Notes:           datatypes.JSONSlice[string]{},
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		lead.Notes = append(lead.Notes, note)
	}

	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}

	s.activity.Publish(ctx, events.CollectionLeads, events.Added, lead.ID, userID, lead)
	s.activity.Record(ctx, userID, "lead_created", "lead", lead.ID, lead.Name)
	return lead, nil
}

// Get retrieves one of the advisor's leads
func (s *LeadService) Get(ctx context.Context, userID, leadID string) (*models.Lead, error) {
	return findLead(s.db.WithContext(ctx), userID, leadID)
}

func findLead(tx *gorm.DB, userID, leadID string) (*models.Lead, error) {
	if strings.TrimSpace(leadID) == "" {
		return nil, ErrLeadNotFound
	}

	var lead models.Lead
	if err := tx.First(&lead, "id = ? AND user_id = ?", leadID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("failed to fetch lead: %w", err)
	}
	return &lead, nil
}

// List returns the advisor's leads, newest first
func (s *LeadService) List(ctx context.Context, userID string, filter LeadFilter) ([]models.Lead, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Lead{}).Where("user_id = ?", userID)

	if filter.Status != "" {
		status := models.LeadStatus(filter.Status)
		if !status.Valid() {
			return nil, 0, validationError("unknown lead status %q", filter.Status)
		}
		query = query.Where("status = ?", status)
	}
	if filter.Stage != "" {
		stage, err := pipeline.Parse(filter.Stage)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		query = query.Where("progress_status = ?", stage)
	}
	if strings.TrimSpace(filter.Search) != "" {
		search := likePattern(filter.Search)
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR phone LIKE ?", search, search, search)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count leads: %w", err)
	}

	page := filter.Page.normalize()
	var leads []models.Lead
	if err := query.Order("created_at DESC, id DESC").Offset(page.Offset).Limit(page.Limit).Find(&leads).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch leads: %w", err)
	}

	return leads, total, nil
}

// Update applies a partial update. Setting the status is how a lost lead is
// brought back into the pipeline.
func (s *LeadService) Update(ctx context.Context, userID, leadID string, req *UpdateLeadRequest) (*models.Lead, error) {
	lead, err := s.Get(ctx, userID, leadID)
	if err != nil {
		return nil, err
	}

	// Only the requested columns are written, so a concurrent advance or
	// note on the same lead is not overwritten.
	changes := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, validationError("name cannot be empty")
		}
		changes["name"] = name
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email != "" && validateEmail(email) != nil {
			return nil, validationError("invalid email %q", email)
		}
		changes["email"] = email
	}
	if req.Phone != nil {
		changes["phone"] = normalizePhone(*req.Phone)
	}
	if req.ProductInterest != nil {
		interest, err := models.ParseProducts(*req.ProductInterest)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		changes["product_interest"] = datatypes.JSONSlice[models.Product](interest)
	}
	previous := lead.Status
	if req.Status != nil {
		status := models.LeadStatus(strings.TrimSpace(*req.Status))
		if !status.Valid() {
			return nil, validationError("unknown lead status %q", *req.Status)
		}
		changes["status"] = status
	}

	if len(changes) > 0 {
		if err := s.db.WithContext(ctx).Model(lead).Updates(changes).Error; err != nil {
			return nil, fmt.Errorf("failed to update lead: %w", err)
		}
	}
	if lead, err = s.Get(ctx, userID, leadID); err != nil {
		return nil, err
	}

	s.activity.Publish(ctx, events.CollectionLeads, events.Modified, lead.ID, userID, lead)
	if previous != lead.Status {
		s.activity.Record(ctx, userID, "lead_status_changed", "lead", lead.ID,
			fmt.Sprintf("%s -> %s", previous, lead.Status))
	} else {
		s.activity.Record(ctx, userID, "lead_updated", "lead", lead.ID, lead.Name)
	}
	return lead, nil
}

// AddNote appends a note, keeping insertion order
func (s *LeadService) AddNote(ctx context.Context, userID, leadID, note string) (*models.Lead, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, validationError("note cannot be empty")
	}

	lead, err := s.Get(ctx, userID, leadID)
	if err != nil {
		return nil, err
	}

	lead.Notes = append(lead.Notes, note)
	if err := s.db.WithContext(ctx).Model(lead).Update("notes", lead.Notes).Error; err != nil {
		return nil, fmt.Errorf("failed to add note: %w", err)
	}

	s.activity.Publish(ctx, events.CollectionLeads, events.Modified, lead.ID, userID, lead)
	s.activity.Record(ctx, userID, "lead_note_added", "lead", lead.ID, note)
	return lead, nil
}

// Advance moves the lead one stage forward. changed is false at the last
// stage or for a lost lead.
func (s *LeadService) Advance(ctx context.Context, userID, leadID string) (lead *models.Lead, changed bool, err error) {
	return s.transition(ctx, userID, leadID, (*pipeline.Tracker).Advance)
}

// Retreat moves the lead one stage back. changed is false at the first
// stage or for a lost lead.
func (s *LeadService) Retreat(ctx context.Context, userID, leadID string) (lead *models.Lead, changed bool, err error) {
	return s.transition(ctx, userID, leadID, (*pipeline.Tracker).Retreat)
}

func (s *LeadService) transition(ctx context.Context, userID, leadID string, step func(*pipeline.Tracker) bool) (*models.Lead, bool, error) {
	lead, err := s.Get(ctx, userID, leadID)
	if err != nil {
		return nil, false, err
	}

	tracker, err := pipeline.NewTracker(lead.ProgressStatus, lead.IsLost())
	if err != nil {
		return nil, false, fmt.Errorf("lead %s: %w", lead.ID, err)
	}

	from := lead.ProgressStatus
	if !step(tracker) {
		return lead, false, nil
	}

	lead.ProgressStatus = tracker.Current()
	if err := s.db.WithContext(ctx).Model(lead).Update("progress_status", lead.ProgressStatus).Error; err != nil {
		return nil, false, fmt.Errorf("failed to update progress: %w", err)
	}

	s.activity.Publish(ctx, events.CollectionLeads, events.Modified, lead.ID, userID, lead)
	s.activity.Record(ctx, userID, "lead_progress_changed", "lead", lead.ID,
		fmt.Sprintf("%s -> %s", from, lead.ProgressStatus))
	return lead, true, nil
}

// Progress renders the pipeline view for a lead
func (s *LeadService) Progress(ctx context.Context, userID, leadID string) (*pipeline.View, error) {
	lead, err := s.Get(ctx, userID, leadID)
	if err != nil {
		return nil, err
	}

	tracker, err := pipeline.NewTracker(lead.ProgressStatus, lead.IsLost())
	if err != nil {
		return nil, fmt.Errorf("lead %s: %w", lead.ID, err)
	}
	view := tracker.View()
	return &view, nil
}

// Convert turns a lead into a client. The client insert and the lead update
// commit together. Converting an already converted lead returns its client
// with created=false.
func (s *LeadService) Convert(ctx context.Context, userID, leadID string) (client *models.Client, created bool, err error) {
	var lead *models.Lead

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := findLead(tx, userID, leadID)
		if err != nil {
			return err
		}
		lead = found

		if lead.IsConverted() {
			var existing models.Client
			err = tx.First(&existing, "id = ? AND user_id = ?", *lead.ConvertedClientID, userID).Error
			if err == nil {
				client = &existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to fetch converted client: %w", err)
			}
			// The client was deleted since; convert again
		}

		if lead.IsLost() {
			return ErrLeadLost
		}

		leadRef := lead.ID
		c := &models.Client{
			UserID:   userID,
			LeadID:   &leadRef,
			Name:     lead.Name,
			Email:    lead.Email,
			Phone:    lead.Phone,
			Products: models.HoldingsFromInterest(lead.ProductInterest),
		}
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}

		now := time.Now().UTC()
		if err := tx.Model(lead).Updates(map[string]any{
			"converted_client_id": c.ID,
			"converted_at":        now,
		}).Error; err != nil {
			return fmt.Errorf("failed to mark lead converted: %w", err)
		}
		lead.ConvertedClientID = &c.ID
		lead.ConvertedAt = &now

		client = c
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.activity.Publish(ctx, events.CollectionClients, events.Added, client.ID, userID, client)
		s.activity.Publish(ctx, events.CollectionLeads, events.Modified, lead.ID, userID, lead)
		s.activity.Record(ctx, userID, "lead_converted", "lead", lead.ID,
			fmt.Sprintf("converted to client %s", client.ID))
	}
	return client, created, nil
}

// MandateURL is the link encoded in a lead's mandate QR code
func (s *LeadService) MandateURL(leadID string) string {
	return s.mandateBaseURL + "/" + leadID
}

// MandateQR renders a PNG QR code for the lead's mandate link. The lead must
// have reached the mandate-generated stage and must not be lost.
func (s *LeadService) MandateQR(ctx context.Context, userID, leadID string, size int) ([]byte, error) {
	lead, err := s.Get(ctx, userID, leadID)
	if err != nil {
		return nil, err
	}
	if lead.IsLost() {
		return nil, ErrLeadLost
	}
	if lead.ProgressStatus.Index() < pipeline.StageMandateGenerated.Index() {
		return nil, ErrMandateNotReady
	}

	if size <= 0 || size > 1024 {
		size = 256
	}
	png, err := qrcode.Encode(s.MandateURL(lead.ID), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}

// Request types
type CreateLeadRequest struct {
	Name            string   `json:"name" binding:"required"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone"`
	ProductInterest []string `json:"product_interest"`
	Note            string   `json:"note"`
}

type UpdateLeadRequest struct {
	Name            *string   `json:"name"`
	Email           *string   `json:"email"`
	Phone           *string   `json:"phone"`
	ProductInterest *[]string `json:"product_interest"`
	Status          *string   `json:"status"`
}

type LeadFilter struct {
	Status string
	Stage  string
	Search string
	Page
}
