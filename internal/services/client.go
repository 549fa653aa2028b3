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

	"gorm.io/gorm"
)

type ClientService struct {
	db       *database.DB
	activity *ActivityService
}

func NewClientService(db *database.DB, activity *ActivityService) *ClientService {
	return &ClientService{db: db, activity: activity}
}

// Create creates a new client
func (s *ClientService) Create(ctx context.Context, userID string, req *CreateClientRequest) (*models.Client, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validationError("user ID is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, validationError("client name is required")
	}

	client := &models.Client{
		UserID:       userID,
		Name:         strings.TrimSpace(req.Name),
		Phone:        normalizePhone(req.Phone),
		SIPStartDate: utcDate(req.SIPStartDate),
		SIPNextDate:  utcDate(req.SIPNextDate),
		DOB:          utcDate(req.DOB),
		Notes:        strings.TrimSpace(req.Notes),
	}
	if err := applyClientEmail(client, req.Email); err != nil {
		return nil, err
	}
	if err := applyRiskProfile(client, req.RiskProfile); err != nil {
		return nil, err
	}
	if err := client.Products.ApplyHoldings(req.Products); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if err := s.db.WithContext(ctx).Create(client).Error; err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	s.activity.Publish(ctx, events.CollectionClients, events.Added, client.ID, userID, client)
	s.activity.Record(ctx, userID, "client_created", "client", client.ID, client.Name)
	return client, nil
}

// utcDate stores calendar dates as UTC midnight so date comparisons hold on
// every driver.
func utcDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := startOfDay(*t)
	return &d
}

func applyClientEmail(client *models.Client, email string) error {
	email = strings.TrimSpace(email)
	if email != "" && validateEmail(email) != nil {
		return validationError("invalid email %q", email)
	}
	client.Email = email
	return nil
}

func applyRiskProfile(client *models.Client, profile string) error {
	risk := models.RiskProfile(strings.ToLower(strings.TrimSpace(profile)))
	if !risk.Valid() {
		return validationError("unknown risk profile %q", profile)
	}
	client.RiskProfile = risk
	return nil
}

// Get retrieves a client by ID
func (s *ClientService) Get(ctx context.Context, userID, clientID string) (*models.Client, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, ErrClientNotFound
	}

	var client models.Client
	err := s.db.WithContext(ctx).First(&client, "id = ? AND user_id = ?", clientID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to fetch client: %w", err)
	}
	return &client, nil
}

// List retrieves the advisor's clients, newest first
func (s *ClientService) List(ctx context.Context, userID string, filter ClientFilter) ([]models.Client, int64, error) {
	var clients []models.Client
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Client{}).Where("user_id = ?", userID)

	if strings.TrimSpace(filter.Search) != "" {
		search := likePattern(filter.Search)
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR phone LIKE ?", search, search, search)
	}
	if filter.Product != "" {
		p, err := models.ParseProduct(filter.Product)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		query = query.Where(productColumn(p)+" = ?", true)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count clients: %w", err)
	}

	page := filter.Page.normalize()
	if err := query.Order("created_at DESC, id DESC").Offset(page.Offset).Limit(page.Limit).Find(&clients).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch clients: %w", err)
	}

	return clients, total, nil
}

// productColumn maps a product to its embedded holdings column
func productColumn(p models.Product) string {
	switch p {
	case models.ProductMutualFund:
		return "product_mutual_fund"
	case models.ProductSIP:
		return "product_sip"
	case models.ProductLumpsum:
		return "product_lumpsum"
	case models.ProductHealthInsurance:
		return "product_health_insurance"
	case models.ProductLifeInsurance:
		return "product_life_insurance"
	case models.ProductTaxation:
		return "product_taxation"
	default:
		return "product_nps"
	}
}

// Update applies a partial update to a client
func (s *ClientService) Update(ctx context.Context, userID, clientID string, req *UpdateClientRequest) (*models.Client, error) {
	client, err := s.Get(ctx, userID, clientID)
	if err != nil {
		return nil, err
	}

	var columns []string
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, validationError("name cannot be empty")
		}
		client.Name = name
		columns = append(columns, "name")
	}
	if req.Email != nil {
		if err := applyClientEmail(client, *req.Email); err != nil {
			return nil, err
		}
		columns = append(columns, "email")
	}
	if req.Phone != nil {
		client.Phone = normalizePhone(*req.Phone)
		columns = append(columns, "phone")
	}
	if req.Products != nil {
		if err := client.Products.ApplyHoldings(req.Products); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		for key := range req.Products {
			p, _ := models.ParseProduct(key)
			columns = append(columns, productColumn(p))
		}
	}
	if req.SIPStartDate != nil {
		client.SIPStartDate = utcDate(req.SIPStartDate)
		columns = append(columns, "sip_start_date")
	}
	if req.SIPNextDate != nil {
		client.SIPNextDate = utcDate(req.SIPNextDate)
		columns = append(columns, "sip_next_date")
	}
	if req.DOB != nil {
		client.DOB = utcDate(req.DOB)
		columns = append(columns, "dob")
	}
	if req.RiskProfile != nil {
		if err := applyRiskProfile(client, *req.RiskProfile); err != nil {
			return nil, err
		}
		columns = append(columns, "risk_profile")
	}
	if req.Notes != nil {
		client.Notes = strings.TrimSpace(*req.Notes)
		columns = append(columns, "notes")
	}

	// Only the requested columns are written, so a reminder run rolling
	// sip_next_date forward at the same time is not undone.
	if len(columns) > 0 {
		if err := s.db.WithContext(ctx).Model(client).Select(columns).Updates(client).Error; err != nil {
			return nil, fmt.Errorf("failed to update client: %w", err)
		}
	}

	s.activity.Publish(ctx, events.CollectionClients, events.Modified, client.ID, userID, client)
	s.activity.Record(ctx, userID, "client_updated", "client", client.ID, client.Name)
	return client, nil
}

// Delete removes a client with its communications and SIP reminders
func (s *ClientService) Delete(ctx context.Context, userID, clientID string) error {
	client, err := s.Get(ctx, userID, clientID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("client_id = ? AND user_id = ?", clientID, userID).Delete(&models.Communication{}).Error; err != nil {
			return fmt.Errorf("failed to delete communications: %w", err)
		}
		if err := tx.Where("client_id = ? AND user_id = ?", clientID, userID).Delete(&models.SIPReminder{}).Error; err != nil {
			return fmt.Errorf("failed to delete reminders: %w", err)
		}
		result := tx.Where("id = ? AND user_id = ?", clientID, userID).Delete(&models.Client{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete client: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrClientNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.activity.Publish(ctx, events.CollectionClients, events.Removed, client.ID, userID, nil)
	s.activity.Record(ctx, userID, "client_deleted", "client", client.ID, client.Name)
	return nil
}

// Request types
type CreateClientRequest struct {
	Name         string          `json:"name" binding:"required"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	Products     map[string]bool `json:"products"`
	SIPStartDate *time.Time      `json:"sip_start_date"`
	SIPNextDate  *time.Time      `json:"sip_next_date"`
	DOB          *time.Time      `json:"dob"`
	RiskProfile  string          `json:"risk_profile"`
	Notes        string          `json:"notes"`
}

type UpdateClientRequest struct {
	Name         *string         `json:"name"`
	Email        *string         `json:"email"`
	Phone        *string         `json:"phone"`
	Products     map[string]bool `json:"products"`
	SIPStartDate *time.Time      `json:"sip_start_date"`
	SIPNextDate  *time.Time      `json:"sip_next_date"`
	DOB          *time.Time      `json:"dob"`
	RiskProfile  *string         `json:"risk_profile"`
	Notes        *string         `json:"notes"`
}

type ClientFilter struct {
	Search  string
	Product string
	Page
}
