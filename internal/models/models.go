package models

import (
	"time"

	"advisorcrm/internal/pipeline"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User is an advisor account. Every CRM record is scoped to one.
type User struct {
	ID           string    `json:"id" gorm:"type:uuid;primaryKey"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-"`
	GoogleID     string    `json:"-" gorm:"index"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	PictureURL   string    `json:"picture"`
	IsActive     bool      `json:"is_active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken for JWT refresh
type RefreshToken struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:uuid;index;not null"`
	Token     string    `json:"token" gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusLost      LeadStatus = "lost"
)

func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusLost:
		return true
	}
	return false
}

// Lead is a prospect moving through the onboarding pipeline.
type Lead struct {
	ID                string                       `json:"id" gorm:"type:uuid;primaryKey"`
	UserID            string                       `json:"user_id" gorm:"type:uuid;index;not null"`
	Name              string                       `json:"name" gorm:"not null"`
	Email             string                       `json:"email"`
	Phone             string                       `json:"phone"`
	ProductInterest   datatypes.JSONSlice[Product] `json:"product_interest"`
	Status            LeadStatus                   `json:"status" gorm:"index;default:'new'"`
	ProgressStatus    pipeline.Stage               `json:"progress_status" gorm:"default:'lead-generated'"`
	Notes             datatypes.JSONSlice[string]  `json:"notes"`
	ConvertedClientID *string                      `json:"converted_client_id,omitempty" gorm:"type:uuid"`
	ConvertedAt       *time.Time                   `json:"converted_at,omitempty"`
	CreatedAt         time.Time                    `json:"created_at"`
	UpdatedAt         time.Time                    `json:"updated_at"`
}

func (l *Lead) IsLost() bool { return l.Status == LeadStatusLost }

func (l *Lead) IsConverted() bool { return l.ConvertedClientID != nil && *l.ConvertedClientID != "" }

type RiskProfile string

const (
	RiskConservative RiskProfile = "conservative"
	RiskModerate     RiskProfile = "moderate"
	RiskAggressive   RiskProfile = "aggressive"
)

func (r RiskProfile) Valid() bool {
	switch r {
	case "", RiskConservative, RiskModerate, RiskAggressive:
		return true
	}
	return false
}

// Client is a converted investor.
type Client struct {
	ID           string          `json:"id" gorm:"type:uuid;primaryKey"`
	UserID       string          `json:"user_id" gorm:"type:uuid;index;not null"`
	LeadID       *string         `json:"lead_id,omitempty" gorm:"type:uuid;index"`
	Name         string          `json:"name" gorm:"not null"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	Products     ProductHoldings `json:"products" gorm:"embedded;embeddedPrefix:product_"`
	SIPStartDate *time.Time      `json:"sip_start_date,omitempty" gorm:"column:sip_start_date"`
	SIPNextDate  *time.Time      `json:"sip_next_date,omitempty" gorm:"column:sip_next_date;index"`
	DOB          *time.Time      `json:"dob,omitempty"`
	RiskProfile  RiskProfile     `json:"risk_profile,omitempty"`
	Notes        string          `json:"notes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type CommunicationType string

const (
	CommunicationEmail    CommunicationType = "email"
	CommunicationWhatsApp CommunicationType = "whatsapp"
	CommunicationCall     CommunicationType = "call"
	CommunicationMeeting  CommunicationType = "meeting"
	CommunicationDocument CommunicationType = "document"
)

func (t CommunicationType) Valid() bool {
	switch t {
	case CommunicationEmail, CommunicationWhatsApp, CommunicationCall, CommunicationMeeting, CommunicationDocument:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type CommunicationStatus string

const (
	CommunicationPending  CommunicationStatus = "pending"
	CommunicationSent     CommunicationStatus = "sent"
	CommunicationReceived CommunicationStatus = "received"
	CommunicationRead     CommunicationStatus = "read"
	CommunicationFailed   CommunicationStatus = "failed"
)

func (s CommunicationStatus) Valid() bool {
	switch s {
	case CommunicationPending, CommunicationSent, CommunicationReceived, CommunicationRead, CommunicationFailed:
		return true
	}
	return false
}

// Communication is an immutable log entry of an interaction with a client.
type Communication struct {
	ID             string              `json:"id" gorm:"type:uuid;primaryKey"`
	UserID         string              `json:"user_id" gorm:"type:uuid;index;not null"`
	ClientID       string              `json:"client_id" gorm:"type:uuid;index;not null"`
	Type           CommunicationType   `json:"type" gorm:"not null"`
	Priority       Priority            `json:"priority" gorm:"default:'medium'"`
	Status         CommunicationStatus `json:"status" gorm:"default:'pending'"`
	Subject        string              `json:"subject"`
	Content        string              `json:"content"`
	FollowUpDate   *time.Time          `json:"follow_up_date,omitempty" gorm:"index"`
	RelatedProduct Product             `json:"related_product,omitempty"`
	AdvisorNotes   string              `json:"advisor_notes"`
	ExternalID     string              `json:"external_id,omitempty"`
	Date           time.Time           `json:"date"`
	CreatedAt      time.Time           `json:"created_at"`
}

// InvestmentRecord holds one month's SIP and lumpsum figures for an advisor.
type InvestmentRecord struct {
	ID              string          `json:"id" gorm:"type:uuid;primaryKey"`
	UserID          string          `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_investment_month"`
	Year            int             `json:"year" gorm:"not null;uniqueIndex:idx_investment_month"`
	Month           int             `json:"month" gorm:"not null;uniqueIndex:idx_investment_month"`
	SIPTarget       decimal.Decimal `json:"sip_target" gorm:"column:sip_target;type:decimal(14,2);not null;default:0"`
	SIPAchieved     decimal.Decimal `json:"sip_achieved" gorm:"column:sip_achieved;type:decimal(14,2);not null;default:0"`
	LumpsumTarget   decimal.Decimal `json:"lumpsum_target" gorm:"type:decimal(14,2);not null;default:0"`
	LumpsumAchieved decimal.Decimal `json:"lumpsum_achieved" gorm:"type:decimal(14,2);not null;default:0"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Activity is the audit trail behind the dashboard's recent-activity feed.
type Activity struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     string    `json:"user_id" gorm:"type:uuid;index"`
	Action     string    `json:"action" gorm:"not null"`
	EntityType string    `json:"entity_type"` // lead, client, communication, investment
	EntityID   string    `json:"entity_id"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

type ReminderStatus string

const (
	ReminderSent   ReminderStatus = "sent"
	ReminderFailed ReminderStatus = "failed"
)

// SIPReminder records one reminder sent ahead of a client's SIP date.
type SIPReminder struct {
	ID        string            `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string            `json:"user_id" gorm:"type:uuid;index;not null"`
	ClientID  string            `json:"client_id" gorm:"type:uuid;index;not null"`
	DueDate   time.Time         `json:"due_date" gorm:"index"`
	Channel   CommunicationType `json:"channel"` // email, whatsapp
	Status    ReminderStatus    `json:"status"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (SIPReminder) TableName() string {
	return "sip_reminders"
}

// BeforeCreate hooks for UUIDs
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

func (r *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = LeadStatusNew
	}
	if l.ProgressStatus == "" {
		l.ProgressStatus = pipeline.First()
	}
	return nil
}

func (c *Client) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

func (c *Communication) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Date.IsZero() {
		c.Date = time.Now().UTC()
	}
	return nil
}

func (r *InvestmentRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

func (r *SIPReminder) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
