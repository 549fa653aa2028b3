package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"advisorcrm/internal/database"
	"advisorcrm/internal/events"
	"advisorcrm/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// CategorySummary aggregates one category (SIP or lumpsum) over a period.
type CategorySummary struct {
	Target          decimal.Decimal `json:"target"`
	Achieved        decimal.Decimal `json:"achieved"`
	Deficit         decimal.Decimal `json:"deficit"`
	ProgressPercent decimal.Decimal `json:"progress_percent"`
}

func summarize(target, achieved decimal.Decimal) CategorySummary {
	return CategorySummary{
		Target:          target,
		Achieved:        achieved,
		Deficit:         target.Sub(achieved),
		ProgressPercent: progressPercent(target, achieved),
	}
}

// progressPercent is achieved/target*100 clamped to [0,100]; 0 when there is
// no target.
func progressPercent(target, achieved decimal.Decimal) decimal.Decimal {
	if !target.IsPositive() {
		return decimal.Zero
	}
	pct := achieved.Div(target).Mul(hundred)
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	return pct.Round(2)
}

type MonthSummary struct {
	Month   int             `json:"month"`
	SIP     CategorySummary `json:"sip"`
	Lumpsum CategorySummary `json:"lumpsum"`
}

type YearSummary struct {
	Year    int             `json:"year"`
	SIP     CategorySummary `json:"sip"`
	Lumpsum CategorySummary `json:"lumpsum"`
	Months  []MonthSummary  `json:"months"`
}

// SummarizeYear recomputes the yearly totals from monthly records. Months
// without a record count as zero; records for other years are ignored.
func SummarizeYear(year int, records []models.InvestmentRecord) YearSummary {
	var byMonth [12]models.InvestmentRecord
	for _, r := range records {
		if r.Year != year || r.Month < 1 || r.Month > 12 {
			continue
		}
		byMonth[r.Month-1] = r
	}

	summary := YearSummary{Year: year, Months: make([]MonthSummary, 12)}
	var sipTarget, sipAchieved, lumpTarget, lumpAchieved decimal.Decimal
	for i, r := range byMonth {
		summary.Months[i] = MonthSummary{
			Month:   i + 1,
			SIP:     summarize(r.SIPTarget, r.SIPAchieved),
			Lumpsum: summarize(r.LumpsumTarget, r.LumpsumAchieved),
		}
		sipTarget = sipTarget.Add(r.SIPTarget)
		sipAchieved = sipAchieved.Add(r.SIPAchieved)
		lumpTarget = lumpTarget.Add(r.LumpsumTarget)
		lumpAchieved = lumpAchieved.Add(r.LumpsumAchieved)
	}
	summary.SIP = summarize(sipTarget, sipAchieved)
	summary.Lumpsum = summarize(lumpTarget, lumpAchieved)
	return summary
}

type InvestmentService struct {
	db       *database.DB
	activity *ActivityService
}

func NewInvestmentService(db *database.DB, activity *ActivityService) *InvestmentService {
	return &InvestmentService{db: db, activity: activity}
}

// GetYear returns the summary for one year
func (s *InvestmentService) GetYear(ctx context.Context, userID string, year int) (*YearSummary, error) {
	if err := validateYear(year); err != nil {
		return nil, err
	}

	var records []models.InvestmentRecord
	if err := s.db.WithContext(ctx).Where("user_id = ? AND year = ?", userID, year).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch investments: %w", err)
	}

	summary := SummarizeYear(year, records)
	return &summary, nil
}

// UpsertMonth edits one month's figures and returns the recomputed year.
// Omitted fields keep their stored value.
func (s *InvestmentService) UpsertMonth(ctx context.Context, userID string, year, month int, req *UpsertMonthRequest) (*YearSummary, error) {
	if err := validateYear(year); err != nil {
		return nil, err
	}
	if month < 1 || month > 12 {
		return nil, validationError("month must be between 1 and 12")
	}
	for name, v := range map[string]*decimal.Decimal{
		"sip_target":       req.SIPTarget,
		"sip_achieved":     req.SIPAchieved,
		"lumpsum_target":   req.LumpsumTarget,
		"lumpsum_achieved": req.LumpsumAchieved,
	} {
		if v != nil && v.IsNegative() {
			return nil, validationError("%s cannot be negative", name)
		}
	}

	var record models.InvestmentRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND year = ? AND month = ?", userID, year, month).
			First(&record).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to fetch month: %w", err)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = models.InvestmentRecord{UserID: userID, Year: year, Month: month}
		}

		if req.SIPTarget != nil {
			record.SIPTarget = *req.SIPTarget
		}
		if req.SIPAchieved != nil {
			record.SIPAchieved = *req.SIPAchieved
		}
		if req.LumpsumTarget != nil {
			record.LumpsumTarget = *req.LumpsumTarget
		}
		if req.LumpsumAchieved != nil {
			record.LumpsumAchieved = *req.LumpsumAchieved
		}

		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("failed to save month: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.activity.Publish(ctx, events.CollectionInvestments, events.Modified, record.ID, userID, record)
	s.activity.Record(ctx, userID, "investment_updated", "investment", record.ID,
		fmt.Sprintf("%d-%02d", year, month))

	return s.GetYear(ctx, userID, year)
}

func validateYear(year int) error {
	if year < 2000 || year > time.Now().Year()+50 {
		return validationError("year %d out of range", year)
	}
	return nil
}

type UpsertMonthRequest struct {
	SIPTarget       *decimal.Decimal `json:"sip_target"`
	SIPAchieved     *decimal.Decimal `json:"sip_achieved"`
	LumpsumTarget   *decimal.Decimal `json:"lumpsum_target"`
	LumpsumAchieved *decimal.Decimal `json:"lumpsum_achieved"`
}
