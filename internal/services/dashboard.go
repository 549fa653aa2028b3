package services

import (
	"context"
	"fmt"
	"time"

	"advisorcrm/internal/database"
	"advisorcrm/internal/models"
	"advisorcrm/internal/pipeline"
)

type DashboardStats struct {
	LeadsByStatus     map[models.LeadStatus]int64 `json:"leads_by_status"`
	LeadsByStage      map[pipeline.Stage]int64    `json:"leads_by_stage"`
	TotalLeads        int64                       `json:"total_leads"`
	TotalClients      int64                       `json:"total_clients"`
	SIPClients        int64                       `json:"sip_clients"`
	PendingFollowUps  int64                       `json:"pending_follow_ups"`
	RecentActivities  []models.Activity           `json:"recent_activities"`
	FollowUpWindowEnd time.Time                   `json:"follow_up_window_end"`
}

type DashboardService struct {
	db       *database.DB
	activity *ActivityService
}

func NewDashboardService(db *database.DB, activity *ActivityService) *DashboardService {
	return &DashboardService{db: db, activity: activity}
}

type groupCount struct {
	GroupKey string
	Count    int64
}

// Stats gathers the counters shown on the advisor dashboard
func (s *DashboardService) Stats(ctx context.Context, userID string) (*DashboardStats, error) {
	db := s.db.WithContext(ctx)
	stats := &DashboardStats{
		LeadsByStatus: make(map[models.LeadStatus]int64),
		LeadsByStage:  make(map[pipeline.Stage]int64),
	}

	var byStatus []groupCount
	if err := db.Model(&models.Lead{}).Select("status AS group_key, COUNT(*) AS count").
		Where("user_id = ?", userID).Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to count leads by status: %w", err)
	}
	for _, g := range byStatus {
		stats.LeadsByStatus[models.LeadStatus(g.GroupKey)] = g.Count
		stats.TotalLeads += g.Count
	}

	// Every stage is reported, including empty ones
	for _, st := range pipeline.Stages() {
		stats.LeadsByStage[st] = 0
	}
	var byStage []groupCount
	if err := db.Model(&models.Lead{}).Select("progress_status AS group_key, COUNT(*) AS count").
		Where("user_id = ?", userID).Group("progress_status").Scan(&byStage).Error; err != nil {
		return nil, fmt.Errorf("failed to count leads by stage: %w", err)
	}
	for _, g := range byStage {
		stats.LeadsByStage[pipeline.Stage(g.GroupKey)] = g.Count
	}

	if err := db.Model(&models.Client{}).Where("user_id = ?", userID).Count(&stats.TotalClients).Error; err != nil {
		return nil, fmt.Errorf("failed to count clients: %w", err)
	}
	if err := db.Model(&models.Client{}).Where("user_id = ? AND product_sip = ?", userID, true).Count(&stats.SIPClients).Error; err != nil {
		return nil, fmt.Errorf("failed to count SIP clients: %w", err)
	}

	now := time.Now().UTC()
	stats.FollowUpWindowEnd = now.AddDate(0, 0, 7)
	if err := db.Model(&models.Communication{}).
		Where("user_id = ? AND follow_up_date >= ? AND follow_up_date <= ?", userID, now, stats.FollowUpWindowEnd).
		Count(&stats.PendingFollowUps).Error; err != nil {
		return nil, fmt.Errorf("failed to count follow-ups: %w", err)
	}

	recent, err := s.activity.List(ctx, userID, 10)
	if err != nil {
		return nil, err
	}
	stats.RecentActivities = recent

	return stats, nil
}
