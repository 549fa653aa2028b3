package handlers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"advisorcrm/internal/events"
	"advisorcrm/internal/middleware"
	"advisorcrm/internal/models"
	"advisorcrm/internal/services"
	"advisorcrm/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	snapshotPageSize   = 100
	snapshotActivities = 200
)

// Subscribe streams one collection as Server-Sent Events: a snapshot of the
// advisor's documents, then every change made to them.
func (h *Handler) Subscribe(c *gin.Context) {
	collection := c.Param("collection")
	if !events.KnownCollection(collection) {
		utils.RespondWithNotFound(c, "Collection")
		return
	}

	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	// Subscribe before reading the snapshot so no change falls in between
	feed, cancel, err := h.Bus.Subscribe(ctx, collection)
	if err != nil {
		utils.RespondWithError(c, http.StatusServiceUnavailable, utils.ErrCodeServiceUnavailable, "Live updates are unavailable")
		log.Printf("[EVENTS] subscribe %s failed: %v", collection, err)
		return
	}
	defer cancel()

	snapshot, err := h.snapshot(ctx, userID, collection)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-feed:
			if !ok {
				return false
			}
			if ev.UserID == userID {
				c.SSEvent(string(ev.Type), ev)
			}
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

// Snapshot is the first event of a live feed. Documents holds every current
// document of the collection, except activities, which are an append-only
// log and are cut to the most recent snapshotActivities entries.
type Snapshot struct {
	Collection string `json:"collection"`
	Documents  any    `json:"documents"`
	Total      int64  `json:"total"`
	Truncated  bool   `json:"truncated"`
}

func (h *Handler) snapshot(ctx context.Context, userID, collection string) (*Snapshot, error) {
	snap := &Snapshot{Collection: collection}
	var err error

	switch collection {
	case events.CollectionLeads:
		snap.Documents, snap.Total, err = allPages(func(p services.Page) ([]models.Lead, int64, error) {
			return h.Leads.List(ctx, userID, services.LeadFilter{Page: p})
		})
	case events.CollectionClients:
		snap.Documents, snap.Total, err = allPages(func(p services.Page) ([]models.Client, int64, error) {
			return h.Clients.List(ctx, userID, services.ClientFilter{Page: p})
		})
	case events.CollectionCommunications:
		snap.Documents, snap.Total, err = allPages(func(p services.Page) ([]models.Communication, int64, error) {
			return h.Communications.List(ctx, userID, services.CommunicationFilter{Page: p})
		})
	case events.CollectionSIPReminders:
		snap.Documents, snap.Total, err = allPages(func(p services.Page) ([]models.SIPReminder, int64, error) {
			return h.Reminders.ListPage(ctx, userID, p)
		})
	case events.CollectionActivities:
		var recent []models.Activity
		if recent, err = h.Activity.List(ctx, userID, snapshotActivities); err != nil {
			return nil, err
		}
		if snap.Total, err = h.Activity.Count(ctx, userID); err != nil {
			return nil, err
		}
		snap.Documents = recent
		snap.Truncated = snap.Total > int64(len(recent))
	case events.CollectionInvestments:
		snap.Documents, err = h.Investments.GetYear(ctx, userID, time.Now().UTC().Year())
		snap.Total = 1
	default:
		return nil, fmt.Errorf("no snapshot for collection %q", collection)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// allPages walks a paged listing until every row has been read
func allPages[T any](list func(services.Page) ([]T, int64, error)) ([]T, int64, error) {
	all := []T{}
	page := services.Page{Limit: snapshotPageSize}
	for {
		batch, total, err := list(page)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, batch...)
		if len(batch) == 0 || int64(len(all)) >= total {
			return all, total, nil
		}
		page.Offset += len(batch)
	}
}
