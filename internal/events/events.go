// Package events carries collection change notifications from the stores to
// live subscribers.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Collection names mirror the document-store collections the dashboard
// subscribes to.
const (
	CollectionLeads          = "leads"
	CollectionClients        = "clients"
	CollectionCommunications = "communications"
	CollectionSIPReminders   = "sipReminders"
	CollectionActivities     = "activities"
	CollectionInvestments    = "investments"
)

var Collections = []string{
	CollectionLeads,
	CollectionClients,
	CollectionCommunications,
	CollectionSIPReminders,
	CollectionActivities,
	CollectionInvestments,
}

func KnownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

type Event struct {
	Collection string          `json:"collection"`
	Type       ChangeType      `json:"type"`
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	At         time.Time       `json:"at"`
}

// NewEvent marshals doc into the event payload. A doc that cannot be
// marshalled is sent without data.
func NewEvent(collection string, change ChangeType, id, userID string, doc any) Event {
	ev := Event{
		Collection: collection,
		Type:       change,
		ID:         id,
		UserID:     userID,
		At:         time.Now().UTC(),
	}
	if doc != nil {
		if raw, err := json.Marshal(doc); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus delivers events to subscribers of a collection. The returned cancel
// func releases the subscription; the channel is closed afterwards.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, collection string) (<-chan Event, func(), error)
	Close() error
}
