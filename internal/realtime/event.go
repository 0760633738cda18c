package realtime

import (
	"strings"
	"time"

	"driveline/market/internal/utils"
)

// Event priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Event kinds emitted by the fan-out engine.
const (
	KindNewListing      = "new-listing"
	KindPriceAlert      = "price-alert"
	KindNewInquiry      = "new-inquiry"
	KindMilestone       = "performance-milestone"
	KindInventoryUpdate = "inventory-update"
	KindListingRemoved  = "listing-removed"
)

// Event is the transient payload delivered to subscribers. Events are never
// persisted; a subscriber not joined to the target topic at publish time
// simply never sees it.
type Event struct {
	Kind      string      `json:"kind"`
	Topic     string      `json:"topic,omitempty"` // Set by the hub on delivery
	Message   string      `json:"message"`
	Priority  string      `json:"priority"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent constructs an event stamped with the current time.
func NewEvent(kind, message, priority string, data interface{}) Event {
	return Event{
		Kind:      kind,
		Message:   message,
		Priority:  priority,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// TopicFeed is the public firehose of listing activity.
const TopicFeed = "feed"

// UserTopic is the personal topic a connection is auto-joined to when it
// authenticates. Only the owning user may join it.
func UserTopic(id utils.SixID) string {
	return "user:" + id.String()
}

// LocationTopic groups subscribers by city and state, case-insensitively.
func LocationTopic(city, state string) string {
	return "location:" + strings.ToLower(city) + ":" + strings.ToLower(state)
}

// MakeTopic groups subscribers interested in one vehicle make.
func MakeTopic(make string) string {
	return "make:" + strings.ToLower(make)
}

// BodyTypeTopic groups subscribers interested in one body type.
func BodyTypeTopic(bodyType string) string {
	return "bodyType:" + strings.ToLower(bodyType)
}

// IsPublicTopic reports whether any connection, authenticated or not, may
// join the topic. Personal user topics are not public.
func IsPublicTopic(topic string) bool {
	if topic == TopicFeed {
		return true
	}
	for _, prefix := range []string{"location:", "make:", "bodyType:"} {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}
