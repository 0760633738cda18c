package notify

import (
	"fmt"
	"log"

	"driveline/market/internal/config"
	"driveline/market/internal/models"
	"driveline/market/internal/realtime"
	"driveline/market/internal/utils"
)

// Publisher is the slice of the realtime hub the engine needs. It returns
// the number of subscribers the event reached.
type Publisher interface {
	Publish(topic string, event realtime.Event) int
}

// Engine translates committed listing mutations into realtime events. It
// never touches the entity store; callers invoke it strictly after the
// mutation has committed, and a failed or empty delivery never affects the
// mutation's outcome.
type Engine struct {
	pub Publisher
	cfg *config.Config
}

// NewEngine creates a fan-out engine over the given publisher.
func NewEngine(pub Publisher, cfg *config.Config) *Engine {
	return &Engine{pub: pub, cfg: cfg}
}

// vehicleRef is the compact listing reference embedded in event payloads.
type vehicleRef struct {
	ListingID string  `json:"listingId"`
	Make      string  `json:"make"`
	Model     string  `json:"model"`
	Year      int     `json:"year"`
	Price     float64 `json:"price"`
}

func refOf(l *models.Listing) vehicleRef {
	return vehicleRef{
		ListingID: l.ID.String(),
		Make:      l.Make,
		Model:     l.Model,
		Year:      l.Year,
		Price:     l.Price,
	}
}

// listingTopics are the audience topics a listing's activity is relevant to.
func listingTopics(l *models.Listing) []string {
	return []string{
		realtime.LocationTopic(l.Location.City, l.Location.State),
		realtime.MakeTopic(l.Make),
		realtime.BodyTypeTopic(l.BodyType),
	}
}

// ListingCreated announces a new listing to its location, make and body-type
// audiences and to the public feed.
func (e *Engine) ListingCreated(l *models.Listing) {
	event := realtime.NewEvent(
		realtime.KindNewListing,
		fmt.Sprintf("New listing: %d %s %s", l.Year, l.Make, l.Model),
		realtime.PriorityMedium,
		refOf(l),
	)
	for _, topic := range listingTopics(l) {
		e.pub.Publish(topic, event)
	}
	e.pub.Publish(realtime.TopicFeed, event)
}

// PriceChanged emits a price alert when the signed percent change meets the
// drop threshold. Increases never alert.
func (e *Engine) PriceChanged(l *models.Listing, oldPrice, newPrice float64) {
	if oldPrice <= 0 {
		return
	}
	percentDiff := (newPrice - oldPrice) / oldPrice * 100
	if percentDiff > -e.cfg.PriceDropAlertPercent {
		return
	}

	payload := struct {
		Vehicle  vehicleRef `json:"vehicle"`
		OldPrice float64    `json:"oldPrice"`
		NewPrice float64    `json:"newPrice"`
		Discount float64    `json:"discountPercent"`
	}{refOf(l), oldPrice, newPrice, -percentDiff}

	event := realtime.NewEvent(
		realtime.KindPriceAlert,
		fmt.Sprintf("Price drop on %d %s %s: $%.0f -> $%.0f", l.Year, l.Make, l.Model, oldPrice, newPrice),
		realtime.PriorityHigh,
		payload,
	)
	e.pub.Publish(realtime.LocationTopic(l.Location.City, l.Location.State), event)
	e.pub.Publish(realtime.MakeTopic(l.Make), event)
}

// InquiryCreated notifies the seller of a new inquiry, then emits a
// performance milestone if the post-mutation count landed exactly on one.
// The personal inquiry event is always published first since the milestone
// derives from the same counter.
func (e *Engine) InquiryCreated(l *models.Listing, inq *models.Inquiry, inquiryCount int64) {
	payload := struct {
		Vehicle  vehicleRef `json:"vehicle"`
		Inquirer string     `json:"inquirer"`
		Message  string     `json:"message"`
		Offer    *float64   `json:"offer,omitempty"`
	}{refOf(l), inq.UserEmail, inq.Message, inq.Offer}

	event := realtime.NewEvent(
		realtime.KindNewInquiry,
		fmt.Sprintf("New inquiry on your %d %s %s", l.Year, l.Make, l.Model),
		realtime.PriorityHigh,
		payload,
	)
	e.pub.Publish(realtime.UserTopic(l.SellerID), event)

	e.milestone(l, inquiryCount)
}

// milestone fires only on an exact crossing so repeated inquiries past a
// threshold never re-fire it.
func (e *Engine) milestone(l *models.Listing, inquiryCount int64) {
	for _, m := range e.cfg.InquiryMilestones {
		if inquiryCount != int64(m) {
			continue
		}
		payload := struct {
			Vehicle   vehicleRef `json:"vehicle"`
			Inquiries int64      `json:"inquiries"`
		}{refOf(l), inquiryCount}

		event := realtime.NewEvent(
			realtime.KindMilestone,
			fmt.Sprintf("Your %d %s %s reached %d inquiries", l.Year, l.Make, l.Model, inquiryCount),
			realtime.PriorityMedium,
			payload,
		)
		e.pub.Publish(realtime.UserTopic(l.SellerID), event)
		return
	}
}

// BulkUpdated reports the outcome of an ownership-filtered bulk update back
// to the vendor. The count reflects what actually matched, so a vendor
// touching listings they don't own sees zero.
func (e *Engine) BulkUpdated(sellerID utils.SixID, updatedCount int64, updates map[string]interface{}) {
	payload := struct {
		UpdatedCount int64                  `json:"updatedCount"`
		Updates      map[string]interface{} `json:"updates"`
	}{updatedCount, updates}

	event := realtime.NewEvent(
		realtime.KindInventoryUpdate,
		fmt.Sprintf("Inventory update applied to %d listings", updatedCount),
		realtime.PriorityLow,
		payload,
	)
	e.pub.Publish(realtime.UserTopic(sellerID), event)
}

// ListingRemoved tells the public feed a listing left the market, whether
// sold or withdrawn.
func (e *Engine) ListingRemoved(l *models.Listing, reason string) {
	payload := struct {
		Vehicle vehicleRef `json:"vehicle"`
		Reason  string     `json:"reason"`
	}{refOf(l), reason}

	event := realtime.NewEvent(
		realtime.KindListingRemoved,
		fmt.Sprintf("Listing removed: %d %s %s (%s)", l.Year, l.Make, l.Model, reason),
		realtime.PriorityLow,
		payload,
	)
	delivered := e.pub.Publish(realtime.TopicFeed, event)
	if delivered == 0 {
		log.Printf("Listing %s removal had no feed subscribers", l.ID)
	}
}
