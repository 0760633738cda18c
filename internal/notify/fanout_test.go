package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveline/market/internal/config"
	"driveline/market/internal/models"
	"driveline/market/internal/realtime"
	"driveline/market/internal/utils"
)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	published []publishedEvent
}

type publishedEvent struct {
	topic string
	event realtime.Event
}

func (p *recordingPublisher) Publish(topic string, event realtime.Event) int {
	p.published = append(p.published, publishedEvent{topic: topic, event: event})
	return 1
}

func (p *recordingPublisher) topics() []string {
	out := make([]string, 0, len(p.published))
	for _, pe := range p.published {
		out = append(out, pe.topic)
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		PriceDropAlertPercent: 5,
		InquiryMilestones:     []int{5, 25, 100},
	}
}

func testListing(sellerID utils.SixID) *models.Listing {
	l := &models.Listing{
		SellerID: sellerID,
		Make:     "Toyota",
		Model:    "Camry",
		Year:     2021,
		BodyType: "Sedan",
		Price:    25000,
		Location: models.Location{City: "Austin", State: "TX"},
	}
	l.ID = utils.NewSixID()
	l.CreatedAt = time.Now().UTC()
	return l
}

func TestListingCreatedFansOutToAudiences(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	l := testListing(utils.NewSixID())

	engine.ListingCreated(l)

	assert.Equal(t, []string{
		"location:austin:tx",
		"make:toyota",
		"bodyType:sedan",
		"feed",
	}, pub.topics())
	for _, pe := range pub.published {
		assert.Equal(t, realtime.KindNewListing, pe.event.Kind)
		assert.Equal(t, realtime.PriorityMedium, pe.event.Priority)
	}
}

func TestPriceChangedFiresOnThresholdDrop(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	l := testListing(utils.NewSixID())

	// Exactly -5% meets the threshold.
	engine.PriceChanged(l, 20000, 19000)

	require.Len(t, pub.published, 2)
	assert.Equal(t, []string{"location:austin:tx", "make:toyota"}, pub.topics())
	assert.Equal(t, realtime.KindPriceAlert, pub.published[0].event.Kind)
	assert.Equal(t, realtime.PriorityHigh, pub.published[0].event.Priority)
}

func TestPriceChangedIgnoresSmallDrop(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	l := testListing(utils.NewSixID())

	// -4.9% is below the alert threshold.
	engine.PriceChanged(l, 20000, 19020)
	assert.Empty(t, pub.published)
}

func TestPriceChangedIgnoresIncreases(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	l := testListing(utils.NewSixID())

	engine.PriceChanged(l, 20000, 30000)
	assert.Empty(t, pub.published)
}

func TestPriceChangedGuardsZeroOldPrice(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	l := testListing(utils.NewSixID())

	engine.PriceChanged(l, 0, 19000)
	assert.Empty(t, pub.published)
}

func TestInquiryCreatedNotifiesSeller(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	sellerID := utils.NewSixID()
	l := testListing(sellerID)
	inq := &models.Inquiry{UserEmail: "buyer@example.com", Message: "Still available?"}

	engine.InquiryCreated(l, inq, 3)

	require.Len(t, pub.published, 1)
	assert.Equal(t, realtime.UserTopic(sellerID), pub.published[0].topic)
	assert.Equal(t, realtime.KindNewInquiry, pub.published[0].event.Kind)
	assert.Equal(t, realtime.PriorityHigh, pub.published[0].event.Priority)
}

func TestInquiryMilestoneFiresOnExactCrossing(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	sellerID := utils.NewSixID()
	l := testListing(sellerID)
	inq := &models.Inquiry{UserEmail: "buyer@example.com"}

	engine.InquiryCreated(l, inq, 5)

	require.Len(t, pub.published, 2)
	// Inquiry event always precedes the milestone.
	assert.Equal(t, realtime.KindNewInquiry, pub.published[0].event.Kind)
	assert.Equal(t, realtime.KindMilestone, pub.published[1].event.Kind)
	assert.Equal(t, realtime.UserTopic(sellerID), pub.published[1].topic)
	assert.Equal(t, realtime.PriorityMedium, pub.published[1].event.Priority)
}

func TestInquiryMilestoneDoesNotRefire(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	l := testListing(utils.NewSixID())
	inq := &models.Inquiry{UserEmail: "buyer@example.com"}

	engine.InquiryCreated(l, inq, 6)

	require.Len(t, pub.published, 1)
	assert.Equal(t, realtime.KindNewInquiry, pub.published[0].event.Kind)
}

func TestBulkUpdatedTargetsVendorTopic(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	sellerID := utils.NewSixID()

	engine.BulkUpdated(sellerID, 4, map[string]interface{}{"status": "inactive"})

	require.Len(t, pub.published, 1)
	assert.Equal(t, realtime.UserTopic(sellerID), pub.published[0].topic)
	assert.Equal(t, realtime.KindInventoryUpdate, pub.published[0].event.Kind)
	assert.Equal(t, realtime.PriorityLow, pub.published[0].event.Priority)
}

func TestListingRemovedGoesToFeed(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewEngine(pub, testConfig())
	l := testListing(utils.NewSixID())

	engine.ListingRemoved(l, "sold")

	require.Len(t, pub.published, 1)
	assert.Equal(t, realtime.TopicFeed, pub.published[0].topic)
	assert.Equal(t, realtime.KindListingRemoved, pub.published[0].event.Kind)
}
