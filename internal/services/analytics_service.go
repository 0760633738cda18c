package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/config"
	"driveline/market/internal/models"
	"driveline/market/internal/utils"
)

// DashboardStats is the vendor's at-a-glance inventory summary.
type DashboardStats struct {
	TotalListings   int64   `json:"totalListings"`
	ActiveListings  int64   `json:"activeListings"`
	SoldListings    int64   `json:"soldListings"`
	TotalViews      int64   `json:"totalViews"`
	TotalInquiries  int64   `json:"totalInquiries"`
	TotalValue      float64 `json:"totalValue"`    // Sum of asking prices across the inventory
	AveragePrice    float64 `json:"averagePrice"`  // TotalValue over TotalListings
	ConversionRate  string  `json:"conversionRate"` // Percent of inquiries that became sales
	InquiriesTrend  float64 `json:"inquiriesTrend"` // Percent vs previous window
	NewListingTrend float64 `json:"newListingTrend"`
}

// Lead scores one listing's buyer interest.
type Lead struct {
	ListingID  string  `json:"listingId"`
	Make       string  `json:"make"`
	Model      string  `json:"model"`
	Year       int     `json:"year"`
	Price      float64 `json:"price"`
	Views      int64   `json:"views"`
	Inquiries  int64   `json:"inquiries"`
	LeadScore  float64 `json:"leadScore"`
	DaysListed int     `json:"daysListed"`
	Urgency    string  `json:"urgency"`
}

// Pricing assessments.
const (
	AssessmentOverpriced    = "overpriced"
	AssessmentUnderpriced   = "underpriced"
	AssessmentCompetitive   = "competitive"
	AssessmentNoComparables = "no-comparables"
)

// PricingRecommendation compares one listing against its market comparables.
type PricingRecommendation struct {
	ListingID        string  `json:"listingId"`
	CurrentPrice     float64 `json:"currentPrice"`
	MarketAverage    float64 `json:"marketAverage"`
	ComparableCount  int64   `json:"comparableCount"`
	Difference       float64 `json:"difference"` // current - market average
	Assessment       string  `json:"assessment"`
	RecommendedPrice float64 `json:"recommendedPrice"`
	Priority         string  `json:"priority"`
}

// MarketOpportunity is a make/body-type segment with demand outpacing supply.
type MarketOpportunity struct {
	Make         string  `json:"make"`
	BodyType     string  `json:"bodyType"`
	ListingCount int64   `json:"listingCount"`
	AvgViews     float64 `json:"avgViews"`
	AvgPrice     float64 `json:"avgPrice"`
}

// SoldSummary is one row of a sales report.
type SoldSummary struct {
	ListingID  string  `json:"listingId"`
	Make       string  `json:"make"`
	Model      string  `json:"model"`
	Year       int     `json:"year"`
	SalePrice  float64 `json:"salePrice"`
	Profit     float64 `json:"profit"`
	DaysToSale int     `json:"daysToSale"`
}

// SalesReport aggregates a vendor's sales over a window.
type SalesReport struct {
	From          time.Time     `json:"from"`
	To            time.Time     `json:"to"`
	SoldCount     int64         `json:"soldCount"`
	TotalRevenue  float64       `json:"totalRevenue"`
	TotalProfit   float64       `json:"totalProfit"`
	AvgDaysToSale float64       `json:"avgDaysToSale"`
	Sales         []SoldSummary `json:"sales"`
}

// IAnalyticsService defines the aggregation queries behind the vendor
// dashboard and the advisor ruleset.
type IAnalyticsService interface {
	GetDashboardStats(ctx context.Context, sellerID utils.SixID) (*DashboardStats, error)
	GetLeads(ctx context.Context, sellerID utils.SixID) ([]Lead, error)
	GetPricingRecommendation(ctx context.Context, listingID, sellerID utils.SixID) (*PricingRecommendation, error)
	GetMarketOpportunities(ctx context.Context) ([]MarketOpportunity, error)
	GenerateReport(ctx context.Context, sellerID utils.SixID, from, to time.Time) (*SalesReport, error)
	GetStaleListings(ctx context.Context, sellerID utils.SixID) ([]models.Listing, error)
	CountActiveBySeller(ctx context.Context, sellerID utils.SixID) (int64, error)
}

// analyticsService implements IAnalyticsService.
type analyticsService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(db *mongo.Database, cfg *config.Config) IAnalyticsService {
	return &analyticsService{db: db, cfg: cfg}
}

// LeadScore is inquiries per view as a percentage, rounded to one decimal.
// Zero views means zero score, never a division error.
func LeadScore(views, inquiries int64) float64 {
	if views == 0 {
		return 0
	}
	return round1(float64(inquiries) / float64(views) * 100)
}

// UrgencyFor buckets a listing's age: over 30 days is high, 14 to 30 days
// inclusive is medium, under 14 is low.
func UrgencyFor(daysListed int) string {
	switch {
	case daysListed > 30:
		return "high"
	case daysListed >= 14:
		return "medium"
	default:
		return "low"
	}
}

// Trend is the percent change from previous to current, one decimal. A zero
// previous value yields 0 rather than a division blowup.
func Trend(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return round1((current - previous) / previous * 100)
}

// ConversionRate formats sold/inquiries as a percentage string, "0" when
// there are no inquiries.
func ConversionRate(sold, inquiries int64) string {
	if inquiries == 0 {
		return "0"
	}
	return strconv.FormatFloat(round1(float64(sold)/float64(inquiries)*100), 'f', -1, 64)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// GetDashboardStats aggregates the vendor's inventory totals in one grouped
// pass and derives trends from this window vs the previous one. An empty
// inventory produces zero-valued stats, not an error.
func (s *analyticsService) GetDashboardStats(ctx context.Context, sellerID utils.SixID) (*DashboardStats, error) {
	collection := s.db.Collection(listingsCollection)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"seller_id": sellerID, "deleted": false}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":            nil,
			"totalListings":  bson.M{"$sum": 1},
			"activeListings": bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$status", models.StatusActive}}, 1, 0}}},
			"soldListings":   bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$status", models.StatusSold}}, 1, 0}}},
			"totalViews":     bson.M{"$sum": "$views"},
			"totalInquiries": bson.M{"$sum": "$inquiries"},
			"totalValue":     bson.M{"$sum": "$price"},
		}}},
	}

	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate dashboard stats for seller %s: %w", sellerID.String(), err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		TotalListings  int64    `bson:"totalListings"`
		ActiveListings int64    `bson:"activeListings"`
		SoldListings   int64    `bson:"soldListings"`
		TotalViews     int64   `bson:"totalViews"`
		TotalInquiries int64   `bson:"totalInquiries"`
		TotalValue     float64 `bson:"totalValue"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode dashboard stats: %w", err)
	}

	stats := &DashboardStats{ConversionRate: "0"}
	if len(rows) > 0 {
		row := rows[0]
		stats.TotalListings = row.TotalListings
		stats.ActiveListings = row.ActiveListings
		stats.SoldListings = row.SoldListings
		stats.TotalViews = row.TotalViews
		stats.TotalInquiries = row.TotalInquiries
		stats.TotalValue = round1(row.TotalValue)
		if row.TotalListings > 0 {
			stats.AveragePrice = round1(row.TotalValue / float64(row.TotalListings))
		}
		stats.ConversionRate = ConversionRate(row.SoldListings, row.TotalInquiries)
	}

	window := time.Duration(s.cfg.MarketWindowDays) * 24 * time.Hour
	now := time.Now().UTC()

	curInq, prevInq, err := s.windowedInquiryCounts(ctx, sellerID, now, window)
	if err != nil {
		return nil, err
	}
	stats.InquiriesTrend = Trend(float64(curInq), float64(prevInq))

	curNew, prevNew, err := s.windowedListingCounts(ctx, sellerID, now, window)
	if err != nil {
		return nil, err
	}
	stats.NewListingTrend = Trend(float64(curNew), float64(prevNew))

	return stats, nil
}

// windowedInquiryCounts counts inquiries against the seller's listings in the
// current and previous windows via a $lookup join.
func (s *analyticsService) windowedInquiryCounts(ctx context.Context, sellerID utils.SixID, now time.Time, window time.Duration) (int64, int64, error) {
	collection := s.db.Collection(inquiriesCollection)

	count := func(from, to time.Time) (int64, error) {
		pipeline := mongo.Pipeline{
			bson.D{{Key: "$match", Value: bson.M{
				"deleted":    false,
				"created_at": bson.M{"$gte": from, "$lt": to},
			}}},
			bson.D{{Key: "$lookup", Value: bson.M{
				"from":         listingsCollection,
				"localField":   "listing_id",
				"foreignField": "_id",
				"as":           "listing",
			}}},
			bson.D{{Key: "$unwind", Value: "$listing"}},
			bson.D{{Key: "$match", Value: bson.M{"listing.seller_id": sellerID}}},
			bson.D{{Key: "$count", Value: "n"}},
		}
		cursor, err := collection.Aggregate(ctx, pipeline)
		if err != nil {
			return 0, fmt.Errorf("failed to count windowed inquiries: %w", err)
		}
		defer cursor.Close(ctx)
		var rows []struct {
			N int64 `bson:"n"`
		}
		if err = cursor.All(ctx, &rows); err != nil {
			return 0, fmt.Errorf("failed to decode windowed inquiry count: %w", err)
		}
		if len(rows) == 0 {
			return 0, nil
		}
		return rows[0].N, nil
	}

	current, err := count(now.Add(-window), now)
	if err != nil {
		return 0, 0, err
	}
	previous, err := count(now.Add(-2*window), now.Add(-window))
	if err != nil {
		return 0, 0, err
	}
	return current, previous, nil
}

func (s *analyticsService) windowedListingCounts(ctx context.Context, sellerID utils.SixID, now time.Time, window time.Duration) (int64, int64, error) {
	collection := s.db.Collection(listingsCollection)

	current, err := collection.CountDocuments(ctx, bson.M{
		"seller_id":  sellerID,
		"deleted":    false,
		"created_at": bson.M{"$gte": now.Add(-window), "$lt": now},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count current-window listings: %w", err)
	}
	previous, err := collection.CountDocuments(ctx, bson.M{
		"seller_id":  sellerID,
		"deleted":    false,
		"created_at": bson.M{"$gte": now.Add(-2 * window), "$lt": now.Add(-window)},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count previous-window listings: %w", err)
	}
	return current, previous, nil
}

// GetLeads scores the vendor's active listings by buyer interest, strongest
// first.
func (s *analyticsService) GetLeads(ctx context.Context, sellerID utils.SixID) ([]Lead, error) {
	collection := s.db.Collection(listingsCollection)
	filter := bson.M{
		"seller_id": sellerID,
		"deleted":   false,
		"status":    models.StatusActive,
	}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find listings for lead scoring: %w", err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err = cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings for lead scoring: %w", err)
	}

	now := time.Now().UTC()
	leads := make([]Lead, 0, len(listings))
	for _, l := range listings {
		days := l.DaysListed(now)
		leads = append(leads, Lead{
			ListingID:  l.ID.String(),
			Make:       l.Make,
			Model:      l.Model,
			Year:       l.Year,
			Price:      l.Price,
			Views:      l.Views,
			Inquiries:  l.Inquiries,
			LeadScore:  LeadScore(l.Views, l.Inquiries),
			DaysListed: days,
			Urgency:    UrgencyFor(days),
		})
	}

	// Strongest leads first; ties broken by age so output is stable.
	sort.Slice(leads, func(i, j int) bool {
		if leads[i].LeadScore != leads[j].LeadScore {
			return leads[i].LeadScore > leads[j].LeadScore
		}
		return leads[i].DaysListed > leads[j].DaysListed
	})
	return leads, nil
}

// GetPricingRecommendation compares a listing against active comparables of
// the same make and model within two model years, excluding the vendor's own
// inventory. No comparables degrades to a low-priority no-op recommendation.
func (s *analyticsService) GetPricingRecommendation(ctx context.Context, listingID, sellerID utils.SixID) (*PricingRecommendation, error) {
	collection := s.db.Collection(listingsCollection)

	var listing models.Listing
	err := collection.FindOne(ctx, bson.M{"_id": listingID, "seller_id": sellerID, "deleted": false}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding listing %s for pricing: %w", listingID.String(), err)
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"deleted":   false,
			"status":    models.StatusActive,
			"make":      listing.Make,
			"model":     listing.Model,
			"year":      bson.M{"$gte": listing.Year - 2, "$lte": listing.Year + 2},
			"seller_id": bson.M{"$ne": sellerID},
		}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":      nil,
			"avgPrice": bson.M{"$avg": "$price"},
			"count":    bson.M{"$sum": 1},
		}}},
	}

	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate comparables for listing %s: %w", listingID.String(), err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		AvgPrice float64 `bson:"avgPrice"`
		Count    int64   `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode comparables: %w", err)
	}

	rec := &PricingRecommendation{
		ListingID:        listing.ID.String(),
		CurrentPrice:     listing.Price,
		RecommendedPrice: listing.Price,
		Assessment:       AssessmentNoComparables,
		Priority:         "low",
	}
	if len(rows) == 0 || rows[0].Count == 0 {
		return rec, nil
	}

	avg := round1(rows[0].AvgPrice)
	rec.MarketAverage = avg
	rec.ComparableCount = rows[0].Count
	rec.Difference = round1(listing.Price - avg)

	switch {
	case rec.Difference > s.cfg.OverpricedDelta:
		rec.Assessment = AssessmentOverpriced
		rec.RecommendedPrice = avg
	case rec.Difference < -s.cfg.UnderpricedDelta:
		rec.Assessment = AssessmentUnderpriced
		rec.RecommendedPrice = avg
	default:
		rec.Assessment = AssessmentCompetitive
	}

	// Within the competitive percent band the assessment stays competitive
	// even if it crossed a flat delta on a high-priced vehicle.
	if avg > 0 && math.Abs(rec.Difference)/avg*100 <= s.cfg.CompetitivePercent &&
		rec.Assessment != AssessmentCompetitive {
		rec.Assessment = AssessmentCompetitive
		rec.RecommendedPrice = listing.Price
	}

	if rec.Assessment == AssessmentCompetitive {
		rec.Priority = "low"
	} else if math.Abs(rec.Difference) > s.cfg.PricingHighDiff {
		rec.Priority = "high"
	} else {
		rec.Priority = "medium"
	}

	return rec, nil
}

// GetMarketOpportunities groups active listings created within the market
// window by make and body type and keeps the segments where demand (average
// views) clears the configured bar.
func (s *analyticsService) GetMarketOpportunities(ctx context.Context) ([]MarketOpportunity, error) {
	collection := s.db.Collection(listingsCollection)
	since := time.Now().UTC().AddDate(0, 0, -s.cfg.MarketWindowDays)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"deleted":    false,
			"status":     models.StatusActive,
			"created_at": bson.M{"$gte": since},
		}}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":          bson.M{"make": "$make", "bodyType": "$body_type"},
			"listingCount": bson.M{"$sum": 1},
			"avgViews":     bson.M{"$avg": "$views"},
			"avgPrice":     bson.M{"$avg": "$price"},
		}}},
		bson.D{{Key: "$match", Value: bson.M{
			"listingCount": bson.M{"$gte": s.cfg.HighDemandMinListings},
			"avgViews":     bson.M{"$gte": s.cfg.HighDemandMinAvgViews},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "avgViews", Value: -1}}}},
	}

	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate market opportunities: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID struct {
			Make     string `bson:"make"`
			BodyType string `bson:"bodyType"`
		} `bson:"_id"`
		ListingCount int64   `bson:"listingCount"`
		AvgViews     float64 `bson:"avgViews"`
		AvgPrice     float64 `bson:"avgPrice"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode market opportunities: %w", err)
	}

	opportunities := make([]MarketOpportunity, 0, len(rows))
	for _, row := range rows {
		opportunities = append(opportunities, MarketOpportunity{
			Make:         row.ID.Make,
			BodyType:     row.ID.BodyType,
			ListingCount: row.ListingCount,
			AvgViews:     round1(row.AvgViews),
			AvgPrice:     round1(row.AvgPrice),
		})
	}
	return opportunities, nil
}

// GenerateReport summarizes a vendor's completed sales in [from, to). Profit
// is sale price minus acquisition cost. An empty window yields a zero-valued
// report.
func (s *analyticsService) GenerateReport(ctx context.Context, sellerID utils.SixID, from, to time.Time) (*SalesReport, error) {
	collection := s.db.Collection(listingsCollection)

	filter := bson.M{
		"seller_id": sellerID,
		"deleted":   false,
		"status":    models.StatusSold,
		"sold_at":   bson.M{"$gte": from, "$lt": to},
	}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find sold listings for report: %w", err)
	}
	defer cursor.Close(ctx)

	var sold []models.Listing
	if err = cursor.All(ctx, &sold); err != nil {
		return nil, fmt.Errorf("failed to decode sold listings for report: %w", err)
	}

	report := &SalesReport{From: from, To: to, Sales: []SoldSummary{}}
	var totalDays int
	for _, l := range sold {
		if l.SoldAt == nil || l.SalePrice == nil {
			// Sold without sale metadata shouldn't happen; skip rather than fail.
			continue
		}
		days := int(l.SoldAt.Sub(l.CreatedAt).Hours() / 24)
		profit := *l.SalePrice - l.OriginalPrice
		report.Sales = append(report.Sales, SoldSummary{
			ListingID:  l.ID.String(),
			Make:       l.Make,
			Model:      l.Model,
			Year:       l.Year,
			SalePrice:  *l.SalePrice,
			Profit:     profit,
			DaysToSale: days,
		})
		report.SoldCount++
		report.TotalRevenue += *l.SalePrice
		report.TotalProfit += profit
		totalDays += days
	}
	if report.SoldCount > 0 {
		report.AvgDaysToSale = round1(float64(totalDays) / float64(report.SoldCount))
	}

	return report, nil
}

// GetStaleListings returns the vendor's active listings that have sat past
// the stale age with views under the stale threshold.
func (s *analyticsService) GetStaleListings(ctx context.Context, sellerID utils.SixID) ([]models.Listing, error) {
	collection := s.db.Collection(listingsCollection)
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.StaleListingDays)

	filter := bson.M{
		"seller_id":  sellerID,
		"deleted":    false,
		"status":     models.StatusActive,
		"created_at": bson.M{"$lt": cutoff},
		"views":      bson.M{"$lt": s.cfg.StaleMaxViews},
	}

	cursor, err := collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale listings for seller %s: %w", sellerID.String(), err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err = cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode stale listings: %w", err)
	}
	return listings, nil
}

// CountActiveBySeller counts the vendor's active inventory.
func (s *analyticsService) CountActiveBySeller(ctx context.Context, sellerID utils.SixID) (int64, error) {
	collection := s.db.Collection(listingsCollection)
	count, err := collection.CountDocuments(ctx, bson.M{
		"seller_id": sellerID,
		"deleted":   false,
		"status":    models.StatusActive,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count active listings for seller %s: %w", sellerID.String(), err)
	}
	return count, nil
}
