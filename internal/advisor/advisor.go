// Package advisor derives prioritized recommendations for a vendor from
// analytics snapshots. All rules are pure functions of their inputs; the
// package never touches the database.
package advisor

import (
	"fmt"
	"sort"
	"time"

	"driveline/market/internal/config"
	"driveline/market/internal/models"
	"driveline/market/internal/services"
)

// Advisory types.
const (
	TypeStaleInventory = "stale-inventory"
	TypeLowInventory   = "low-inventory"
	TypeOverpriced     = "overpriced"
	TypePricing        = "pricing"
)

// Priorities, strongest first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Advisory is one actionable recommendation.
type Advisory struct {
	Type      string `json:"type"`
	Priority  string `json:"priority"`
	Message   string `json:"message"`
	ListingID string `json:"listingId,omitempty"`
}

// Snapshot bundles the analytics inputs the ruleset evaluates.
type Snapshot struct {
	Now            time.Time
	ActiveListings int64
	Stale          []models.Listing
	Pricing        []services.PricingRecommendation
}

// Advisor applies the ruleset with its configured thresholds.
type Advisor struct {
	cfg *config.Config
}

// New creates an Advisor.
func New(cfg *config.Config) *Advisor {
	return &Advisor{cfg: cfg}
}

// Evaluate runs every rule over the snapshot and returns the advisories
// ordered by priority, high first.
func (a *Advisor) Evaluate(snap Snapshot) []Advisory {
	advisories := []Advisory{}
	advisories = append(advisories, a.staleInventory(snap)...)
	if adv := a.lowInventory(snap.ActiveListings); adv != nil {
		advisories = append(advisories, *adv)
	}
	for _, rec := range snap.Pricing {
		if adv := a.pricing(rec); adv != nil {
			advisories = append(advisories, *adv)
		}
	}

	sort.SliceStable(advisories, func(i, j int) bool {
		return priorityRank(advisories[i].Priority) < priorityRank(advisories[j].Priority)
	})
	return advisories
}

func priorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// staleInventory flags listings that have aged past the stale threshold with
// almost no traffic. Always high priority: the vehicle is costing lot space.
func (a *Advisor) staleInventory(snap Snapshot) []Advisory {
	out := []Advisory{}
	for _, l := range snap.Stale {
		days := l.DaysListed(snap.Now)
		if days <= a.cfg.StaleListingDays || l.Views >= int64(a.cfg.StaleMaxViews) {
			continue
		}
		out = append(out, Advisory{
			Type:      TypeStaleInventory,
			Priority:  PriorityHigh,
			ListingID: l.ID.String(),
			Message: fmt.Sprintf("%d %s %s has been listed %d days with only %d views; consider a price cut or refreshed photos",
				l.Year, l.Make, l.Model, days, l.Views),
		})
	}
	return out
}

// lowInventory fires when the active lot is nearly empty.
func (a *Advisor) lowInventory(activeCount int64) *Advisory {
	if activeCount >= int64(a.cfg.LowInventoryCount) {
		return nil
	}
	return &Advisory{
		Type:     TypeLowInventory,
		Priority: PriorityMedium,
		Message:  fmt.Sprintf("Only %d active listings; consider acquiring more inventory", activeCount),
	}
}

// pricing converts a pricing recommendation into an advisory. Competitive
// and no-comparable listings produce nothing; an overpriced or underpriced
// listing inherits the recommendation's priority.
func (a *Advisor) pricing(rec services.PricingRecommendation) *Advisory {
	switch rec.Assessment {
	case services.AssessmentOverpriced:
		return &Advisory{
			Type:      TypeOverpriced,
			Priority:  rec.Priority,
			ListingID: rec.ListingID,
			Message: fmt.Sprintf("Priced $%.0f above the market average of $%.0f across %d comparables; consider lowering toward $%.0f",
				rec.Difference, rec.MarketAverage, rec.ComparableCount, rec.RecommendedPrice),
		}
	case services.AssessmentUnderpriced:
		return &Advisory{
			Type:      TypePricing,
			Priority:  rec.Priority,
			ListingID: rec.ListingID,
			Message: fmt.Sprintf("Priced $%.0f below the market average of $%.0f; you may be leaving money on the table",
				-rec.Difference, rec.MarketAverage),
		}
	default:
		return nil
	}
}
