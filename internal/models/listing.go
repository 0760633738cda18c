package models

import (
	"time"

	"driveline/market/internal/utils"
)

// ListingStatus tracks where a vehicle sits in its sale lifecycle.
type ListingStatus string

const (
	StatusActive   ListingStatus = "active"
	StatusPending  ListingStatus = "pending"
	StatusSold     ListingStatus = "sold"
	StatusInactive ListingStatus = "inactive"
)

// PricePoint is one entry in a listing's append-only price history.
type PricePoint struct {
	Price float64   `bson:"price" json:"price"`
	At    time.Time `bson:"at" json:"at"`
}

// GeoPoint is a GeoJSON point, longitude first.
type GeoPoint struct {
	Type        string    `bson:"type" json:"type"` // always "Point"
	Coordinates []float64 `bson:"coordinates" json:"coordinates"`
}

// Location is the denormalized place a vehicle is offered from.
type Location struct {
	City  string    `bson:"city" json:"city"`
	State string    `bson:"state" json:"state"`
	Point *GeoPoint `bson:"point,omitempty" json:"point,omitempty"`
}

// Listing represents a vehicle offered for sale.
//
// Views, Inquiries and Favorites are engagement counters mutated only via $inc
// so concurrent traffic never loses updates.
type Listing struct {
	ID            utils.SixID   `bson:"_id,omitempty" json:"id,omitempty"`
	SellerID      utils.SixID   `bson:"seller_id" json:"seller_id"`
	Make          string        `bson:"make" json:"make"`
	Model         string        `bson:"model" json:"model"`
	Year          int           `bson:"year" json:"year"`
	Trim          string        `bson:"trim,omitempty" json:"trim,omitempty"`
	BodyType      string        `bson:"body_type" json:"bodyType"`
	Condition     string        `bson:"condition" json:"condition"` // "new" or "used"
	FuelType      string        `bson:"fuel_type,omitempty" json:"fuelType,omitempty"`
	Transmission  string        `bson:"transmission,omitempty" json:"transmission,omitempty"`
	ExteriorColor string        `bson:"exterior_color,omitempty" json:"exteriorColor,omitempty"`
	InteriorColor string        `bson:"interior_color,omitempty" json:"interiorColor,omitempty"`
	VIN           string        `bson:"vin,omitempty" json:"vin,omitempty"`
	Description   string        `bson:"description,omitempty" json:"description,omitempty"`
	Price         float64       `bson:"price" json:"price"`
	OriginalPrice float64       `bson:"original_price" json:"originalPrice"` // Acquisition cost, for profit reporting
	PriceHistory  []PricePoint  `bson:"price_history,omitempty" json:"priceHistory,omitempty"`
	Mileage       int           `bson:"mileage" json:"mileage"`
	Photos        []string      `bson:"photos,omitempty" json:"photos,omitempty"` // S3 keys
	Location      Location      `bson:"location" json:"location"`
	Status        ListingStatus `bson:"status" json:"status"`
	Views         int64         `bson:"views" json:"views"`
	Inquiries     int64         `bson:"inquiries" json:"inquiries"`
	Favorites     int64         `bson:"favorites" json:"favorites"`
	SoldAt        *time.Time    `bson:"sold_at,omitempty" json:"soldAt,omitempty"`
	SalePrice     *float64      `bson:"sale_price,omitempty" json:"salePrice,omitempty"`
	CreatedAt     time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time     `bson:"updated_at" json:"updatedAt"`
	Deleted       bool          `bson:"deleted" json:"-"` // Soft delete flag
}

// DaysListed returns whole days since the listing was created.
func (l *Listing) DaysListed(now time.Time) int {
	return int(now.Sub(l.CreatedAt).Hours() / 24)
}
