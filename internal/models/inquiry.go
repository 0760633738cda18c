package models

import (
	"time"

	"driveline/market/internal/utils"
)

// Inquiry represents a buyer's question or offer about a listing.
type Inquiry struct {
	ID        utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
	ListingID utils.SixID `bson:"listing_id" json:"listing_id"`
	UserID    utils.SixID `bson:"user_id,omitempty" json:"user_id,omitempty"` // ID of user making the inquiry (if logged in)
	UserEmail string      `bson:"user_email" json:"user_email"`               // Reply-to email provided
	Message   string      `bson:"message" json:"message"`                     // Required if no offer
	Offer     *float64    `bson:"offer,omitempty" json:"offer,omitempty"`     // Optional offer amount
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	Notified  bool        `bson:"notified" json:"notified"` // False initially, true after background task emails the seller
	Deleted   bool        `bson:"deleted" json:"-"`         // Soft delete flag
}
