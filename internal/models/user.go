package models

import (
	"time"
)

// Role determines which API surfaces a user may reach.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleVendor Role = "vendor"
)

// NotificationPreferences allows users to control email notifications.
type NotificationPreferences struct {
	Inquiry     bool `bson:"inquiry" json:"inquiry"`
	PriceAlerts bool `bson:"price_alerts" json:"price_alerts"`
	DailyDigest bool `bson:"daily_digest" json:"daily_digest"`
}

// User represents a user in the system.
type User struct {
	Base                    `bson:",inline"`
	Name                    string                   `bson:"name" json:"name"`
	Email                   string                   `bson:"email" json:"email"`
	Phone                   string                   `bson:"phone,omitempty" json:"phone,omitempty"`
	PasswordHash            string                   `bson:"password" json:"-"` // Store hash, not plaintext
	Role                    Role                     `bson:"role" json:"role"`
	DealerName              string                   `bson:"dealer_name,omitempty" json:"dealer_name,omitempty"` // Vendors only
	Suspended               bool                     `bson:"suspended" json:"suspended"`
	NotificationPreferences *NotificationPreferences `bson:"notification_preferences,omitempty" json:"notification_preferences,omitempty"`
	CreatedAt               time.Time                `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time                `bson:"updated_at" json:"updated_at"`
	Deleted                 bool                     `bson:"deleted" json:"-"` // Soft delete flag
}

// IsVendor reports whether the user may manage inventory.
func (u *User) IsVendor() bool {
	return u.Role == RoleVendor
}

// WantsInquiryEmail reports whether inquiry notification emails should be
// sent. Users with no stored preferences get the default-on behavior.
func (u *User) WantsInquiryEmail() bool {
	return u.NotificationPreferences == nil || u.NotificationPreferences.Inquiry
}

// WantsDailyDigest reports whether the vendor digest email should be sent.
// Missing preferences default to on, matching the registration default.
func (u *User) WantsDailyDigest() bool {
	return u.NotificationPreferences == nil || u.NotificationPreferences.DailyDigest
}
