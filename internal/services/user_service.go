package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"driveline/market/internal/auth"
	"driveline/market/internal/db"
	"driveline/market/internal/models"
	"driveline/market/internal/utils"
)

// ErrEmailExists is returned when an attempt is made to use an email that already exists.
var ErrEmailExists = errors.New("email already in use by another account")

// ErrInvalidCredentials is returned when login email/password don't match.
var ErrInvalidCredentials = errors.New("invalid email or password")

// IUserService defines the interface for user-related operations.
// This allows for easier mocking in tests.
type IUserService interface {
	Register(ctx context.Context, name, email, phone, password string, role models.Role, dealerName string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	GetAllVendorIDs(ctx context.Context) ([]utils.SixID, error)
	UpdateNotificationPreferences(ctx context.Context, userID utils.SixID, prefs models.NotificationPreferences) error
	DeleteUserAndListings(ctx context.Context, userID utils.SixID) error
}

const usersCollection = "users"

// userService implements IUserService.
type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(db *mongo.Database) IUserService {
	return &userService{db: db}
}

// Register creates a new user with a bcrypt-hashed password.
func (s *userService) Register(ctx context.Context, name, email, phone, password string, role models.Role, dealerName string) (*models.User, error) {
	if role != models.RoleBuyer && role != models.RoleVendor {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	collection := s.db.Collection(usersCollection)

	// The unique email index is the real guard; this early check just gives a
	// cleaner error on the common path.
	count, err := collection.CountDocuments(ctx, bson.M{"email": email, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("error checking email uniqueness for %s: %w", email, err)
	}
	if count > 0 {
		return nil, ErrEmailExists
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password for %s: %w", email, err)
	}

	now := time.Now().UTC()
	var newUser *models.User

	operation := func() error {
		newUser = &models.User{
			Base:         models.Base{ID: utils.NewSixID()}, // ID generated on each attempt
			Name:         name,
			Email:        email,
			Phone:        phone,
			PasswordHash: hashedPassword,
			Role:         role,
			DealerName:   dealerName,
			CreatedAt:    now,
			UpdatedAt:    now,
			NotificationPreferences: &models.NotificationPreferences{
				Inquiry:     true,
				PriceAlerts: true,
				DailyDigest: role == models.RoleVendor,
			},
		}
		_, insertErr := collection.InsertOne(ctx, newUser)
		return insertErr
	}

	err = db.Try(operation)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), "email_1") {
			return nil, ErrEmailExists
		}
		userIDStr := "<unknown>"
		if newUser != nil {
			userIDStr = newUser.ID.String()
		}
		return nil, fmt.Errorf("error inserting new user for %s (last attempted user ID: %s) after multiple retries: %w",
			email, userIDStr, err)
	}

	return newUser, nil
}

// Authenticate checks credentials and returns the user on success. The same
// error is returned for unknown email and wrong password.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.Suspended {
		return nil, fmt.Errorf("account is suspended")
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// FindByID finds a non-deleted user by their ID.
func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"_id": userID, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID.String(), err)
	}
	return &user, nil
}

// FindByEmail finds a non-deleted user by their email address.
// Returns nil and mongo.ErrNoDocuments if not found.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	collection := s.db.Collection(usersCollection)
	filter := bson.M{"email": email, "deleted": false}

	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// GetAllVendorIDs retrieves the IDs of all active vendors, for the daily
// digest task.
func (s *userService) GetAllVendorIDs(ctx context.Context) ([]utils.SixID, error) {
	collection := s.db.Collection(usersCollection)
	filter := bson.M{
		"deleted":   false,
		"suspended": false,
		"role":      models.RoleVendor,
	}
	opts := options.Find().SetProjection(bson.M{"_id": 1})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendor IDs: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		ID utils.SixID `bson:"_id"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode vendor IDs: %w", err)
	}

	ids := make([]utils.SixID, len(results))
	for i, res := range results {
		ids[i] = res.ID
	}
	return ids, nil
}

// UpdateNotificationPreferences replaces the user's notification settings.
func (s *userService) UpdateNotificationPreferences(ctx context.Context, userID utils.SixID, prefs models.NotificationPreferences) error {
	collection := s.db.Collection(usersCollection)
	update := bson.M{"$set": bson.M{
		"notification_preferences": prefs,
		"updated_at":               time.Now().UTC(),
	}}
	result, err := collection.UpdateByID(ctx, userID, update)
	if err != nil {
		return fmt.Errorf("error updating notification preferences for user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DeleteUserAndListings performs a soft delete on a user and all their listings.
func (s *userService) DeleteUserAndListings(ctx context.Context, userID utils.SixID) error {
	collection := s.db.Collection(usersCollection)
	now := time.Now().UTC()

	update := bson.M{"$set": bson.M{"deleted": true, "updated_at": now}}
	result, err := collection.UpdateByID(ctx, userID, update)
	if err != nil {
		return fmt.Errorf("error soft-deleting user %s: %w", userID.String(), err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}

	listingColl := s.db.Collection(listingsCollection)
	listingUpdate := bson.M{"$set": bson.M{
		"deleted":    true,
		"status":     models.StatusInactive,
		"updated_at": now,
	}}
	res, err := listingColl.UpdateMany(ctx, bson.M{"seller_id": userID, "deleted": false}, listingUpdate)
	if err != nil {
		// User is already deleted; report but don't undo.
		log.Printf("CRITICAL: User %s deleted but listing cleanup failed: %v", userID.String(), err)
		return fmt.Errorf("user deleted but failed to delete their listings: %w", err)
	}
	log.Printf("Soft-deleted user %s and %d listings", userID.String(), res.ModifiedCount)
	return nil
}
