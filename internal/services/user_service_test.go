package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/models"
	"driveline/market/internal/utils"
)

func setupTestDBUser(t *testing.T, dbName string) *mongo.Database {
	return utils.SetupTestDB(t, dbName, "users", "listings")
}

func TestUserService_Register(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_register")
	svc := NewUserService(db)
	ctx := context.Background()

	buyer, err := svc.Register(ctx, "Alice", "alice@example.com", "555-0100", "s3cretpw", models.RoleBuyer, "")
	require.NoError(t, err)
	require.NotNil(t, buyer)
	assert.Equal(t, models.RoleBuyer, buyer.Role)
	assert.NotEqual(t, "s3cretpw", buyer.PasswordHash, "password must be hashed")
	require.NotNil(t, buyer.NotificationPreferences)
	assert.True(t, buyer.NotificationPreferences.Inquiry)
	assert.True(t, buyer.NotificationPreferences.PriceAlerts)
	assert.False(t, buyer.NotificationPreferences.DailyDigest, "buyers do not get the vendor digest")

	vendor, err := svc.Register(ctx, "Bob", "bob@dealer.example.com", "", "s3cretpw", models.RoleVendor, "Bob's Autos")
	require.NoError(t, err)
	assert.Equal(t, "Bob's Autos", vendor.DealerName)
	require.NotNil(t, vendor.NotificationPreferences)
	assert.True(t, vendor.NotificationPreferences.DailyDigest)

	// Invalid role is rejected before any write.
	_, err = svc.Register(ctx, "Mallory", "mallory@example.com", "", "s3cretpw", models.Role("admin"), "")
	assert.Error(t, err)

	// Duplicate email
	_, err = svc.Register(ctx, "Alice Again", "alice@example.com", "", "otherpw", models.RoleBuyer, "")
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestUserService_Authenticate(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_authenticate")
	svc := NewUserService(db)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "Carol", "carol@example.com", "", "correct-horse", models.RoleBuyer, "")
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "carol@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	// Wrong password and unknown email return the same error so callers
	// cannot probe for registered addresses.
	_, err = svc.Authenticate(ctx, "carol@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Suspended accounts cannot log in even with valid credentials.
	_, err = db.Collection("users").UpdateByID(ctx, registered.ID, bson.M{"$set": bson.M{"suspended": true}})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "carol@example.com", "correct-horse")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_FindAndVendorListing(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_find")
	svc := NewUserService(db)
	ctx := context.Background()

	buyer, err := svc.Register(ctx, "Dave", "dave@example.com", "", "s3cretpw", models.RoleBuyer, "")
	require.NoError(t, err)
	vendor, err := svc.Register(ctx, "Erin", "erin@dealer.example.com", "", "s3cretpw", models.RoleVendor, "Erin Motors")
	require.NoError(t, err)

	found, err := svc.FindByID(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dave", found.Name)

	_, err = svc.FindByID(ctx, utils.NewSixID())
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	vendorIDs, err := svc.GetAllVendorIDs(ctx)
	require.NoError(t, err)
	require.Len(t, vendorIDs, 1)
	assert.Equal(t, vendor.ID, vendorIDs[0])
}

func TestUserService_UpdateNotificationPreferences(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_prefs")
	svc := NewUserService(db)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Frank", "frank@example.com", "", "s3cretpw", models.RoleVendor, "Frank Cars")
	require.NoError(t, err)

	err = svc.UpdateNotificationPreferences(ctx, user.ID, models.NotificationPreferences{
		Inquiry:     false,
		PriceAlerts: true,
		DailyDigest: false,
	})
	require.NoError(t, err)

	updated, err := svc.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.NotificationPreferences)
	assert.False(t, updated.NotificationPreferences.Inquiry)
	assert.True(t, updated.NotificationPreferences.PriceAlerts)
	assert.False(t, updated.NotificationPreferences.DailyDigest)

	err = svc.UpdateNotificationPreferences(ctx, utils.NewSixID(), models.NotificationPreferences{})
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestUserService_DeleteUserAndListings(t *testing.T) {
	db := setupTestDBUser(t, "testdb_user_delete")
	svc := NewUserService(db)
	ctx := context.Background()

	vendor, err := svc.Register(ctx, "Grace", "grace@dealer.example.com", "", "s3cretpw", models.RoleVendor, "Grace Auto")
	require.NoError(t, err)

	// Seed two listings owned by the vendor.
	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		_, err = db.Collection("listings").InsertOne(ctx, models.Listing{
			ID:        utils.NewSixID(),
			SellerID:  vendor.ID,
			Make:      "Ford",
			Model:     "F-150",
			Year:      2020,
			Status:    models.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	err = svc.DeleteUserAndListings(ctx, vendor.ID)
	require.NoError(t, err)

	// The account is gone from every lookup path.
	_, err = svc.FindByID(ctx, vendor.ID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
	_, err = svc.Authenticate(ctx, "grace@dealer.example.com", "s3cretpw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// Their inventory was cascaded to soft-deleted inactive.
	count, err := db.Collection("listings").CountDocuments(ctx, bson.M{
		"seller_id": vendor.ID,
		"deleted":   true,
		"status":    models.StatusInactive,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Deleting an unknown user reports the miss.
	err = svc.DeleteUserAndListings(ctx, utils.NewSixID())
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}
