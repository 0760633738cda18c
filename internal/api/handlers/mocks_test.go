package handlers

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"driveline/market/internal/models"
	"driveline/market/internal/realtime"
	"driveline/market/internal/services"
	"driveline/market/internal/utils"
)

// MockListingService implements services.IListingService.
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, sellerID utils.SixID, input services.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, sellerID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) IncrementViews(ctx context.Context, listingID utils.SixID) error {
	args := m.Called(ctx, listingID)
	return args.Error(0)
}

func (m *MockListingService) IncrementFavorites(ctx context.Context, listingID utils.SixID, delta int) error {
	args := m.Called(ctx, listingID, delta)
	return args.Error(0)
}

func (m *MockListingService) SearchListings(ctx context.Context, filter services.SearchFilter) ([]models.Listing, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.Listing), args.Get(1).(int64), args.Error(2)
}

func (m *MockListingService) UpdateListing(ctx context.Context, listingID, sellerID utils.SixID, updates map[string]interface{}) (*models.Listing, *services.PriceChange, error) {
	args := m.Called(ctx, listingID, sellerID, updates)
	var listing *models.Listing
	if args.Get(0) != nil {
		listing = args.Get(0).(*models.Listing)
	}
	var change *services.PriceChange
	if args.Get(1) != nil {
		change = args.Get(1).(*services.PriceChange)
	}
	return listing, change, args.Error(2)
}

func (m *MockListingService) BulkUpdateListings(ctx context.Context, sellerID utils.SixID, listingIDs []utils.SixID, updates map[string]interface{}) (int64, error) {
	args := m.Called(ctx, sellerID, listingIDs, updates)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockListingService) MarkSold(ctx context.Context, listingID, sellerID utils.SixID, salePrice float64) (*models.Listing, error) {
	args := m.Called(ctx, listingID, sellerID, salePrice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) DeleteListing(ctx context.Context, listingID, sellerID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindListingsBySeller(ctx context.Context, sellerID utils.SixID) ([]models.Listing, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) AddPhotoToListing(ctx context.Context, listingID utils.SixID, photoKey string) error {
	args := m.Called(ctx, listingID, photoKey)
	return args.Error(0)
}

// MockS3Storage implements storage.IS3Storage.
type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, sellerID, listingID, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, sellerID, listingID, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

// MockAsynqClient implements IAsynqClient.
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

// capturePublisher records hub publishes made by the notify engine.
type capturePublisher struct {
	topics []string
	events []realtime.Event
}

func (p *capturePublisher) Publish(topic string, event realtime.Event) int {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return 1
}
