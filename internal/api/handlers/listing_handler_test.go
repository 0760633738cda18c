package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"driveline/market/internal/api/middleware"
	"driveline/market/internal/config"
	"driveline/market/internal/models"
	"driveline/market/internal/notify"
	"driveline/market/internal/services"
	"driveline/market/internal/utils"
)

func notifyTestConfig() *config.Config {
	return &config.Config{
		PriceDropAlertPercent: 5,
		InquiryMilestones:     []int{5, 25, 100},
	}
}

// setupListingRouter wires the handler into a minimal router. A non-zero
// userID is injected the way AuthMiddleware would.
func setupListingRouter(h *ListingHandler, userID utils.SixID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if userID != (utils.SixID{}) {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ContextKeyUserID, userID.String())
			c.Set(middleware.ContextKeyRole, string(models.RoleVendor))
		})
	}
	r.GET("/v1/listing/:id", h.GetListingByID)
	r.POST("/v1/listing", h.CreateListing)
	r.PUT("/v1/listing/:id", h.UpdateListing)
	r.POST("/v1/listing/:id/sold", h.MarkSold)
	r.POST("/v1/listing/:id/favorite", h.Favorite(1))
	r.POST("/v1/listing/:id/photo", h.RequestPhotoUpload)
	return r
}

func vendorListing(sellerID utils.SixID) *models.Listing {
	return &models.Listing{
		ID:       utils.NewSixID(),
		SellerID: sellerID,
		Make:     "Toyota",
		Model:    "Camry",
		Year:     2021,
		BodyType: "Sedan",
		Price:    25000,
		Status:   models.StatusActive,
		Location: models.Location{City: "Austin", State: "TX"},
	}
}

func TestCreateListing_FansOutAfterCommit(t *testing.T) {
	sellerID := utils.NewSixID()
	mockSvc := new(MockListingService)
	pub := &capturePublisher{}
	h := NewListingHandler(mockSvc, notify.NewEngine(pub, notifyTestConfig()), nil, nil)
	router := setupListingRouter(h, sellerID)

	created := vendorListing(sellerID)
	mockSvc.On("CreateListing", mock.Anything, sellerID, mock.AnythingOfType("services.ListingInput")).Return(created, nil)

	body, _ := json.Marshal(gin.H{
		"make": "Toyota", "model": "Camry", "year": 2021, "bodyType": "Sedan",
		"price": 25000, "city": "Austin", "state": "TX",
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"location:austin:tx", "make:toyota", "bodyType:sedan", "feed"}, pub.topics)
	mockSvc.AssertExpectations(t)
}

func TestCreateListing_InvalidBody(t *testing.T) {
	sellerID := utils.NewSixID()
	mockSvc := new(MockListingService)
	pub := &capturePublisher{}
	h := NewListingHandler(mockSvc, notify.NewEngine(pub, notifyTestConfig()), nil, nil)
	router := setupListingRouter(h, sellerID)

	// Missing required fields.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing", bytes.NewReader([]byte(`{"make":"Toyota"}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, pub.topics, "nothing fans out when validation fails")
	mockSvc.AssertNotCalled(t, "CreateListing")
}

func TestGetListingByID_CountsView(t *testing.T) {
	mockSvc := new(MockListingService)
	pub := &capturePublisher{}
	h := NewListingHandler(mockSvc, notify.NewEngine(pub, notifyTestConfig()), nil, nil)
	router := setupListingRouter(h, utils.SixID{})

	listing := vendorListing(utils.NewSixID())
	listing.Views = 10
	mockSvc.On("FindListingByID", mock.Anything, listing.ID).Return(listing, nil)
	mockSvc.On("IncrementViews", mock.Anything, listing.ID).Return(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/"+listing.ID.String(), nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(11), resp.Views, "response reflects the view just counted")
	mockSvc.AssertExpectations(t)
}

func TestGetListingByID_NotFound(t *testing.T) {
	mockSvc := new(MockListingService)
	pub := &capturePublisher{}
	h := NewListingHandler(mockSvc, notify.NewEngine(pub, notifyTestConfig()), nil, nil)
	router := setupListingRouter(h, utils.SixID{})

	missing := utils.NewSixID()
	mockSvc.On("FindListingByID", mock.Anything, missing).Return(nil, mongo.ErrNoDocuments)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/"+missing.String(), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockSvc.AssertNotCalled(t, "IncrementViews")
}

func TestUpdateListing_PriceDropTriggersAlert(t *testing.T) {
	sellerID := utils.NewSixID()
	mockSvc := new(MockListingService)
	pub := &capturePublisher{}
	h := NewListingHandler(mockSvc, notify.NewEngine(pub, notifyTestConfig()), nil, nil)
	router := setupListingRouter(h, sellerID)

	updated := vendorListing(sellerID)
	updated.Price = 22000
	change := &services.PriceChange{OldPrice: 25000, NewPrice: 22000}
	mockSvc.On("UpdateListing", mock.Anything, updated.ID, sellerID, mock.Anything).Return(updated, change, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/v1/listing/"+updated.ID.String(), bytes.NewReader([]byte(`{"price":22000}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	// A 12% drop alerts the location and make audiences.
	assert.Equal(t, []string{"location:austin:tx", "make:toyota"}, pub.topics)
	mockSvc.AssertExpectations(t)
}

func TestMarkSold_NotOwned(t *testing.T) {
	sellerID := utils.NewSixID()
	mockSvc := new(MockListingService)
	pub := &capturePublisher{}
	h := NewListingHandler(mockSvc, notify.NewEngine(pub, notifyTestConfig()), nil, nil)
	router := setupListingRouter(h, sellerID)

	listingID := utils.NewSixID()
	mockSvc.On("MarkSold", mock.Anything, listingID, sellerID, 20000.0).Return(nil, mongo.ErrNoDocuments)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing/"+listingID.String()+"/sold", bytes.NewReader([]byte(`{"salePrice":20000}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, pub.topics)
}

func TestFavorite_NotFound(t *testing.T) {
	mockSvc := new(MockListingService)
	pub := &capturePublisher{}
	h := NewListingHandler(mockSvc, notify.NewEngine(pub, notifyTestConfig()), nil, nil)
	router := setupListingRouter(h, utils.SixID{})

	missing := utils.NewSixID()
	mockSvc.On("IncrementFavorites", mock.Anything, missing, 1).Return(mongo.ErrNoDocuments)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing/"+missing.String()+"/favorite", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestPhotoUpload_OwnerGetsPresignedURL(t *testing.T) {
	sellerID := utils.NewSixID()
	mockSvc := new(MockListingService)
	mockS3 := new(MockS3Storage)
	mockQueue := new(MockAsynqClient)
	pub := &capturePublisher{}
	h := NewListingHandler(mockSvc, notify.NewEngine(pub, notifyTestConfig()), mockS3, mockQueue)
	router := setupListingRouter(h, sellerID)

	listing := vendorListing(sellerID)
	mockSvc.On("FindListingByID", mock.Anything, listing.ID).Return(listing, nil)
	mockS3.On("GeneratePresignedPutURL", mock.Anything, sellerID.String(), listing.ID.String(), "front.jpg", "image/jpeg").
		Return("https://s3.example.com/upload", "photos/key", nil)
	mockQueue.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	body, _ := json.Marshal(gin.H{"filename": "front.jpg", "contentType": "image/jpeg"})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing/"+listing.ID.String()+"/photo", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://s3.example.com/upload", resp["uploadUrl"])
	assert.Equal(t, "photos/key", resp["key"])
	mockQueue.AssertExpectations(t)
}

func TestRequestPhotoUpload_NotOwner(t *testing.T) {
	callerID := utils.NewSixID()
	mockSvc := new(MockListingService)
	mockS3 := new(MockS3Storage)
	pub := &capturePublisher{}
	h := NewListingHandler(mockSvc, notify.NewEngine(pub, notifyTestConfig()), mockS3, nil)
	router := setupListingRouter(h, callerID)

	listing := vendorListing(utils.NewSixID()) // owned by someone else
	mockSvc.On("FindListingByID", mock.Anything, listing.ID).Return(listing, nil)

	body, _ := json.Marshal(gin.H{"filename": "front.jpg", "contentType": "image/jpeg"})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/listing/"+listing.ID.String()+"/photo", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	mockS3.AssertNotCalled(t, "GeneratePresignedPutURL")
}
