package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"driveline/market/internal/config"
	"driveline/market/internal/models"
)

// ISettingsService provides runtime-tunable settings layered over the static
// env config: threshold overrides, per-endpoint rate limits.
type ISettingsService interface {
	Get(ctx context.Context, key string) (interface{}, error)
	GetInt(ctx context.Context, key string, defaultValue int) int
	GetFloat64(ctx context.Context, key string, defaultValue float64) float64
	GetBool(ctx context.Context, key string, defaultValue bool) bool
	GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration
	Load(ctx context.Context) error
	SubscribeToChanges(ctx context.Context) error
	SetValue(ctx context.Context, key string, value interface{}) error
	GetAPIEndpointConfig(ctx context.Context, endpoint string, isAuthenticated bool) (*models.APIEndpointConfig, error)
}

const (
	settingsCollection    = "settings"
	apiConfigCollection   = "api_endpoints_config"
	settingsUpdateChannel = "settings_updates"
)

// settingsService implements ISettingsService.
type settingsService struct {
	db       *mongo.Database
	cfg      *config.Config // Static defaults loaded from .env
	rdb      *redis.Client
	cache    map[string]interface{}
	apiCache map[string]*models.APIEndpointConfig
	mutex    sync.RWMutex
}

// NewSettingsService creates the service, loads the initial settings from
// Mongo and starts the Redis pub/sub listener that reloads on changes.
func NewSettingsService(db *mongo.Database, initialCfg *config.Config, rdb *redis.Client) ISettingsService {
	s := &settingsService{
		db:       db,
		cfg:      initialCfg,
		rdb:      rdb,
		cache:    make(map[string]interface{}),
		apiCache: make(map[string]*models.APIEndpointConfig),
	}
	if err := s.Load(context.Background()); err != nil {
		log.Printf("WARNING: Failed to load initial settings from DB: %v. Using env defaults", err)
	}
	if err := s.SubscribeToChanges(context.Background()); err != nil {
		log.Printf("CRITICAL: Failed to start settings Pub/Sub listener: %v", err)
	}
	return s
}

// SettingEntry represents a document in the settings collection.
type SettingEntry struct {
	Key   string      `bson:"key"`
	Value interface{} `bson:"value"`
}

// Load fetches all setting entries and endpoint configs from the DB and
// replaces the in-memory caches.
func (s *settingsService) Load(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	collection := s.db.Collection(settingsCollection)
	cursor, err := collection.Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to query settings collection: %w", err)
	}
	defer cursor.Close(ctx)

	newCache := make(map[string]interface{})
	for cursor.Next(ctx) {
		var entry SettingEntry
		if err := cursor.Decode(&entry); err == nil {
			newCache[entry.Key] = entry.Value
		} else {
			log.Printf("Warning: Failed to decode setting entry during load: %v", err)
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("error iterating settings cursor: %w", err)
	}
	s.cache = newCache

	apiCollection := s.db.Collection(apiConfigCollection)
	apiCursor, err := apiCollection.Find(ctx, bson.M{})
	if err != nil {
		log.Printf("Error querying API endpoint configs: %v", err)
	} else {
		defer apiCursor.Close(ctx)
		newAPICache := make(map[string]*models.APIEndpointConfig)
		for apiCursor.Next(ctx) {
			var entry models.APIEndpointConfig
			if err := apiCursor.Decode(&entry); err == nil {
				cacheKey := fmt.Sprintf("%s#%t", entry.Endpoint, entry.AuthRequired)
				newAPICache[cacheKey] = &entry
			} else {
				log.Printf("Warning: Failed to decode API config entry during load: %v", err)
			}
		}
		if err := apiCursor.Err(); err != nil {
			log.Printf("Error iterating API config cursor: %v", err)
		}
		s.apiCache = newAPICache
	}

	log.Printf("Loaded %d settings and %d API endpoint configs into cache from DB.", len(s.cache), len(s.apiCache))
	return nil
}

// Get retrieves a setting, checking the cache first, then known env-backed
// defaults.
func (s *settingsService) Get(ctx context.Context, key string) (interface{}, error) {
	s.mutex.RLock()
	val, exists := s.cache[key]
	s.mutex.RUnlock()

	if exists {
		return val, nil
	}

	// Fall back to the env-derived defaults for the threshold keys.
	switch key {
	case "PRICE_DROP_ALERT_PERCENT":
		return s.cfg.PriceDropAlertPercent, nil
	case "OVERPRICED_DELTA":
		return s.cfg.OverpricedDelta, nil
	case "UNDERPRICED_DELTA":
		return s.cfg.UnderpricedDelta, nil
	case "COMPETITIVE_PERCENT":
		return s.cfg.CompetitivePercent, nil
	case "PRICING_HIGH_DIFF":
		return s.cfg.PricingHighDiff, nil
	case "STALE_LISTING_DAYS":
		return s.cfg.StaleListingDays, nil
	case "STALE_MAX_VIEWS":
		return s.cfg.StaleMaxViews, nil
	case "LOW_INVENTORY_COUNT":
		return s.cfg.LowInventoryCount, nil
	case "MARKET_WINDOW_DAYS":
		return s.cfg.MarketWindowDays, nil
	default:
		return nil, fmt.Errorf("setting '%s' not found", key)
	}
}

func (s *settingsService) GetInt(ctx context.Context, key string, defaultValue int) int {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	// MongoDB might store numbers as float64 or int32/64
	switch v := val.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		log.Printf("Warning: Setting '%s' is not an integer type (%T), using default.", key, val)
		return defaultValue
	}
}

func (s *settingsService) GetFloat64(ctx context.Context, key string, defaultValue float64) float64 {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	switch v := val.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		log.Printf("Warning: Setting '%s' is not a float64 type (%T), using default.", key, val)
		return defaultValue
	}
}

func (s *settingsService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if boolVal, ok := val.(bool); ok {
		return boolVal
	}
	log.Printf("Warning: Setting '%s' is not a boolean, using default.", key)
	return defaultValue
}

// GetDuration retrieves a setting as time.Duration (stored as seconds).
func (s *settingsService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	switch v := val.(type) {
	case int:
		return time.Duration(v) * time.Second
	case int32:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	default:
		log.Printf("Warning: Setting '%s' is not a numeric type for duration (%T), using default.", key, val)
		return defaultValue
	}
}

// SubscribeToChanges subscribes to the settings update channel and starts a
// background listener that reloads the caches on each notification. It
// returns once the subscription is confirmed, so callers never block on the
// message loop.
func (s *settingsService) SubscribeToChanges(ctx context.Context) error {
	if s.rdb == nil {
		log.Println("Redis client not configured, cannot subscribe to settings changes.")
		return nil
	}

	pubsub := s.rdb.Subscribe(ctx, settingsUpdateChannel)

	// Wait for confirmation that subscription is created before anything is published.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to receive confirmation from Redis Pub/Sub subscription: %w", err)
	}

	log.Println("Subscribed to Redis channel for settings updates:", settingsUpdateChannel)
	go func() {
		defer pubsub.Close()
		s.listen(pubsub.Channel())
	}()
	return nil
}

// listen reloads the caches for every update notification until the
// subscription channel closes.
func (s *settingsService) listen(ch <-chan *redis.Message) {
	for msg := range ch {
		log.Printf("Received settings update notification on channel %s: %s", msg.Channel, msg.Payload)
		if err := s.Load(context.Background()); err != nil {
			log.Printf("ERROR reloading settings from DB after notification: %v", err)
		}
	}
	log.Println("Settings Pub/Sub listener stopped.")
}

// SetValue upserts a setting in the DB and publishes an update so every
// process reloads.
func (s *settingsService) SetValue(ctx context.Context, key string, value interface{}) error {
	collection := s.db.Collection(settingsCollection)
	filter := bson.M{"key": key}
	update := bson.M{"$set": bson.M{"key": key, "value": value}}
	opts := options.Update().SetUpsert(true)

	if _, err := collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert setting '%s' in DB: %w", key, err)
	}

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, settingsUpdateChannel, key).Err(); err != nil {
			log.Printf("Warning: Failed to publish settings update notification for '%s': %v", key, err)
		}
	}

	log.Printf("Updated setting '%s' and published notification.", key)
	return nil
}

// GetAPIEndpointConfig retrieves the rate-limit override for a route, falling
// back to the guest config when no authenticated-specific one exists.
func (s *settingsService) GetAPIEndpointConfig(ctx context.Context, endpoint string, isAuthenticated bool) (*models.APIEndpointConfig, error) {
	cacheKey := fmt.Sprintf("%s#%t", endpoint, isAuthenticated)
	s.mutex.RLock()
	entry, exists := s.apiCache[cacheKey]
	s.mutex.RUnlock()

	if exists {
		return entry, nil
	}

	if isAuthenticated {
		cacheKeyGuest := fmt.Sprintf("%s#%t", endpoint, false)
		s.mutex.RLock()
		entryGuest, existsGuest := s.apiCache[cacheKeyGuest]
		s.mutex.RUnlock()
		if existsGuest {
			return entryGuest, nil
		}
	}

	// Not in cache; rely on initial load and Pub/Sub updates rather than
	// querying the DB per request. Nil means use the global defaults.
	return nil, nil
}
