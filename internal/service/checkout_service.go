package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrAlreadyConfirmed = errors.New("checkout intent already confirmed")
)

// ValidationError names the request field that failed local validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is makes errors.Is(err, ErrValidation) hold
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IntentClient is the remote checkout-intent API
type IntentClient interface {
	CreateIntent(ctx context.Context, req *models.CreateCheckoutIntentRequest) (*models.CheckoutIntent, error)
	GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error)
	ConfirmIntent(ctx context.Context, id, paymentToken string) (*models.CheckoutIntent, error)
}

// IdempotencyStore claims single-use keys
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// CheckoutEventPublisher publishes checkout lifecycle events
type CheckoutEventPublisher interface {
	PublishCheckoutEvent(ctx context.Context, event *models.CheckoutEvent) error
}

// IntentMeta is local context about an intent that the remote API does not keep
type IntentMeta struct {
	SessionID   string
	ProductName string
}

type cachedIntent struct {
	intent models.CheckoutIntent
	meta   IntentMeta
}

// CheckoutServiceConfig tunes the checkout service
type CheckoutServiceConfig struct {
	CacheSize      int
	CacheTTL       time.Duration
	ConfirmKeyTTL  time.Duration
	PublishTimeout time.Duration
}

// CheckoutService wraps the remote create/get/confirm operations with local
// validation, a short-lived intent cache, confirm idempotency and events.
type CheckoutService struct {
	client    IntentClient
	idem      IdempotencyStore
	publisher CheckoutEventPublisher
	validate  *validator.Validate
	cache     *expirable.LRU[string, cachedIntent]
	cfg       CheckoutServiceConfig
	logger    *zap.Logger

	// used when no IdempotencyStore is configured
	localMu   sync.Mutex
	localKeys map[string]struct{}
}

// NewCheckoutService creates a new checkout service. idem and publisher may be nil.
func NewCheckoutService(client IntentClient, idem IdempotencyStore, publisher CheckoutEventPublisher, cfg CheckoutServiceConfig) *CheckoutService {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Minute
	}
	if cfg.ConfirmKeyTTL <= 0 {
		cfg.ConfirmKeyTTL = 24 * time.Hour
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &CheckoutService{
		client:    client,
		idem:      idem,
		publisher: publisher,
		validate:  v,
		cache:     expirable.NewLRU[string, cachedIntent](cfg.CacheSize, nil, cfg.CacheTTL),
		cfg:       cfg,
		logger:    util.GetLogger(),
		localKeys: make(map[string]struct{}),
	}
}

// ValidateBuyer checks the required buyer fields in their canonical order
func (s *CheckoutService) ValidateBuyer(buyer *models.Buyer) error {
	if buyer == nil {
		return s.invalid("buyer", "Missing required field: buyer")
	}
	if err := s.validate.Struct(buyer); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0].Field()
			return s.invalid(field, "Missing required buyer field: "+field)
		}
		return fmt.Errorf("failed to validate buyer: %w", err)
	}
	return nil
}

// ValidateCreate checks a create request without touching the network
func (s *CheckoutService) ValidateCreate(req *models.CreateCheckoutIntentRequest) error {
	if req == nil || req.Buyer == nil {
		return s.invalid("buyer", "Missing required field: buyer")
	}
	if strings.TrimSpace(req.ProductURL) == "" {
		return s.invalid("productUrl", "Missing required field: productUrl")
	}
	if req.Quantity < 1 {
		return s.invalid("quantity", "Missing required field: quantity")
	}
	return s.ValidateBuyer(req.Buyer)
}

func (s *CheckoutService) invalid(field, msg string) error {
	util.CheckoutValidationFailedTotal.WithLabelValues(field).Inc()
	return &ValidationError{Field: field, Message: msg}
}

// CreateIntent validates and creates a checkout intent
func (s *CheckoutService) CreateIntent(ctx context.Context, req *models.CreateCheckoutIntentRequest, meta IntentMeta) (*models.CheckoutIntent, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateIntent")
	defer span.End()

	if err := s.ValidateCreate(req); err != nil {
		return nil, err
	}

	intent, err := s.client.CreateIntent(ctx, req)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create checkout intent: %w", err)
	}

	s.cache.Add(intent.ID, cachedIntent{intent: *intent, meta: meta})
	s.publish(ctx, models.EventTypeCheckoutCreated, intent, meta)
	if intent.ReadyForPayment() {
		s.publish(ctx, models.EventTypeCheckoutOfferReady, intent, meta)
	}

	s.logger.Info("Checkout intent created",
		zap.String("checkout_intent_id", intent.ID),
		zap.String("state", intent.State),
		zap.String("session_id", meta.SessionID))
	return intent, nil
}

// GetIntent fetches the remote state and refreshes the cache. Lifecycle
// events are published on the first observation of each transition.
func (s *CheckoutService) GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.GetIntent")
	defer span.End()

	if id == "" {
		return nil, s.invalid("checkoutIntentId", "Missing required parameter: checkoutIntentId")
	}

	intent, err := s.client.GetIntent(ctx, id)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to fetch checkout intent: %w", err)
	}

	prev, seen := s.cache.Get(id)
	s.cache.Add(id, cachedIntent{intent: *intent, meta: prev.meta})

	prevReady := seen && prev.intent.ReadyForPayment()
	if intent.ReadyForPayment() && !prevReady {
		s.publish(ctx, models.EventTypeCheckoutOfferReady, intent, prev.meta)
	}
	if !seen || prev.intent.State != intent.State {
		switch intent.State {
		case models.IntentStateCompleted:
			s.publish(ctx, models.EventTypeCheckoutCompleted, intent, prev.meta)
		case models.IntentStateFailed:
			s.publish(ctx, models.EventTypeCheckoutFailed, intent, prev.meta)
		}
	}
	return intent, nil
}

// CachedIntent returns the last fetched copy of an intent
func (s *CheckoutService) CachedIntent(id string) (*models.CheckoutIntent, bool) {
	entry, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	intent := entry.intent
	return &intent, true
}

// ForgetIntent drops the cached copy
func (s *CheckoutService) ForgetIntent(id string) {
	s.cache.Remove(id)
}

// ConfirmIntent submits payment. At most one confirm per intent succeeds; a
// failed attempt frees the intent for a retry with another payment method.
func (s *CheckoutService) ConfirmIntent(ctx context.Context, id, paymentMethodID string) (*models.CheckoutIntent, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ConfirmIntent")
	defer span.End()

	if id == "" {
		return nil, s.invalid("checkoutIntentId", "Missing required field: checkoutIntentId")
	}
	if paymentMethodID == "" {
		return nil, s.invalid("paymentMethodId", "Missing required field: paymentMethodId")
	}

	key := "confirm:" + id
	claimed, err := s.claim(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to claim confirm key: %w", err)
	}
	if !claimed {
		s.logger.Warn("Duplicate confirm rejected", zap.String("checkout_intent_id", id))
		return nil, ErrAlreadyConfirmed
	}

	intent, err := s.client.ConfirmIntent(ctx, id, paymentMethodID)
	if err != nil {
		util.RecordError(span, err)
		if relErr := s.release(ctx, key); relErr != nil {
			s.logger.Error("Failed to release confirm key",
				zap.String("checkout_intent_id", id),
				zap.Error(relErr))
		}
		return nil, fmt.Errorf("failed to confirm checkout intent: %w", err)
	}

	prev, _ := s.cache.Get(id)
	s.cache.Add(id, cachedIntent{intent: *intent, meta: prev.meta})
	s.publish(ctx, models.EventTypeCheckoutConfirmed, intent, prev.meta)

	s.logger.Info("Checkout intent confirmed",
		zap.String("checkout_intent_id", id),
		zap.String("state", intent.State))
	return intent, nil
}

// RecordOutcome publishes a locally decided outcome (cancelled, timed out)
// for an intent.
func (s *CheckoutService) RecordOutcome(ctx context.Context, eventType, id, reason string) {
	entry, ok := s.cache.Get(id)
	intent := &models.CheckoutIntent{ID: id}
	if ok {
		intent = &entry.intent
	}
	event := models.NewCheckoutEvent(eventType, intent)
	event.SessionID = entry.meta.SessionID
	event.ProductName = entry.meta.ProductName
	event.Reason = reason
	s.send(ctx, event)
}

func (s *CheckoutService) publish(ctx context.Context, eventType string, intent *models.CheckoutIntent, meta IntentMeta) {
	event := models.NewCheckoutEvent(eventType, intent)
	event.SessionID = meta.SessionID
	event.ProductName = meta.ProductName
	s.send(ctx, event)
}

func (s *CheckoutService) send(ctx context.Context, event *models.CheckoutEvent) {
	util.CheckoutEventsTotal.WithLabelValues(event.EventType).Inc()
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()
	if err := s.publisher.PublishCheckoutEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish checkout event",
			zap.String("event_type", event.EventType),
			zap.String("checkout_intent_id", event.CheckoutIntentID),
			zap.Error(err))
	}
}

func (s *CheckoutService) claim(ctx context.Context, key string) (bool, error) {
	if s.idem != nil {
		return s.idem.ClaimIdempotencyKey(ctx, key, time.Now().Unix(), s.cfg.ConfirmKeyTTL)
	}
	s.localMu.Lock()
	defer s.localMu.Unlock()
	if _, taken := s.localKeys[key]; taken {
		return false, nil
	}
	s.localKeys[key] = struct{}{}
	return true, nil
}

func (s *CheckoutService) release(ctx context.Context, key string) error {
	if s.idem != nil {
		return s.idem.ReleaseIdempotencyKey(ctx, key)
	}
	s.localMu.Lock()
	delete(s.localKeys, key)
	s.localMu.Unlock()
	return nil
}
