package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeCheckoutCreated    = "CHECKOUT_CREATED"
	EventTypeCheckoutOfferReady = "CHECKOUT_OFFER_READY"
	EventTypeCheckoutConfirmed  = "CHECKOUT_CONFIRMED"
	EventTypeCheckoutCompleted  = "CHECKOUT_COMPLETED"
	EventTypeCheckoutFailed     = "CHECKOUT_FAILED"
	EventTypeCheckoutCancelled  = "CHECKOUT_CANCELLED"
	EventTypeCheckoutTimedOut   = "CHECKOUT_TIMED_OUT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutEvent is published on every checkout lifecycle transition
type CheckoutEvent struct {
	BaseEvent
	CheckoutIntentID string `json:"checkout_intent_id"`
	SessionID        string `json:"session_id,omitempty"`
	ProductURL       string `json:"product_url,omitempty"`
	ProductName      string `json:"product_name,omitempty"`
	Quantity         int    `json:"quantity,omitempty"`
	State            string `json:"state,omitempty"`
	TotalSubunits    int64  `json:"total_subunits,omitempty"`
	CurrencyCode     string `json:"currency_code,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// NewCheckoutEvent builds an event of the given type from the intent
func NewCheckoutEvent(eventType string, intent *CheckoutIntent) *CheckoutEvent {
	event := &CheckoutEvent{
		BaseEvent: BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
	}
	if intent != nil {
		event.CheckoutIntentID = intent.ID
		event.ProductURL = intent.ProductURL
		event.Quantity = intent.Quantity
		event.State = intent.State
		event.Reason = intent.FailureReason
		if intent.Offer != nil {
			event.TotalSubunits = intent.Offer.Cost.Total.AmountSubunits
			event.CurrencyCode = intent.Offer.Cost.Total.CurrencyCode
		}
	}
	return event
}
