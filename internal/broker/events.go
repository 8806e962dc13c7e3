package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes checkout lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishCheckoutEvent publishes a checkout event keyed by its intent
func (ep *EventPublisher) PublishCheckoutEvent(ctx context.Context, event *models.CheckoutEvent) error {
	key := fmt.Sprintf("checkout-%s", event.CheckoutIntentID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler decodes checkout events and routes them to a callback
type EventHandler struct {
	onCheckoutEvent func(context.Context, *models.CheckoutEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnCheckoutEvent registers the handler for every checkout event type
func (eh *EventHandler) OnCheckoutEvent(handler func(context.Context, *models.CheckoutEvent) error) {
	eh.onCheckoutEvent = handler
}

// HandleMessage routes messages to the registered handler
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCheckoutCreated,
		models.EventTypeCheckoutOfferReady,
		models.EventTypeCheckoutConfirmed,
		models.EventTypeCheckoutCompleted,
		models.EventTypeCheckoutFailed,
		models.EventTypeCheckoutCancelled,
		models.EventTypeCheckoutTimedOut:
		if eh.onCheckoutEvent != nil {
			var event models.CheckoutEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal checkout event: %w", err)
			}
			return eh.onCheckoutEvent(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
