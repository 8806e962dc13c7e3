package worker

import (
	"context"

	"shopping-assistant/internal/broker"
	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"go.uber.org/zap"
)

// Ledger applies checkout events to durable storage
type Ledger interface {
	ApplyCheckoutEvent(ctx context.Context, event *models.CheckoutEvent) (bool, error)
}

// MessageSource delivers raw broker messages to a handler until ctx is done
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// CheckoutLedgerWorker records checkout events into the ledger
type CheckoutLedgerWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	ledger       Ledger
	logger       *zap.Logger
}

// NewCheckoutLedgerWorker creates a new ledger worker
func NewCheckoutLedgerWorker(consumer MessageSource, ledger Ledger) *CheckoutLedgerWorker {
	w := &CheckoutLedgerWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		ledger:       ledger,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnCheckoutEvent(w.HandleCheckoutEvent)
	return w
}

// HandleCheckoutEvent applies one event. Redelivered events are skipped.
func (w *CheckoutLedgerWorker) HandleCheckoutEvent(ctx context.Context, event *models.CheckoutEvent) error {
	ctx, span := util.StartSpan(ctx, "CheckoutLedgerWorker.HandleCheckoutEvent")
	defer span.End()

	applied, err := w.ledger.ApplyCheckoutEvent(ctx, event)
	if err != nil {
		util.RecordError(span, err)
		w.logger.Error("Failed to record checkout event",
			zap.String("event_id", event.EventID),
			zap.String("checkout_intent_id", event.CheckoutIntentID),
			zap.Error(err))
		return err
	}

	if !applied {
		w.logger.Debug("Event already processed, skipping", zap.String("event_id", event.EventID))
		return nil
	}

	w.logger.Info("Recorded checkout event",
		zap.String("event_type", event.EventType),
		zap.String("checkout_intent_id", event.CheckoutIntentID))
	return nil
}

// Start starts the worker
func (w *CheckoutLedgerWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting checkout ledger worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CheckoutLedgerWorker) Stop() error {
	w.logger.Info("Stopping checkout ledger worker...")
	return w.consumer.Close()
}
