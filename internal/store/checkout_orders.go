package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shopping-assistant/internal/models"

	"github.com/jmoiron/sqlx"
)

// Ledger states for outcomes decided locally rather than by the commerce API
const (
	LedgerStateCancelled = "cancelled"
	LedgerStateUnknown   = "unknown"
)

const upsertCheckoutOrderSQL = `
INSERT INTO checkout_orders
    (checkout_intent_id, session_id, product_url, product_name, quantity, state, total_subunits, currency_code, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (checkout_intent_id) DO UPDATE SET
    session_id     = COALESCE(NULLIF(EXCLUDED.session_id, ''), checkout_orders.session_id),
    product_url    = COALESCE(NULLIF(EXCLUDED.product_url, ''), checkout_orders.product_url),
    product_name   = COALESCE(NULLIF(EXCLUDED.product_name, ''), checkout_orders.product_name),
    quantity       = COALESCE(NULLIF(EXCLUDED.quantity, 0), checkout_orders.quantity),
    state          = EXCLUDED.state,
    total_subunits = COALESCE(NULLIF(EXCLUDED.total_subunits, 0), checkout_orders.total_subunits),
    currency_code  = COALESCE(NULLIF(EXCLUDED.currency_code, ''), checkout_orders.currency_code),
    reason         = EXCLUDED.reason,
    updated_at     = NOW()`

// upsertCheckoutOrder inserts or updates a ledger row. Empty fields never
// overwrite known values.
func upsertCheckoutOrder(ctx context.Context, exec sqlx.ExecerContext, o *models.CheckoutOrder) error {
	_, err := exec.ExecContext(ctx, upsertCheckoutOrderSQL,
		o.CheckoutIntentID, o.SessionID, o.ProductURL, o.ProductName, o.Quantity,
		o.State, o.TotalSubunits, o.CurrencyCode, o.Reason)
	return err
}

// GetCheckoutOrder returns one ledger row, or nil when absent
func (s *Store) GetCheckoutOrder(ctx context.Context, intentID string) (*models.CheckoutOrder, error) {
	var order models.CheckoutOrder
	err := s.db.GetContext(ctx, &order, "SELECT * FROM checkout_orders WHERE checkout_intent_id = $1", intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetCheckoutOrdersBySession lists a session's checkouts, newest first
func (s *Store) GetCheckoutOrdersBySession(ctx context.Context, sessionID string) ([]models.CheckoutOrder, error) {
	var orders []models.CheckoutOrder
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM checkout_orders WHERE session_id = $1 ORDER BY created_at DESC", sessionID)
	return orders, err
}

// ApplyCheckoutEvent folds one event into the ledger exactly once. It
// reports false when the event had already been applied.
func (s *Store) ApplyCheckoutEvent(ctx context.Context, event *models.CheckoutEvent) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", event.EventID); err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	if exists {
		return false, nil
	}

	order := &models.CheckoutOrder{
		CheckoutIntentID: event.CheckoutIntentID,
		SessionID:        event.SessionID,
		ProductURL:       event.ProductURL,
		ProductName:      event.ProductName,
		Quantity:         event.Quantity,
		State:            LedgerState(event),
		TotalSubunits:    event.TotalSubunits,
		CurrencyCode:     event.CurrencyCode,
		Reason:           event.Reason,
	}
	if err := upsertCheckoutOrder(ctx, tx, order); err != nil {
		return false, fmt.Errorf("failed to upsert checkout order: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		event.EventID, event.EventType); err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// LedgerState is the row state recorded for an event
func LedgerState(event *models.CheckoutEvent) string {
	switch event.EventType {
	case models.EventTypeCheckoutCancelled:
		return LedgerStateCancelled
	case models.EventTypeCheckoutTimedOut:
		return LedgerStateUnknown
	}
	if event.State != "" {
		return event.State
	}
	switch event.EventType {
	case models.EventTypeCheckoutCompleted:
		return models.IntentStateCompleted
	case models.EventTypeCheckoutFailed:
		return models.IntentStateFailed
	case models.EventTypeCheckoutConfirmed:
		return models.IntentStatePlacingOrder
	case models.EventTypeCheckoutOfferReady:
		return models.IntentStateAwaitingConfirmation
	default:
		return models.IntentStateCreated
	}
}
