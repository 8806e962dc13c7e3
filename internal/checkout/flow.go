package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/service"
	"shopping-assistant/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Step is where the shopper is in the checkout
type Step string

const (
	StepBuyerInfo Step = "buyer-info"
	StepPricing   Step = "pricing"
	StepPayment   Step = "payment"
	StepPlacing   Step = "placing"
	StepDone      Step = "done"
)

// Outcome is how a finished flow ended
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeCancelled Outcome = "cancelled"
)

var (
	ErrFlowClosed = errors.New("checkout flow is closed")
	ErrWrongStep  = errors.New("operation not allowed at the current checkout step")
)

// Shopper-facing notices
const (
	noticeOrderPlaced   = "Order placed successfully! You will receive a confirmation email shortly."
	noticeOfferTimeout  = "We couldn't get pricing for this item. Please try again later."
	noticeSettleTimeout = "We couldn't confirm your order yet. Check your email for a confirmation before trying again."
	noticePaymentFailed = "Payment failed. Please try another payment method."
	noticeCreateFailed  = "Failed to create checkout intent"
)

// IntentAPI is the create/get/confirm surface a flow drives
type IntentAPI interface {
	CreateIntent(ctx context.Context, req *models.CreateCheckoutIntentRequest) (*models.CheckoutIntent, error)
	GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error)
	ConfirmIntent(ctx context.Context, id, paymentMethodID string) (*models.CheckoutIntent, error)
}

// FlowConfig holds the polling budgets
type FlowConfig struct {
	Offer  RetryPolicy
	Settle RetryPolicy
}

// DefaultFlowConfig polls for an offer every 2s and for settlement every 1s
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		Offer:  RetryPolicy{Interval: 2 * time.Second, MaxAttempts: 90},
		Settle: RetryPolicy{Interval: time.Second, MaxAttempts: 300},
	}
}

// Hooks are called outside the flow lock
type Hooks struct {
	// OnComplete runs exactly once, when the order completes
	OnComplete func(f *Flow, intent *models.CheckoutIntent)
	// OnFinish runs exactly once, when the flow reaches StepDone for any reason
	OnFinish func(f *Flow, outcome Outcome)
}

// Snapshot is a point-in-time copy of a flow's state
type Snapshot struct {
	ID        string                 `json:"flowId"`
	SessionID string                 `json:"sessionId,omitempty"`
	Product   models.Product         `json:"product"`
	Step      Step                   `json:"step"`
	Outcome   Outcome                `json:"outcome,omitempty"`
	Notice    string                 `json:"notice,omitempty"`
	LastError string                 `json:"lastError,omitempty"`
	Intent    *models.CheckoutIntent `json:"checkoutIntent,omitempty"`
	Closed    bool                   `json:"closed"`
}

// Flow is the state of one checkout. All state is scoped to the flow; late
// poll results after Cancel are dropped.
type Flow struct {
	ID        string
	SessionID string
	Product   models.Product

	api   IntentAPI
	cfg   FlowConfig
	hooks Hooks

	mu         sync.Mutex
	step       Step
	outcome    Outcome
	notice     string
	lastErr    string
	intent     *models.CheckoutIntent
	confirming bool
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewFlow creates a flow on the buyer-info step
func NewFlow(api IntentAPI, sessionID string, product models.Product, cfg FlowConfig, hooks Hooks) *Flow {
	ctx, cancel := context.WithCancel(context.Background())
	return &Flow{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Product:   product,
		api:       api,
		cfg:       cfg,
		hooks:     hooks,
		step:      StepBuyerInfo,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    util.GetLogger().With(zap.String("session_id", sessionID)),
	}
}

// Done is closed once the flow reaches StepDone
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the flow finishes or ctx ends
func (f *Flow) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-f.done:
		return f.Snapshot(), nil
	case <-ctx.Done():
		return f.Snapshot(), ctx.Err()
	}
}

// Snapshot returns a copy of the flow's state
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{
		ID:        f.ID,
		SessionID: f.SessionID,
		Product:   f.Product.Clone(),
		Step:      f.step,
		Outcome:   f.outcome,
		Notice:    f.notice,
		LastError: f.lastErr,
		Closed:    f.closed,
	}
	if f.intent != nil {
		intent := *f.intent
		s.Intent = &intent
	}
	return s
}

// SubmitBuyer creates the checkout intent. Validation and create failures
// keep the flow on buyer-info so the shopper can correct and resubmit.
func (f *Flow) SubmitBuyer(ctx context.Context, buyer models.Buyer, quantity int) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.step != StepBuyerInfo {
		f.mu.Unlock()
		return fmt.Errorf("%w: submit buyer at %s", ErrWrongStep, f.step)
	}
	if quantity < 1 {
		quantity = 1
	}
	f.step = StepPricing
	f.lastErr = ""
	f.mu.Unlock()

	intent, err := f.api.CreateIntent(ctx, &models.CreateCheckoutIntentRequest{
		Buyer:      &buyer,
		Quantity:   quantity,
		ProductURL: f.Product.URL,
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFlowClosed
	}
	if err != nil {
		f.step = StepBuyerInfo
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			f.lastErr = verr.Message
		} else {
			f.lastErr = noticeCreateFailed
		}
		f.logger.Warn("Checkout intent creation failed", zap.String("flow_id", f.ID), zap.Error(err))
		return err
	}

	f.intent = intent
	f.logger.Info("Checkout intent created",
		zap.String("flow_id", f.ID),
		zap.String("checkout_intent_id", intent.ID),
		zap.String("state", intent.State))

	if intent.ReadyForPayment() {
		f.enterPaymentLocked(intent)
		return nil
	}
	f.startPoll(ctx, PhaseOffer, intent.ID, f.cfg.Offer, offerSettled, f.onOfferPolled)
	return nil
}

// Confirm submits the tokenized payment method. Only one confirm may be in
// flight or succeed per flow; on failure the flow stays on payment.
func (f *Flow) Confirm(ctx context.Context, paymentMethodID string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.confirming || f.step == StepPlacing {
		f.mu.Unlock()
		return service.ErrAlreadyConfirmed
	}
	if f.step != StepPayment {
		f.mu.Unlock()
		return fmt.Errorf("%w: confirm at %s", ErrWrongStep, f.step)
	}
	f.confirming = true
	f.lastErr = ""
	intentID := f.intent.ID
	f.mu.Unlock()

	intent, err := f.api.ConfirmIntent(ctx, intentID, paymentMethodID)

	f.mu.Lock()
	f.confirming = false
	if f.closed {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if err != nil {
		f.lastErr = noticePaymentFailed
		f.mu.Unlock()
		f.logger.Warn("Checkout confirm failed",
			zap.String("flow_id", f.ID),
			zap.String("checkout_intent_id", intentID),
			zap.Error(err))
		return err
	}

	f.intent = intent
	f.step = StepPlacing
	if !intent.Settled() {
		f.startPoll(ctx, PhaseSettle, intentID, f.cfg.Settle, (*models.CheckoutIntent).Settled, f.onSettlePolled)
		f.mu.Unlock()
		return nil
	}

	f.settleLocked(intent)
	outcome := f.outcome
	f.mu.Unlock()
	if outcome == OutcomeCompleted {
		f.runFinishHooks(outcome, intent)
	} else {
		f.runFinishHooks(outcome, nil)
	}
	return nil
}

// Cancel stops polling, waits for running polls to return and closes the
// flow. The remote intent is left as is. It must not be called from a hook.
func (f *Flow) Cancel() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	finished := f.step != StepDone
	if finished {
		f.step = StepDone
		f.outcome = OutcomeCancelled
		close(f.done)
	}
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()
	if finished && f.hooks.OnFinish != nil {
		f.hooks.OnFinish(f, OutcomeCancelled)
	}
}

func offerSettled(intent *models.CheckoutIntent) bool {
	return intent.ReadyForPayment() || intent.State == models.IntentStateFailed
}

// startPoll must be called with f.mu held. The poll keeps the request
// context's values, such as the shopper IP, but ends with the flow.
func (f *Flow) startPoll(parent context.Context, phase, intentID string, policy RetryPolicy, done func(*models.CheckoutIntent) bool, finish func(*models.CheckoutIntent, error)) {
	p := Poller{
		Policy: policy,
		Phase:  phase,
		Fetch: func(ctx context.Context) (*models.CheckoutIntent, error) {
			return f.api.GetIntent(ctx, intentID)
		},
		Done: done,
		OnResult: func(intent *models.CheckoutIntent) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if !f.closed && f.step != StepDone {
				f.intent = intent
			}
		},
	}

	ctx, stop := context.WithCancel(context.WithoutCancel(parent))
	unlink := context.AfterFunc(f.ctx, stop)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer stop()
		defer unlink()
		intent, err := p.Run(ctx)
		finish(intent, err)
	}()
}

func (f *Flow) onOfferPolled(intent *models.CheckoutIntent, err error) {
	f.mu.Lock()
	if f.closed || f.step != StepPricing {
		f.mu.Unlock()
		return
	}
	switch {
	case errors.Is(err, ErrPollTimeout):
		f.finishLocked(OutcomeUnknown, noticeOfferTimeout)
	case err != nil:
		f.mu.Unlock()
		return
	case intent.State == models.IntentStateFailed:
		f.intent = intent
		f.finishLocked(OutcomeFailed, failureNotice(intent))
	default:
		f.enterPaymentLocked(intent)
		f.mu.Unlock()
		return
	}
	outcome := f.outcome
	f.mu.Unlock()
	f.runFinishHooks(outcome, nil)
}

func (f *Flow) onSettlePolled(intent *models.CheckoutIntent, err error) {
	f.mu.Lock()
	if f.closed || f.step != StepPlacing {
		f.mu.Unlock()
		return
	}
	switch {
	case errors.Is(err, ErrPollTimeout):
		f.finishLocked(OutcomeUnknown, noticeSettleTimeout)
	case err != nil:
		f.mu.Unlock()
		return
	default:
		f.settleLocked(intent)
	}
	outcome := f.outcome
	var completed *models.CheckoutIntent
	if outcome == OutcomeCompleted {
		completed = f.intent
	}
	f.mu.Unlock()
	f.runFinishHooks(outcome, completed)
}

// enterPaymentLocked is the single pricing -> payment transition
func (f *Flow) enterPaymentLocked(intent *models.CheckoutIntent) {
	if f.step != StepPricing {
		return
	}
	f.intent = intent
	f.step = StepPayment
	f.logger.Info("Checkout offer ready",
		zap.String("flow_id", f.ID),
		zap.String("checkout_intent_id", intent.ID),
		zap.Int64("total_subunits", intent.Offer.Cost.Total.AmountSubunits))
}

func (f *Flow) settleLocked(intent *models.CheckoutIntent) {
	f.intent = intent
	if intent.State == models.IntentStateCompleted {
		f.finishLocked(OutcomeCompleted, noticeOrderPlaced)
		return
	}
	f.finishLocked(OutcomeFailed, failureNotice(intent))
}

func (f *Flow) finishLocked(outcome Outcome, notice string) {
	if f.step == StepDone {
		return
	}
	f.step = StepDone
	f.outcome = outcome
	f.notice = notice
	close(f.done)
	f.logger.Info("Checkout flow finished",
		zap.String("flow_id", f.ID),
		zap.String("outcome", string(outcome)))
}

func (f *Flow) runFinishHooks(outcome Outcome, completed *models.CheckoutIntent) {
	if completed != nil && f.hooks.OnComplete != nil {
		f.hooks.OnComplete(f, completed)
	}
	if f.hooks.OnFinish != nil {
		f.hooks.OnFinish(f, outcome)
	}
}

func failureNotice(intent *models.CheckoutIntent) string {
	if intent.FailureReason != "" {
		return "Order failed: " + intent.FailureReason
	}
	return "Order failed."
}

// CompletionMessage is the conversation message recorded for a placed order
func CompletionMessage(productName, intentID string) string {
	return fmt.Sprintf("Order placed for %s! Checkout Intent ID: %s", productName, intentID)
}
