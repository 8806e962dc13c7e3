package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookCounter struct {
	mu        sync.Mutex
	completed []string
	finished  []Outcome
}

func (h *hookCounter) hooks() Hooks {
	return Hooks{
		OnComplete: func(f *Flow, intent *models.CheckoutIntent) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.completed = append(h.completed, CompletionMessage(f.Product.Name, intent.ID))
		},
		OnFinish: func(_ *Flow, o Outcome) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.finished = append(h.finished, o)
		},
	}
}

func waitForStep(t *testing.T, f *Flow, step Step) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = f.Snapshot()
		return snap.Step == step
	}, 2*time.Second, time.Millisecond)
	return snap
}

func waitDone(t *testing.T, f *Flow) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := f.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestFlowCompletesAndRecordsOneMessage(t *testing.T) {
	api := &scriptedAPI{
		created: intentIn(models.IntentStateCreated),
		polls: []*models.CheckoutIntent{
			intentIn(models.IntentStateCreated),
			offerIn(models.IntentStateAwaitingConfirmation),
			offerIn(models.IntentStatePlacingOrder),
			offerIn(models.IntentStatePlacingOrder),
			offerIn(models.IntentStateCompleted),
		},
	}
	hooks := &hookCounter{}
	f := NewFlow(api, "s1", testProduct(), fastConfig(), hooks.hooks())

	require.NoError(t, f.SubmitBuyer(context.Background(), testBuyer(), 1))
	snap := waitForStep(t, f, StepPayment)
	assert.Equal(t, int64(4599), snap.Intent.Offer.Cost.Total.AmountSubunits)

	require.NoError(t, f.Confirm(context.Background(), "tok_visa"))
	snap = waitDone(t, f)

	assert.Equal(t, OutcomeCompleted, snap.Outcome)
	assert.Equal(t, noticeOrderPlaced, snap.Notice)
	assert.Equal(t, []string{"Order placed for Electric Kettle! Checkout Intent ID: ci_1"}, hooks.completed)
	assert.Equal(t, []Outcome{OutcomeCompleted}, hooks.finished)
	assert.False(t, api.overlapped)
}

func TestFlowEntersPaymentExactlyOnce(t *testing.T) {
	api := &scriptedAPI{
		created: intentIn(models.IntentStateCreated),
		polls: []*models.CheckoutIntent{
			intentIn(models.IntentStateCreated),
			intentIn(models.IntentStateCreated),
			intentIn(models.IntentStateAwaitingConfirmation),
			offerIn(models.IntentStateAwaitingConfirmation),
			offerIn(models.IntentStateAwaitingConfirmation),
		},
	}
	var transitions int32
	var mu sync.Mutex
	last := StepBuyerInfo
	f := NewFlow(api, "s1", testProduct(), fastConfig(), Hooks{})

	require.NoError(t, f.SubmitBuyer(context.Background(), testBuyer(), 1))
	require.Eventually(t, func() bool {
		step := f.Snapshot().Step
		mu.Lock()
		defer mu.Unlock()
		if step == StepPayment && last != StepPayment {
			atomic.AddInt32(&transitions, 1)
		}
		last = step
		return step == StepPayment
	}, 2*time.Second, time.Millisecond)

	// Polling stopped on the first ready response.
	assert.Equal(t, 4, api.getCount())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 4, api.getCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&transitions))
}

func TestFlowFastPathSkipsOfferPoll(t *testing.T) {
	api := &scriptedAPI{
		created: offerIn(models.IntentStateAwaitingConfirmation),
		polls:   []*models.CheckoutIntent{offerIn(models.IntentStateCompleted)},
	}
	f := NewFlow(api, "s1", testProduct(), fastConfig(), Hooks{})

	require.NoError(t, f.SubmitBuyer(context.Background(), testBuyer(), 2))
	assert.Equal(t, StepPayment, f.Snapshot().Step)
	assert.Zero(t, api.getCount())
}

func TestFlowFailedSettlementRecordsNoMessage(t *testing.T) {
	failed := offerIn(models.IntentStateFailed)
	failed.FailureReason = "out of stock"
	api := &scriptedAPI{
		created: offerIn(models.IntentStateAwaitingConfirmation),
		polls:   []*models.CheckoutIntent{offerIn(models.IntentStatePlacingOrder), failed},
	}
	hooks := &hookCounter{}
	f := NewFlow(api, "s1", testProduct(), fastConfig(), hooks.hooks())

	require.NoError(t, f.SubmitBuyer(context.Background(), testBuyer(), 1))
	require.NoError(t, f.Confirm(context.Background(), "tok_visa"))
	snap := waitDone(t, f)

	assert.Equal(t, OutcomeFailed, snap.Outcome)
	assert.Equal(t, "Order failed: out of stock", snap.Notice)
	assert.Empty(t, hooks.completed)
	assert.Equal(t, []Outcome{OutcomeFailed}, hooks.finished)
}

func TestFlowSettlementTimeoutIsUnknown(t *testing.T) {
	api := &scriptedAPI{
		created: offerIn(models.IntentStateAwaitingConfirmation),
		polls:   []*models.CheckoutIntent{offerIn(models.IntentStatePlacingOrder)},
	}
	cfg := fastConfig()
	cfg.Settle.MaxAttempts = 3
	hooks := &hookCounter{}
	f := NewFlow(api, "s1", testProduct(), cfg, hooks.hooks())

	require.NoError(t, f.SubmitBuyer(context.Background(), testBuyer(), 1))
	require.NoError(t, f.Confirm(context.Background(), "tok_visa"))
	snap := waitDone(t, f)

	assert.Equal(t, OutcomeUnknown, snap.Outcome)
	assert.Equal(t, noticeSettleTimeout, snap.Notice)
	assert.Equal(t, 3, api.getCount())
	assert.Empty(t, hooks.completed)
}

func TestFlowOfferTimeoutIsUnknown(t *testing.T) {
	api := &scriptedAPI{
		created: intentIn(models.IntentStateCreated),
		polls:   []*models.CheckoutIntent{intentIn(models.IntentStateCreated)},
	}
	cfg := fastConfig()
	cfg.Offer.MaxAttempts = 2
	f := NewFlow(api, "s1", testProduct(), cfg, Hooks{})

	require.NoError(t, f.SubmitBuyer(context.Background(), testBuyer(), 1))
	snap := waitDone(t, f)
	assert.Equal(t, OutcomeUnknown, snap.Outcome)
	assert.Equal(t, noticeOfferTimeout, snap.Notice)
}

func TestFlowConfirmErrorStaysOnPayment(t *testing.T) {
	api := &scriptedAPI{
		created:     offerIn(models.IntentStateAwaitingConfirmation),
		polls:       []*models.CheckoutIntent{offerIn(models.IntentStateCompleted)},
		confirmErrs: []error{errDeclined},
	}
	cfg := fastConfig()
	cfg.Settle.Interval = 50 * time.Millisecond
	hooks := &hookCounter{}
	f := NewFlow(api, "s1", testProduct(), cfg, hooks.hooks())
	require.NoError(t, f.SubmitBuyer(context.Background(), testBuyer(), 1))

	err := f.Confirm(context.Background(), "tok_declined")
	require.ErrorIs(t, err, errDeclined)
	snap := f.Snapshot()
	assert.Equal(t, StepPayment, snap.Step)
	assert.Equal(t, noticePaymentFailed, snap.LastError)

	require.NoError(t, f.Confirm(context.Background(), "tok_visa"))
	assert.ErrorIs(t, f.Confirm(context.Background(), "tok_visa"), service.ErrAlreadyConfirmed)

	snap = waitDone(t, f)
	assert.Equal(t, OutcomeCompleted, snap.Outcome)
	assert.Equal(t, 2, api.confirms)
	assert.Len(t, hooks.completed, 1)
}

func TestFlowConfirmOutsidePaymentStep(t *testing.T) {
	api := &scriptedAPI{created: intentIn(models.IntentStateCreated), polls: []*models.CheckoutIntent{intentIn(models.IntentStateCreated)}}
	f := NewFlow(api, "s1", testProduct(), fastConfig(), Hooks{})

	assert.ErrorIs(t, f.Confirm(context.Background(), "tok"), ErrWrongStep)
	assert.Zero(t, api.confirms)
	f.Cancel()
}

func TestFlowCreateErrorStaysOnBuyerInfo(t *testing.T) {
	api := &scriptedAPI{createErr: &service.ValidationError{Field: "email", Message: "Missing required buyer field: email"}}
	f := NewFlow(api, "s1", testProduct(), fastConfig(), Hooks{})

	buyer := testBuyer()
	buyer.Email = ""
	err := f.SubmitBuyer(context.Background(), buyer, 1)
	require.ErrorIs(t, err, service.ErrValidation)

	snap := f.Snapshot()
	assert.Equal(t, StepBuyerInfo, snap.Step)
	assert.Equal(t, "Missing required buyer field: email", snap.LastError)
}

func TestCancelledFlowIgnoresLatePollResults(t *testing.T) {
	api := &scriptedAPI{
		created: intentIn(models.IntentStateCreated),
		polls:   []*models.CheckoutIntent{offerIn(models.IntentStateAwaitingConfirmation)},
		block:   make(chan struct{}),
	}
	hooks := &hookCounter{}
	f := NewFlow(api, "s1", testProduct(), fastConfig(), hooks.hooks())

	require.NoError(t, f.SubmitBuyer(context.Background(), testBuyer(), 1))
	require.Eventually(t, func() bool { return api.getCount() == 1 }, time.Second, time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(api.block)
	}()
	f.Cancel()
	api.mu.Lock()
	assert.Zero(t, api.inFlight)
	api.mu.Unlock()

	snap := f.Snapshot()
	assert.Equal(t, StepDone, snap.Step)
	assert.Equal(t, OutcomeCancelled, snap.Outcome)
	assert.True(t, snap.Closed)
	assert.Equal(t, models.IntentStateCreated, snap.Intent.State)
	assert.Equal(t, []Outcome{OutcomeCancelled}, hooks.finished)

	assert.ErrorIs(t, f.SubmitBuyer(context.Background(), testBuyer(), 1), ErrFlowClosed)
	f.Cancel()
	assert.Len(t, hooks.finished, 1)
}

func TestPollsKeepRequestValuesButEndWithFlow(t *testing.T) {
	api := &scriptedAPI{
		created: intentIn(models.IntentStateCreated),
		polls:   []*models.CheckoutIntent{intentIn(models.IntentStateCreated)},
	}
	f := NewFlow(api, "s1", testProduct(), fastConfig(), Hooks{})

	reqCtx, endRequest := context.WithCancel(context.WithValue(context.Background(), requestKey{}, "203.0.113.7"))
	require.NoError(t, f.SubmitBuyer(reqCtx, testBuyer(), 1))
	endRequest()

	require.Eventually(t, func() bool { return api.getCount() >= 3 }, time.Second, time.Millisecond)
	f.Cancel()

	api.mu.Lock()
	defer api.mu.Unlock()
	for _, v := range api.pollValues {
		assert.Equal(t, "203.0.113.7", v)
	}
	assert.Equal(t, StepDone, f.Snapshot().Step)
}
