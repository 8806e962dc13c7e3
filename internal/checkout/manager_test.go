package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLocker struct {
	mu    sync.Mutex
	held  map[string]string
	calls int
}

func (l *memoryLocker) AcquireLock(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = token
	return true, nil
}

func (l *memoryLocker) ReleaseLock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *memoryLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

type memoryConversation struct {
	mu       sync.Mutex
	messages map[string][]string
}

func (c *memoryConversation) AppendUserText(sessionID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[sessionID] = append(c.messages[sessionID], text)
	return nil
}

func (c *memoryConversation) get(sessionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages[sessionID]...)
}

func newTestManager(api *scriptedAPI) (*Manager, *memoryLocker, *memoryConversation) {
	svc := service.NewCheckoutService(api, nil, nil, service.CheckoutServiceConfig{})
	locker := &memoryLocker{held: map[string]string{}}
	conv := &memoryConversation{messages: map[string][]string{}}
	return NewManager(svc, locker, conv, fastConfig(), time.Minute), locker, conv
}

func TestManagerOneOpenFlowPerSession(t *testing.T) {
	api := &scriptedAPI{
		created: intentIn(models.IntentStateCreated),
		polls:   []*models.CheckoutIntent{intentIn(models.IntentStateCreated)},
	}
	m, locker, _ := newTestManager(api)

	first, err := m.Open(context.Background(), "s1", testProduct())
	require.NoError(t, err)
	assert.True(t, locker.isHeld("checkout:s1"))

	_, err = m.Open(context.Background(), "s1", testProduct())
	assert.ErrorIs(t, err, ErrCheckoutOpen)

	other, err := m.Open(context.Background(), "s2", testProduct())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	require.NoError(t, m.Close(first.ID))
	assert.False(t, locker.isHeld("checkout:s1"))
	_, err = m.Get(first.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	reopened, err := m.Open(context.Background(), "s1", testProduct())
	require.NoError(t, err)
	got, ok := m.ForSession("s1")
	require.True(t, ok)
	assert.Equal(t, reopened.ID, got.ID)

	assert.ErrorIs(t, m.Close("missing"), ErrFlowNotFound)
}

func TestManagerAppendsConfirmationOnCompletion(t *testing.T) {
	api := &scriptedAPI{
		created: offerIn(models.IntentStateAwaitingConfirmation),
		polls:   []*models.CheckoutIntent{offerIn(models.IntentStateCompleted)},
	}
	m, locker, conv := newTestManager(api)

	f, err := m.Open(context.Background(), "s1", testProduct())
	require.NoError(t, err)
	require.NoError(t, f.SubmitBuyer(context.Background(), testBuyer(), 1))
	require.NoError(t, f.Confirm(context.Background(), "tok_visa"))
	snap := waitDone(t, f)
	require.Equal(t, OutcomeCompleted, snap.Outcome)

	require.Eventually(t, func() bool { return !locker.isHeld("checkout:s1") }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"Order placed for Electric Kettle! Checkout Intent ID: ci_1"}, conv.get("s1"))

	// A finished flow no longer blocks a new checkout.
	_, err = m.Open(context.Background(), "s1", testProduct())
	assert.NoError(t, err)
}

func TestManagerRejectsProductWithoutURL(t *testing.T) {
	m, _, _ := newTestManager(&scriptedAPI{})
	p := testProduct()
	p.URL = models.URLNotFound

	_, err := m.Open(context.Background(), "s1", p)
	assert.ErrorIs(t, err, service.ErrValidation)
}

func TestManagerExpiresAbandonedFlows(t *testing.T) {
	api := &scriptedAPI{created: intentIn(models.IntentStateCreated)}
	m, locker, _ := newTestManager(api)
	now := time.Now()
	m.now = func() time.Time { return now }

	abandoned, err := m.Open(context.Background(), "s1", testProduct())
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = m.Open(context.Background(), "s1", testProduct())
	assert.ErrorIs(t, err, ErrCheckoutOpen)

	// The shopper never submitted buyer info and the lock TTL has passed.
	now = now.Add(time.Minute)
	reopened, err := m.Open(context.Background(), "s1", testProduct())
	require.NoError(t, err)
	assert.NotEqual(t, abandoned.ID, reopened.ID)
	assert.True(t, locker.isHeld("checkout:s1"))

	snap := abandoned.Snapshot()
	assert.Equal(t, OutcomeCancelled, snap.Outcome)
	_, err = m.Get(abandoned.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestManagerForgetsFinishedFlows(t *testing.T) {
	api := &scriptedAPI{created: intentIn(models.IntentStateCreated)}
	m, _, _ := newTestManager(api)
	now := time.Now()
	m.now = func() time.Time { return now }

	done, err := m.Open(context.Background(), "s1", testProduct())
	require.NoError(t, err)
	done.Cancel()

	_, err = m.Get(done.ID)
	require.NoError(t, err, "finished flows stay readable for a while")

	now = now.Add(2 * time.Minute)
	_, err = m.Open(context.Background(), "s2", testProduct())
	require.NoError(t, err)
	_, err = m.Get(done.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)
	_, ok := m.ForSession("s1")
	assert.False(t, ok)
}
