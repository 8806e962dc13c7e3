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

var (
	ErrCheckoutOpen = errors.New("a checkout is already open for this session")
	ErrFlowNotFound = errors.New("checkout flow not found")
)

// Locker is a distributed lock keyed by name and owned by a token
type Locker interface {
	AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// ConversationLog records messages into a chat session
type ConversationLog interface {
	AppendUserText(sessionID, text string) error
}

// serviceAPI binds the checkout service to one flow's session and product
type serviceAPI struct {
	svc  *service.CheckoutService
	meta service.IntentMeta
}

func (a serviceAPI) CreateIntent(ctx context.Context, req *models.CreateCheckoutIntentRequest) (*models.CheckoutIntent, error) {
	return a.svc.CreateIntent(ctx, req, a.meta)
}

func (a serviceAPI) GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error) {
	return a.svc.GetIntent(ctx, id)
}

func (a serviceAPI) ConfirmIntent(ctx context.Context, id, paymentMethodID string) (*models.CheckoutIntent, error) {
	return a.svc.ConfirmIntent(ctx, id, paymentMethodID)
}

// Manager owns the server-driven flows. Each session has at most one open
// flow; flows of different sessions are independent. A flow left unfinished
// for longer than the lock TTL is cancelled, and a finished one is forgotten
// after the same period.
type Manager struct {
	svc     *service.CheckoutService
	locker  Locker
	conv    ConversationLog
	cfg     FlowConfig
	lockTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	flows     map[string]*managedFlow
	bySession map[string]string
	logger    *zap.Logger
}

type managedFlow struct {
	flow     *Flow
	opened   time.Time
	finished time.Time
}

// NewManager creates a new checkout manager. locker and conv may be nil.
func NewManager(svc *service.CheckoutService, locker Locker, conv ConversationLog, cfg FlowConfig, lockTTL time.Duration) *Manager {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Manager{
		svc:       svc,
		locker:    locker,
		conv:      conv,
		cfg:       cfg,
		lockTTL:   lockTTL,
		now:       time.Now,
		flows:     make(map[string]*managedFlow),
		bySession: make(map[string]string),
		logger:    util.GetLogger(),
	}
}

func lockKey(sessionID string) string {
	return "checkout:" + sessionID
}

// Open starts a checkout for product in a session
func (m *Manager) Open(ctx context.Context, sessionID string, product models.Product) (*Flow, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutManager.Open")
	defer span.End()

	if product.URL == "" || product.URL == models.URLNotFound {
		return nil, &service.ValidationError{Field: "productUrl", Message: "Missing required field: productUrl"}
	}

	m.sweep()

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.bySession[sessionID]; ok && !isDone(m.flows[id].flow) {
		return nil, ErrCheckoutOpen
	}

	token := uuid.New().String()
	if m.locker != nil {
		ok, err := m.locker.AcquireLock(ctx, lockKey(sessionID), token, m.lockTTL)
		if err != nil {
			util.RecordError(span, err)
			return nil, fmt.Errorf("failed to acquire checkout lock: %w", err)
		}
		if !ok {
			return nil, ErrCheckoutOpen
		}
	}

	api := serviceAPI{svc: m.svc, meta: service.IntentMeta{SessionID: sessionID, ProductName: product.Name}}
	flow := NewFlow(api, sessionID, product, m.cfg, Hooks{
		OnComplete: m.onComplete,
		OnFinish: func(f *Flow, outcome Outcome) {
			m.onFinish(f, outcome, token)
		},
	})

	if prev, ok := m.bySession[sessionID]; ok {
		delete(m.flows, prev)
	}
	m.flows[flow.ID] = &managedFlow{flow: flow, opened: m.now()}
	m.bySession[sessionID] = flow.ID
	util.OpenCheckoutFlows.Inc()

	m.logger.Info("Checkout flow opened",
		zap.String("flow_id", flow.ID),
		zap.String("session_id", sessionID),
		zap.String("product_url", product.URL))
	return flow, nil
}

// Get returns a flow by id
func (m *Manager) Get(flowID string) (*Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.flows[flowID]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return mf.flow, nil
}

// ForSession returns the session's most recent flow
func (m *Manager) ForSession(sessionID string) (*Flow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySession[sessionID]
	if !ok {
		return nil, false
	}
	return m.flows[id].flow, true
}

// Close cancels a flow if still running and forgets it
func (m *Manager) Close(flowID string) error {
	m.mu.Lock()
	mf, ok := m.flows[flowID]
	if ok {
		m.forgetLocked(mf.flow)
	}
	m.mu.Unlock()
	if !ok {
		return ErrFlowNotFound
	}

	f := mf.flow
	f.Cancel()
	if snap := f.Snapshot(); snap.Intent != nil {
		m.svc.ForgetIntent(snap.Intent.ID)
	}
	return nil
}

func (m *Manager) forgetLocked(f *Flow) {
	delete(m.flows, f.ID)
	if m.bySession[f.SessionID] == f.ID {
		delete(m.bySession, f.SessionID)
	}
}

// sweep cancels abandoned flows and drops finished ones past the lock TTL
func (m *Manager) sweep() {
	cutoff := m.now().Add(-m.lockTTL)

	var abandoned []*Flow
	m.mu.Lock()
	for _, mf := range m.flows {
		switch {
		case !mf.finished.IsZero():
			if mf.finished.Before(cutoff) {
				m.forgetLocked(mf.flow)
			}
		case mf.opened.Before(cutoff):
			m.forgetLocked(mf.flow)
			abandoned = append(abandoned, mf.flow)
		}
	}
	m.mu.Unlock()

	for _, f := range abandoned {
		m.logger.Info("Abandoned checkout flow expired",
			zap.String("flow_id", f.ID),
			zap.String("session_id", f.SessionID))
		f.Cancel()
	}
}

func (m *Manager) onComplete(f *Flow, intent *models.CheckoutIntent) {
	if m.conv == nil {
		return
	}
	if err := m.conv.AppendUserText(f.SessionID, CompletionMessage(f.Product.Name, intent.ID)); err != nil {
		m.logger.Error("Failed to record order confirmation",
			zap.String("session_id", f.SessionID),
			zap.String("checkout_intent_id", intent.ID),
			zap.Error(err))
	}
}

func (m *Manager) onFinish(f *Flow, outcome Outcome, token string) {
	util.OpenCheckoutFlows.Dec()

	m.mu.Lock()
	if mf, ok := m.flows[f.ID]; ok {
		mf.finished = m.now()
	}
	m.mu.Unlock()

	snap := f.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if snap.Intent != nil {
		switch outcome {
		case OutcomeUnknown:
			m.svc.RecordOutcome(ctx, models.EventTypeCheckoutTimedOut, snap.Intent.ID, snap.Notice)
		case OutcomeCancelled:
			m.svc.RecordOutcome(ctx, models.EventTypeCheckoutCancelled, snap.Intent.ID, "cancelled by shopper")
		}
	}

	if m.locker != nil {
		if err := m.locker.ReleaseLock(ctx, lockKey(f.SessionID), token); err != nil {
			m.logger.Warn("Failed to release checkout lock",
				zap.String("session_id", f.SessionID),
				zap.Error(err))
		}
	}
}

func isDone(f *Flow) bool {
	select {
	case <-f.Done():
		return true
	default:
		return false
	}
}
