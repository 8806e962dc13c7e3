package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"shopping-assistant/internal/chat"
	"shopping-assistant/internal/checkout"
	"shopping-assistant/internal/commerce"
	"shopping-assistant/internal/models"
	"shopping-assistant/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// echoTurner answers every turn with a single text reply
type echoTurner struct{}

func (echoTurner) RunTurn(_ context.Context, history []models.Message, sink chat.EventSink) (models.Message, error) {
	reply := "you said: " + history[len(history)-1].Text()
	sink.Emit(chat.Event{Type: chat.EventStart, MessageID: "a1"})
	sink.Emit(chat.Event{Type: chat.EventTextDelta, Delta: reply})
	sink.Emit(chat.Event{Type: chat.EventFinish})
	return models.Message{
		ID:    "a1",
		Role:  models.RoleAssistant,
		Parts: []models.Part{{Type: models.PartTypeText, Text: reply}},
	}, nil
}

type testServer struct {
	router   *gin.Engine
	handler  *Handler
	sessions *chat.SessionStore
	calls    atomic.Int32
	shopper  atomic.Value
}

func newTestServer(t *testing.T, commerceAPI http.HandlerFunc) *testServer {
	t.Helper()
	ts := &testServer{}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		ts.shopper.Store(r.Header.Get("X-Shopper-IP"))
		commerceAPI(w, r)
	}))
	t.Cleanup(upstream.Close)

	client, err := commerce.NewClient(upstream.URL, "test-key", 5*time.Second)
	require.NoError(t, err)

	svc := service.NewCheckoutService(client, nil, nil, service.CheckoutServiceConfig{})
	ts.sessions = chat.NewSessionStore(echoTurner{}, time.Hour)
	cfg := checkout.FlowConfig{
		Offer:  checkout.RetryPolicy{Interval: time.Millisecond, MaxAttempts: 5},
		Settle: checkout.RetryPolicy{Interval: time.Millisecond, MaxAttempts: 5},
	}
	flows := checkout.NewManager(svc, nil, ts.sessions, cfg, time.Minute)

	ts.router = gin.New()
	ts.handler = NewHandler(echoTurner{}, ts.sessions, svc, flows)
	ts.handler.SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func intentJSON(w http.ResponseWriter, state string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(models.CheckoutIntent{ID: "ci_1", State: state})
}

func fullBuyer() models.Buyer {
	return models.Buyer{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "5551234567",
		Address1: "1 Main St", City: "Springfield", Province: "IL", Country: "US", PostalCode: "62701",
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	w := ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestCreateIntentValidatesWithoutCallingUpstream(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { intentJSON(w, models.IntentStateCreated) })

	buyer := fullBuyer()
	buyer.Email = ""
	w := ts.do(http.MethodPost, "/api/checkout/create-intent", map[string]interface{}{
		"buyer": buyer, "quantity": 1, "productUrl": "https://www.amazon.com/dp/K",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]interface{}{"error": "Missing required buyer field: email"}, decode(t, w))
	assert.Zero(t, ts.calls.Load())
}

func TestCreateIntentForwardsShopperIP(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { intentJSON(w, models.IntentStateCreated) })

	w := ts.do(http.MethodPost, "/api/checkout/create-intent", map[string]interface{}{
		"buyer": fullBuyer(), "quantity": 1, "productUrl": "https://www.amazon.com/dp/K",
	}, "X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ci_1", body["checkoutIntent"].(map[string]interface{})["id"])
	assert.Equal(t, "203.0.113.7", ts.shopper.Load())
}

func TestUpstreamFailureIsFriendly(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "offer engine down", http.StatusBadGateway)
	})

	w := ts.do(http.MethodPost, "/api/checkout/create-intent", map[string]interface{}{
		"buyer": fullBuyer(), "quantity": 1, "productUrl": "https://www.amazon.com/dp/K",
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Failed to create checkout intent", body["error"])
	assert.Contains(t, body["details"], "commerce api error (502)")
	assert.Contains(t, body["details"], "offer engine down")
}

func TestGetIntentRequiresID(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { intentJSON(w, models.IntentStateCreated) })
	w := ts.do(http.MethodGet, "/api/checkout/get-intent", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, ts.calls.Load())
}

func TestSecondConfirmConflicts(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { intentJSON(w, models.IntentStatePlacingOrder) })
	body := map[string]string{"checkoutIntentId": "ci_1", "paymentMethodId": "tok_visa"}

	first := ts.do(http.MethodPost, "/api/checkout/confirm-intent", body)
	second := ts.do(http.MethodPost, "/api/checkout/confirm-intent", body)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestSessionMessageStreamsTurn(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	created := ts.do(http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, created.Code)
	id := decode(t, created)["sessionId"].(string)

	w := ts.do(http.MethodPost, "/api/sessions/"+id+"/messages", map[string]string{"text": "kettle"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	stream := w.Body.String()
	assert.True(t, strings.HasPrefix(stream, `data: {"type":"start","messageId":"a1"}`+"\n\n"))
	assert.Contains(t, stream, `"delta":"you said: kettle"`)
	assert.True(t, strings.HasSuffix(stream, "data: [DONE]\n\n"))

	got := ts.do(http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Len(t, decode(t, got)["messages"], 2)
}

func TestSessionErrorsBeforeStreaming(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	w := ts.do(http.MethodPost, "/api/sessions/missing/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	id := ts.sessions.Create().ID
	w = ts.do(http.MethodPost, "/api/sessions/"+id+"/messages", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	w = ts.do(http.MethodPost, "/api/sessions/"+id+"/tool-results", map[string]string{"toolCallId": "nope"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatelessChatRequiresMessages(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	w := ts.do(http.MethodPost, "/api/chat", map[string]interface{}{"messages": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOpenCheckoutOncePerSession(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	id := ts.sessions.Create().ID

	noURL := models.NewProduct()
	w := ts.do(http.MethodPost, "/api/sessions/"+id+"/checkout", map[string]interface{}{"product": noURL})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	product := models.Product{Name: "Kettle", URL: "https://www.amazon.com/dp/K", Price: "$45.99"}
	first := ts.do(http.MethodPost, "/api/sessions/"+id+"/checkout", map[string]interface{}{"product": product})
	require.Equal(t, http.StatusCreated, first.Code)
	snap := decode(t, first)
	assert.Equal(t, string(checkout.StepBuyerInfo), snap["step"])

	second := ts.do(http.MethodPost, "/api/sessions/"+id+"/checkout", map[string]interface{}{"product": product})
	assert.Equal(t, http.StatusConflict, second.Code)

	flowID := snap["flowId"].(string)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/checkout/flows/"+flowID, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/api/checkout/flows/"+flowID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/checkout/flows/"+flowID, nil).Code)
}

func TestDeleteSessionClosesFlow(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	id := ts.sessions.Create().ID

	product := models.Product{Name: "Kettle", URL: "https://www.amazon.com/dp/K", Price: "$45.99"}
	opened := ts.do(http.MethodPost, "/api/sessions/"+id+"/checkout", map[string]interface{}{"product": product})
	require.Equal(t, http.StatusCreated, opened.Code)
	flowID := decode(t, opened)["flowId"].(string)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/api/sessions/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/sessions/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/checkout/flows/"+flowID, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/sessions/"+id, nil).Code)
}

type memoryOrders map[string]models.CheckoutOrder

func (m memoryOrders) GetCheckoutOrder(_ context.Context, id string) (*models.CheckoutOrder, error) {
	o, ok := m[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m memoryOrders) GetCheckoutOrdersBySession(_ context.Context, sessionID string) ([]models.CheckoutOrder, error) {
	var out []models.CheckoutOrder
	for _, o := range m {
		if o.SessionID == sessionID {
			out = append(out, o)
		}
	}
	return out, nil
}

func TestOrderLookups(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(http.MethodGet, "/api/checkout/orders/ci_1", nil).Code)

	id := ts.sessions.Create().ID
	ts.handler.SetLedger(memoryOrders{
		"ci_1": {CheckoutIntentID: "ci_1", SessionID: id, State: models.IntentStateCompleted},
	})

	w := ts.do(http.MethodGet, "/api/checkout/orders/ci_1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.IntentStateCompleted, decode(t, w)["state"])
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/checkout/orders/ci_404", nil).Code)
}

func TestFlowReachesPaymentAndCompletes(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		intent := models.CheckoutIntent{ID: "ci_9", State: models.IntentStateAwaitingConfirmation, Offer: &models.Offer{}}
		if strings.HasSuffix(r.URL.Path, "/confirm") {
			intent.State = models.IntentStateCompleted
		}
		_ = json.NewEncoder(w).Encode(intent)
	})
	id := ts.sessions.Create().ID

	product := models.Product{Name: "Kettle", URL: "https://www.amazon.com/dp/K"}
	opened := ts.do(http.MethodPost, "/api/sessions/"+id+"/checkout", map[string]interface{}{"product": product})
	require.Equal(t, http.StatusCreated, opened.Code)
	flowID := decode(t, opened)["flowId"].(string)

	w := ts.do(http.MethodPost, "/api/checkout/flows/"+flowID+"/buyer", map[string]interface{}{"buyer": fullBuyer(), "quantity": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(checkout.StepPayment), decode(t, w)["step"])

	w = ts.do(http.MethodPost, "/api/checkout/flows/"+flowID+"/confirm", map[string]string{"paymentMethodId": "tok_visa"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(checkout.OutcomeCompleted), decode(t, w)["outcome"])

	s, err := ts.sessions.Get(id)
	require.NoError(t, err)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, checkout.CompletionMessage("Kettle", "ci_9"), msgs[0].Text())
}

func TestFlowPollsCarryShopperIP(t *testing.T) {
	var pollIP atomic.Value
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		intent := models.CheckoutIntent{ID: "ci_7", State: models.IntentStateCreated}
		if r.Method == http.MethodGet {
			pollIP.Store(r.Header.Get("X-Shopper-IP"))
			intent.State = models.IntentStateAwaitingConfirmation
			intent.Offer = &models.Offer{}
		}
		_ = json.NewEncoder(w).Encode(intent)
	})
	id := ts.sessions.Create().ID

	product := models.Product{Name: "Kettle", URL: "https://www.amazon.com/dp/K"}
	opened := ts.do(http.MethodPost, "/api/sessions/"+id+"/checkout", map[string]interface{}{"product": product})
	require.Equal(t, http.StatusCreated, opened.Code)
	flowID := decode(t, opened)["flowId"].(string)

	w := ts.do(http.MethodPost, "/api/checkout/flows/"+flowID+"/buyer",
		map[string]interface{}{"buyer": fullBuyer(), "quantity": 1},
		"X-Forwarded-For", "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		snap := decode(t, ts.do(http.MethodGet, "/api/checkout/flows/"+flowID, nil))
		return snap["step"] == string(checkout.StepPayment)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "203.0.113.7", pollIP.Load())
}

func TestShopperIPFallbacks(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", shopperIP(c))

	c.Request.Header.Del("X-Real-IP")
	c.Request.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", shopperIP(c))
}
