package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"shopping-assistant/internal/models"
)

// scriptedAPI returns polled states in order, repeating the last one
type scriptedAPI struct {
	mu          sync.Mutex
	created     *models.CheckoutIntent
	createErr   error
	polls       []*models.CheckoutIntent
	pollErrs    []error
	confirmErrs []error
	confirmed   *models.CheckoutIntent
	gets        int
	confirms    int
	inFlight    int
	overlapped  bool
	block       chan struct{}
	pollValues  []interface{}
}

type requestKey struct{}

func (a *scriptedAPI) CreateIntent(_ context.Context, req *models.CreateCheckoutIntentRequest) (*models.CheckoutIntent, error) {
	if a.createErr != nil {
		return nil, a.createErr
	}
	out := *a.created
	out.ProductURL = req.ProductURL
	out.Quantity = req.Quantity
	return &out, nil
}

func (a *scriptedAPI) GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error) {
	a.mu.Lock()
	a.inFlight++
	if a.inFlight > 1 {
		a.overlapped = true
	}
	idx := a.gets
	a.gets++
	a.pollValues = append(a.pollValues, ctx.Value(requestKey{}))
	block := a.block
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}()

	if block != nil {
		<-block
	}

	if idx < len(a.pollErrs) && a.pollErrs[idx] != nil {
		return nil, a.pollErrs[idx]
	}
	if idx >= len(a.polls) {
		idx = len(a.polls) - 1
	}
	out := *a.polls[idx]
	out.ID = id
	return &out, nil
}

func (a *scriptedAPI) ConfirmIntent(_ context.Context, id, _ string) (*models.CheckoutIntent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirms++
	if len(a.confirmErrs) > 0 {
		err := a.confirmErrs[0]
		a.confirmErrs = a.confirmErrs[1:]
		return nil, err
	}
	out := models.CheckoutIntent{ID: id, State: models.IntentStatePlacingOrder}
	if a.confirmed != nil {
		out = *a.confirmed
		out.ID = id
	}
	return &out, nil
}

func (a *scriptedAPI) getCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gets
}

var errDeclined = errors.New("card declined")

func intentIn(state string) *models.CheckoutIntent {
	return &models.CheckoutIntent{ID: "ci_1", State: state}
}

func offerIn(state string) *models.CheckoutIntent {
	i := intentIn(state)
	i.Offer = &models.Offer{Cost: models.Cost{Total: models.Money{AmountSubunits: 4599, CurrencyCode: "USD"}}}
	return i
}

func fastConfig() FlowConfig {
	return FlowConfig{
		Offer:  RetryPolicy{Interval: time.Millisecond, MaxAttempts: 20},
		Settle: RetryPolicy{Interval: time.Millisecond, MaxAttempts: 20},
	}
}

func testBuyer() models.Buyer {
	return models.Buyer{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "5551234567",
		Address1: "1 Main St", City: "Austin", Province: "TX", Country: "US", PostalCode: "78701",
	}
}

func testProduct() models.Product {
	return models.Product{Name: "Electric Kettle", Price: "$45.99", URL: "https://www.amazon.com/dp/K"}
}
