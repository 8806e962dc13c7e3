package models

import "time"

// Checkout intent states as reported by the commerce service
const (
	IntentStateCreated              = "created"
	IntentStateAwaitingConfirmation = "awaiting_confirmation"
	IntentStatePlacingOrder         = "placing_order"
	IntentStateCompleted            = "completed"
	IntentStateFailed               = "failed"
)

// Buyer is the shipping and contact record sent with a checkout intent
type Buyer struct {
	FirstName  string `json:"firstName" validate:"required"`
	LastName   string `json:"lastName" validate:"required"`
	Email      string `json:"email" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Address1   string `json:"address1" validate:"required"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city" validate:"required"`
	Province   string `json:"province" validate:"required"`
	Country    string `json:"country" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
}

// FullName returns "First Last"
func (b Buyer) FullName() string {
	return b.FirstName + " " + b.LastName
}

// Money is an amount in integer currency subunits
type Money struct {
	AmountSubunits int64  `json:"amountSubunits"`
	CurrencyCode   string `json:"currencyCode"`
}

// ShippingOption is one selectable shipping method on an offer
type ShippingOption struct {
	ID              string `json:"id"`
	Cost            Money  `json:"cost"`
	DiscountedCost  *Money `json:"discountedCost,omitempty"`
	Label           string `json:"label,omitempty"`
	MinDeliveryDays int    `json:"minDeliveryDays,omitempty"`
	MaxDeliveryDays int    `json:"maxDeliveryDays,omitempty"`
}

// Shipping lists the offer's shipping options and the selected one
type Shipping struct {
	AvailableOptions []ShippingOption `json:"availableOptions"`
	SelectedOptionID string           `json:"selectedOptionId,omitempty"`
}

// Cost is the offer's pricing breakdown
type Cost struct {
	Subtotal Money  `json:"subtotal"`
	Tax      *Money `json:"tax,omitempty"`
	Shipping *Money `json:"shipping,omitempty"`
	Total    Money  `json:"total"`
}

// Offer is the computed pricing attached to an intent once available
type Offer struct {
	Cost     Cost     `json:"cost"`
	Shipping Shipping `json:"shipping"`
}

// SelectedShipping returns the selected shipping option, if any
func (o *Offer) SelectedShipping() (ShippingOption, bool) {
	if o == nil {
		return ShippingOption{}, false
	}
	for _, opt := range o.Shipping.AvailableOptions {
		if opt.ID == o.Shipping.SelectedOptionID {
			return opt, true
		}
	}
	return ShippingOption{}, false
}

// CheckoutIntent is the commerce service's in-progress purchase attempt
type CheckoutIntent struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Buyer         Buyer     `json:"buyer"`
	Quantity      int       `json:"quantity"`
	ProductURL    string    `json:"productUrl"`
	Offer         *Offer    `json:"offer,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ReadyForPayment reports whether the intent awaits confirmation with an offer
func (ci *CheckoutIntent) ReadyForPayment() bool {
	return ci != nil && ci.State == IntentStateAwaitingConfirmation && ci.Offer != nil
}

// Settled reports whether the intent reached completed or failed
func (ci *CheckoutIntent) Settled() bool {
	return ci != nil && (ci.State == IntentStateCompleted || ci.State == IntentStateFailed)
}

// CreateCheckoutIntentRequest is the create-intent payload
type CreateCheckoutIntentRequest struct {
	Buyer      *Buyer `json:"buyer"`
	Quantity   int    `json:"quantity"`
	ProductURL string `json:"productUrl"`
}

// PaymentMethod is a tokenized payment method
type PaymentMethod struct {
	Type        string `json:"type"`
	StripeToken string `json:"stripeToken"`
}

// ConfirmCheckoutIntentRequest is the confirm-intent payload sent upstream
type ConfirmCheckoutIntentRequest struct {
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}

// CheckoutOrder is one row of the checkout ledger
type CheckoutOrder struct {
	CheckoutIntentID string    `db:"checkout_intent_id" json:"checkoutIntentId"`
	SessionID        string    `db:"session_id" json:"sessionId,omitempty"`
	ProductURL       string    `db:"product_url" json:"productUrl"`
	ProductName      string    `db:"product_name" json:"productName,omitempty"`
	Quantity         int       `db:"quantity" json:"quantity"`
	State            string    `db:"state" json:"state"`
	TotalSubunits    int64     `db:"total_subunits" json:"totalSubunits"`
	CurrencyCode     string    `db:"currency_code" json:"currencyCode,omitempty"`
	Reason           string    `db:"reason" json:"reason,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}
