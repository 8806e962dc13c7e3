package api

import (
	"net/http"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	createFailed  = "Failed to create checkout intent"
	fetchFailed   = "Failed to get checkout intent"
	confirmFailed = "Failed to confirm checkout intent"
)

type createIntentRequest struct {
	Buyer       *models.Buyer `json:"buyer"`
	Quantity    int           `json:"quantity"`
	ProductURL  string        `json:"productUrl"`
	SessionID   string        `json:"sessionId,omitempty"`
	ProductName string        `json:"productName,omitempty"`
}

type confirmIntentRequest struct {
	CheckoutIntentID string `json:"checkoutIntentId"`
	PaymentMethodID  string `json:"paymentMethodId"`
}

type openCheckoutRequest struct {
	Product models.Product `json:"product"`
}

type buyerRequest struct {
	Buyer    models.Buyer `json:"buyer"`
	Quantity int          `json:"quantity"`
}

type paymentRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
}

func (h *Handler) createIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestBody(c, err)
		return
	}

	intent, err := h.checkout.CreateIntent(c.Request.Context(), &models.CreateCheckoutIntentRequest{
		Buyer:      req.Buyer,
		Quantity:   req.Quantity,
		ProductURL: req.ProductURL,
	}, service.IntentMeta{SessionID: req.SessionID, ProductName: req.ProductName})
	if err != nil {
		h.writeError(c, err, createFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "checkoutIntent": intent})
}

func (h *Handler) getIntent(c *gin.Context) {
	intent, err := h.checkout.GetIntent(c.Request.Context(), c.Query("checkoutIntentId"))
	if err != nil {
		h.writeError(c, err, fetchFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "checkoutIntent": intent})
}

func (h *Handler) confirmIntent(c *gin.Context) {
	var req confirmIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestBody(c, err)
		return
	}

	intent, err := h.checkout.ConfirmIntent(c.Request.Context(), req.CheckoutIntentID, req.PaymentMethodID)
	if err != nil {
		h.writeError(c, err, confirmFailed)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "checkoutIntent": intent})
}

// openCheckout starts a server-driven checkout flow for a session
func (h *Handler) openCheckout(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to open checkout")
		return
	}

	var req openCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestBody(c, err)
		return
	}

	flow, err := h.flows.Open(c.Request.Context(), s.ID, req.Product)
	if err != nil {
		h.writeError(c, err, "Failed to open checkout")
		return
	}

	c.JSON(http.StatusCreated, flow.Snapshot())
}

func (h *Handler) getFlow(c *gin.Context) {
	flow, err := h.flows.Get(c.Param("flowId"))
	if err != nil {
		h.writeError(c, err, "Failed to load checkout")
		return
	}
	c.JSON(http.StatusOK, flow.Snapshot())
}

func (h *Handler) submitBuyer(c *gin.Context) {
	flow, err := h.flows.Get(c.Param("flowId"))
	if err != nil {
		h.writeError(c, err, createFailed)
		return
	}

	var req buyerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestBody(c, err)
		return
	}

	if err := flow.SubmitBuyer(c.Request.Context(), req.Buyer, req.Quantity); err != nil {
		h.writeError(c, err, createFailed)
		return
	}
	c.JSON(http.StatusOK, flow.Snapshot())
}

func (h *Handler) confirmFlow(c *gin.Context) {
	flow, err := h.flows.Get(c.Param("flowId"))
	if err != nil {
		h.writeError(c, err, confirmFailed)
		return
	}

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestBody(c, err)
		return
	}
	if req.PaymentMethodID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: paymentMethodId"})
		return
	}

	if err := flow.Confirm(c.Request.Context(), req.PaymentMethodID); err != nil {
		h.writeError(c, err, confirmFailed)
		return
	}
	c.JSON(http.StatusOK, flow.Snapshot())
}

func (h *Handler) closeFlow(c *gin.Context) {
	if err := h.flows.Close(c.Param("flowId")); err != nil {
		h.writeError(c, err, "Failed to close checkout")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
