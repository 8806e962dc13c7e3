package api

import (
	"net/http"

	"shopping-assistant/internal/chat"
	"shopping-assistant/internal/models"

	"github.com/gin-gonic/gin"
)

const turnFailed = "Failed to run chat turn"

type chatRequest struct {
	Messages []models.Message `json:"messages"`
}

type messageRequest struct {
	Text string `json:"text"`
}

// chat runs one turn over a client-held history
func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestBody(c, err)
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: messages"})
		return
	}

	h.stream(c, turnFailed, func(sink chat.EventSink) error {
		_, err := h.turner.RunTurn(c.Request.Context(), req.Messages, sink)
		return err
	})
}

func (h *Handler) createSession(c *gin.Context) {
	s := h.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{"sessionId": s.ID})
}

func (h *Handler) getSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to load session")
		return
	}

	resp := gin.H{
		"sessionId": s.ID,
		"messages":  s.Messages(),
		"busy":      s.Busy(),
	}
	if f, ok := h.flows.ForSession(s.ID); ok {
		resp["checkout"] = f.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// deleteSession drops a conversation and closes its open checkout, if any
func (h *Handler) deleteSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to delete session")
		return
	}
	if f, ok := h.flows.ForSession(s.ID); ok {
		_ = h.flows.Close(f.ID)
	}
	h.sessions.Delete(s.ID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) postMessage(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err, turnFailed)
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestBody(c, err)
		return
	}

	h.stream(c, turnFailed, func(sink chat.EventSink) error {
		_, err := s.SubmitUserText(c.Request.Context(), req.Text, sink)
		return err
	})
}

// postToolResult answers a manual tool call. The stream carries the resumed
// turn, or just a finish event while other calls are still pending.
func (h *Handler) postToolResult(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err, turnFailed)
		return
	}

	var req chat.ToolResult
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestBody(c, err)
		return
	}
	if req.ToolCallID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: toolCallId"})
		return
	}

	h.stream(c, turnFailed, func(sink chat.EventSink) error {
		msg, resumed, err := s.AddToolResult(c.Request.Context(), req, sink)
		if err != nil {
			return err
		}
		if !resumed {
			sink.Emit(chat.Event{Type: chat.EventFinish, MessageID: msg.ID})
		}
		return nil
	})
}

func (h *Handler) ledgerEnabled(c *gin.Context) bool {
	if h.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Checkout ledger is not configured"})
		return false
	}
	return true
}

func (h *Handler) listOrders(c *gin.Context) {
	if !h.ledgerEnabled(c) {
		return
	}

	orders, err := h.ledger.GetCheckoutOrdersBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to load orders")
		return
	}
	if orders == nil {
		orders = []models.CheckoutOrder{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	if !h.ledgerEnabled(c) {
		return
	}

	order, err := h.ledger.GetCheckoutOrder(c.Request.Context(), c.Param("intentId"))
	if err != nil {
		h.writeError(c, err, "Failed to load order")
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}
