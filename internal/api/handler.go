package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shopping-assistant/internal/chat"
	"shopping-assistant/internal/checkout"
	"shopping-assistant/internal/commerce"
	"shopping-assistant/internal/models"
	"shopping-assistant/internal/service"
	"shopping-assistant/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency probed by the readiness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// OrderLedger reads recorded checkouts
type OrderLedger interface {
	GetCheckoutOrder(ctx context.Context, intentID string) (*models.CheckoutOrder, error)
	GetCheckoutOrdersBySession(ctx context.Context, sessionID string) ([]models.CheckoutOrder, error)
}

// Handler contains HTTP handlers
type Handler struct {
	turner   chat.Turner
	sessions *chat.SessionStore
	checkout *service.CheckoutService
	flows    *checkout.Manager
	ledger   OrderLedger
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(turner chat.Turner, sessions *chat.SessionStore, checkoutService *service.CheckoutService, flows *checkout.Manager) *Handler {
	return &Handler{
		turner:   turner,
		sessions: sessions,
		checkout: checkoutService,
		flows:    flows,
		checks:   make(map[string]Pinger),
		logger:   util.GetLogger(),
	}
}

// SetLedger enables the session order history route
func (h *Handler) SetLedger(ledger OrderLedger) {
	h.ledger = ledger
}

// AddReadinessCheck registers a dependency for /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(shopperIPMiddleware())
	{
		api.POST("/chat", h.chat)

		api.POST("/sessions", h.createSession)
		api.GET("/sessions/:id", h.getSession)
		api.DELETE("/sessions/:id", h.deleteSession)
		api.POST("/sessions/:id/messages", h.postMessage)
		api.POST("/sessions/:id/tool-results", h.postToolResult)
		api.POST("/sessions/:id/checkout", h.openCheckout)
		api.GET("/sessions/:id/orders", h.listOrders)

		api.POST("/checkout/create-intent", h.createIntent)
		api.GET("/checkout/get-intent", h.getIntent)
		api.POST("/checkout/confirm-intent", h.confirmIntent)
		api.GET("/checkout/orders/:intentId", h.getOrder)

		api.GET("/checkout/flows/:flowId", h.getFlow)
		api.POST("/checkout/flows/:flowId/buyer", h.submitBuyer)
		api.POST("/checkout/flows/:flowId/confirm", h.confirmFlow)
		api.DELETE("/checkout/flows/:flowId", h.closeFlow)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeError maps domain errors to status codes. Upstream failures get the
// friendly fallback message with the cause in details.
func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	var verr *service.ValidationError
	var apiErr *commerce.APIError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, checkout.ErrFlowNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrTurnInProgress),
		errors.Is(err, chat.ErrToolCallNotPending),
		errors.Is(err, checkout.ErrCheckoutOpen),
		errors.Is(err, checkout.ErrFlowClosed),
		errors.Is(err, checkout.ErrWrongStep),
		errors.Is(err, service.ErrAlreadyConfirmed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr):
		h.logger.Error(fallback, zap.Int("status", apiErr.StatusCode), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   fallback,
			"details": apiErr.Error(),
		})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   fallback,
			"details": err.Error(),
		})
	}
}

func badRequestBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// shopperIPMiddleware carries the caller's address to the commerce client
func shopperIPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := commerce.WithShopperIP(c.Request.Context(), shopperIP(c))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func shopperIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); ip != "" {
		return ip
	}
	return c.ClientIP()
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
