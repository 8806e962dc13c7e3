// Package commerce is the client for the remote checkout-intent API.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shopping-assistant/internal/models"
	"shopping-assistant/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const intentsPath = "/api/v1/checkout-intents"

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("commerce api error (%d): %s", e.StatusCode, e.Body)
}

type shopperIPKey struct{}

// WithShopperIP attaches the shopper's IP address to outgoing requests
func WithShopperIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, shopperIPKey{}, ip)
}

// ShopperIP returns the IP stored by WithShopperIP
func ShopperIP(ctx context.Context) string {
	ip, _ := ctx.Value(shopperIPKey{}).(string)
	return ip
}

// Client talks to the commerce API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new commerce client
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid commerce base URL %q", baseURL)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("commerce API key is required")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}, nil
}

// CreateIntent starts a checkout for a product URL
func (c *Client) CreateIntent(ctx context.Context, req *models.CreateCheckoutIntentRequest) (*models.CheckoutIntent, error) {
	var intent models.CheckoutIntent
	if err := c.do(ctx, "create", http.MethodPost, intentsPath, req, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetIntent fetches the intent's current state
func (c *Client) GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error) {
	var intent models.CheckoutIntent
	if err := c.do(ctx, "get", http.MethodGet, intentsPath+"/"+url.PathEscape(id), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// ConfirmIntent submits a tokenized payment method for the intent
func (c *Client) ConfirmIntent(ctx context.Context, id, paymentToken string) (*models.CheckoutIntent, error) {
	body := &models.ConfirmCheckoutIntentRequest{
		PaymentMethod: models.PaymentMethod{Type: "stripe_token", StripeToken: paymentToken},
	}
	var intent models.CheckoutIntent
	if err := c.do(ctx, "confirm", http.MethodPost, intentsPath+"/"+url.PathEscape(id)+"/confirm", body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) error {
	ctx, span := util.StartSpan(ctx, "CommerceClient."+operation,
		attribute.String("http.method", method),
		attribute.String("http.path", path))
	defer span.End()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if ip := ShopperIP(ctx); ip != "" {
		req.Header.Set("X-Shopper-IP", ip)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.CommerceAPILatency.WithLabelValues(operation, "transport_error").Observe(time.Since(start).Seconds())
		util.RecordError(span, err)
		return fmt.Errorf("failed to %s checkout intent: %w", operation, err)
	}
	defer resp.Body.Close()
	util.CommerceAPILatency.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		util.RecordError(span, apiErr)
		c.logger.Warn("Commerce API request failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(data)))
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}
