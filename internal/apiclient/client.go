// Package apiclient talks to the shopping assistant HTTP API. It implements
// checkout.IntentAPI so a checkout flow can run against a remote server.
package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shopping-assistant/internal/chat"
	"shopping-assistant/internal/models"
	"shopping-assistant/internal/service"
)

const maxEventSize = 1024 * 1024

// Error is a non-2xx answer from the server
type Error struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("server error (%d): %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Client is a small HTTP client for the assistant API
type Client struct {
	server     string
	httpClient *http.Client
}

// NewClient creates a client for server, adding http:// when no scheme is given
func NewClient(server string, timeout time.Duration) (*Client, error) {
	normalized, err := normalizeServerURL(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	return &Client{
		server:     normalized,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func normalizeServerURL(server string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", server)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

type intentResponse struct {
	Success        bool                   `json:"success"`
	CheckoutIntent *models.CheckoutIntent `json:"checkoutIntent"`
}

// CreateIntent creates a checkout intent
func (c *Client) CreateIntent(ctx context.Context, req *models.CreateCheckoutIntentRequest) (*models.CheckoutIntent, error) {
	var out intentResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/checkout/create-intent", req, &out); err != nil {
		return nil, err
	}
	return out.CheckoutIntent, nil
}

// GetIntent fetches an intent's current state
func (c *Client) GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error) {
	var out intentResponse
	path := "/api/checkout/get-intent?checkoutIntentId=" + url.QueryEscape(id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.CheckoutIntent, nil
}

// ConfirmIntent confirms an intent with a tokenized payment method
func (c *Client) ConfirmIntent(ctx context.Context, id, paymentMethodID string) (*models.CheckoutIntent, error) {
	body := map[string]string{"checkoutIntentId": id, "paymentMethodId": paymentMethodID}
	var out intentResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/checkout/confirm-intent", body, &out); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", service.ErrAlreadyConfirmed, apiErr.Message)
		}
		return nil, err
	}
	return out.CheckoutIntent, nil
}

// CreateSession starts a server-side conversation
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// Chat runs one stateless turn, calling fn for each streamed event
func (c *Client) Chat(ctx context.Context, messages []models.Message, fn func(chat.Event)) error {
	if len(messages) == 0 {
		return errors.New("chat request requires at least one message")
	}
	return c.stream(ctx, "/api/chat", map[string]interface{}{"messages": messages}, fn)
}

// SendMessage posts text to a session and streams the resulting turn
func (c *Client) SendMessage(ctx context.Context, sessionID, text string, fn func(chat.Event)) error {
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/messages"
	return c.stream(ctx, path, map[string]string{"text": text}, fn)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) stream(ctx context.Context, path string, body interface{}, fn func(chat.Event)) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return parseStream(resp.Body, fn)
}

// parseStream reads "data: " lines until [DONE] or EOF
func parseStream(r io.Reader, fn func(chat.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return nil
		}
		var event chat.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("failed to parse event: %w", err)
		}
		fn(event)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return nil
}

// decodeError turns an error body into *Error. A 400 becomes a
// service.ValidationError so callers show the field message as is.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	if resp.StatusCode == http.StatusBadRequest {
		return &service.ValidationError{Message: body.Error}
	}
	return &Error{StatusCode: resp.StatusCode, Message: body.Error, Details: body.Details}
}
