// Package api is the REST command and snapshot client for the order back
// end. Snapshots seed dashboards; commands return only success or failure,
// the socket echo is what updates state.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"restro-sync/orders"
)

var (
	ErrUnauthorized = errors.New("session expired")
	ErrForbidden    = errors.New("permission denied")
	ErrServer       = errors.New("server error")
)

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// Unwrap maps the status code onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode >= 500:
		return ErrServer
	}
	return nil
}

// PaymentMethod is accepted by the bill payment endpoint.
type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "CASH"
	PaymentCard    PaymentMethod = "CARD"
	PaymentUPI     PaymentMethod = "UPI"
	PaymentOnline  PaymentMethod = "ONLINE"
	PaymentOffline PaymentMethod = "OFFLINE"
)

// NewItem is one line added to an existing order.
type NewItem struct {
	MenuItemID  int64  `json:"menu_item_id"`
	VariantName string `json:"variant_name,omitempty"`
	Quantity    int    `json:"quantity"`
}

type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	RateLimitRPS int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://127.0.0.1:8000/api",
		Timeout:      10 * time.Second,
		RateLimitRPS: 10,
	}
}

type Client struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
	now         func() time.Time
}

func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = def.RateLimitRPS
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimiter: NewRateLimiter(config.RateLimitRPS),
		logger:      logger,
		now:         time.Now,
	}
}

// KitchenOrders fetches the chef snapshot.
func (c *Client) KitchenOrders(ctx context.Context) ([]orders.Order, error) {
	return c.fetchOrders(ctx, "/kitchen/orders/")
}

// PendingBills fetches the cashier snapshot.
func (c *Client) PendingBills(ctx context.Context) ([]orders.Order, error) {
	return c.fetchOrders(ctx, "/cashier/pending-bills/")
}

// OrderDetails fetches one order by its bill id.
func (c *Client) OrderDetails(ctx context.Context, orderID int64) (orders.Order, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders/"+strconv.FormatInt(orderID, 10)+"/", nil)
	if err != nil {
		return orders.Order{}, err
	}
	o, err := orders.NormalizeOrder(body, c.now())
	if err != nil {
		return orders.Order{}, fmt.Errorf("order %d: %w", orderID, err)
	}
	return o, nil
}

// UpdateItemStatus asks the back end to move one item to status.
func (c *Client) UpdateItemStatus(ctx context.Context, itemID int64, status orders.Status) error {
	path := "/order-items/" + strconv.FormatInt(itemID, 10) + "/update-status/"
	_, err := c.do(ctx, http.MethodPost, path, map[string]orders.Status{"status": status})
	return err
}

// MarkBillPaid settles a bill.
func (c *Client) MarkBillPaid(ctx context.Context, billID int64, method PaymentMethod) error {
	path := "/cashier/bills/" + strconv.FormatInt(billID, 10) + "/pay/"
	_, err := c.do(ctx, http.MethodPost, path, map[string]PaymentMethod{"payment_method": method})
	return err
}

// AddItems appends items to an existing order and returns the back end's
// view of it. Callers should not merge the result; the socket echo follows.
func (c *Client) AddItems(ctx context.Context, orderID int64, items []NewItem) (orders.Order, error) {
	if len(items) == 0 {
		return orders.Order{}, errors.New("no items to add")
	}
	path := "/orders/" + strconv.FormatInt(orderID, 10) + "/add_items/"
	body, err := c.do(ctx, http.MethodPost, path, map[string][]NewItem{"items": items})
	if err != nil {
		return orders.Order{}, err
	}
	o, err := orders.NormalizeOrder(body, c.now())
	if err != nil {
		return orders.Order{}, fmt.Errorf("add items response: %w", err)
	}
	return o, nil
}

func (c *Client) fetchOrders(ctx context.Context, path string) ([]orders.Order, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	now := c.now()
	out := make([]orders.Order, 0, len(raw))
	for _, r := range raw {
		o, err := orders.NormalizeOrder(r, now)
		if err != nil {
			c.logger.Warn("Skipping unidentifiable order in snapshot", zap.String("path", path), zap.Error(err))
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("API request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		c.logger.Warn("API request failed", zap.String("request_id", requestID), zap.Error(apiErr))
		return nil, apiErr
	}
	return respBody, nil
}
