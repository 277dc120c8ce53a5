// Package client is the HTTP/WebSocket implementation of the board
// engine's persistence surface, speaking to a feed gateway.
package client

import (
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

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/platewise/boardsync/internal/feed"
	"github.com/platewise/boardsync/internal/model"
)

// Errors mapped from gateway status codes.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Config configures a Client.
type Config struct {
	// BaseURL is the gateway's HTTP root, e.g. "https://feed.example.com".
	BaseURL      string
	Token        string
	RestaurantID uuid.UUID
	// Viewer identifies this client in presence records.
	Viewer string
	// HTTPClient defaults to one with a 15s timeout.
	HTTPClient *http.Client
}

// Client talks to one feed gateway on behalf of one restaurant.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type ordersResponse struct {
	Orders []model.Order `json:"orders"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// FetchActiveOrders returns the authoritative active-order snapshot.
func (c *Client) FetchActiveOrders(ctx context.Context, restaurantID uuid.UUID) ([]model.Order, error) {
	path := fmt.Sprintf("/restaurants/%s/orders/active", restaurantID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp ordersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return resp.Orders, nil
}

// SetOrderStatus persists one status change. The gateway applies it with a
// compare-and-set on the current status, so repeating the call with the
// same target is safe.
func (c *Client) SetOrderStatus(ctx context.Context, orderID uuid.UUID, status string) error {
	path := fmt.Sprintf("/restaurants/%s/orders/%s/status", c.cfg.RestaurantID, orderID)
	payload, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPatch, path, payload)
	return err
}

// CancelOrder cancels one order.
func (c *Client) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	path := fmt.Sprintf("/restaurants/%s/orders/%s", c.cfg.RestaurantID, orderID)
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	msg := strings.TrimSpace(string(raw))
	var apiErr errorResponse
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrConflict, msg)
	}
	return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
}

// DialFeed opens the change-feed WebSocket and announces presence. It
// matches conn.DialFunc, so the connection manager owns retries.
func (c *Client) DialFeed(ctx context.Context) (*feed.Channel, error) {
	wsURL, err := c.feedURL()
	if err != nil {
		return nil, err
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial feed: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	return feed.Open(ws, feed.Presence{
		RestaurantID: c.cfg.RestaurantID,
		Viewer:       c.cfg.Viewer,
		Page:         "board",
	})
}

func (c *Client) feedURL() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + fmt.Sprintf("/ws/restaurants/%s/board", c.cfg.RestaurantID)
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
