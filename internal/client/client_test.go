package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platewise/boardsync/internal/enum"
	"github.com/platewise/boardsync/internal/model"
	"github.com/shopspring/decimal"
)

func TestFetchActiveOrders(t *testing.T) {
	rid := uuid.New()
	want := model.Order{
		ID:           uuid.New(),
		RestaurantID: rid,
		OrderNumber:  "BW-007",
		Status:       enum.OrderStatusPending,
		TotalAmount:  decimal.NewFromInt(45),
		Currency:     "USD",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
		UpdatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if got := r.URL.Path; got != "/restaurants/"+rid.String()+"/orders/active" {
			t.Errorf("path = %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"orders": []model.Order{want}})
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, Token: "tok", RestaurantID: rid})
	got, err := c.FetchActiveOrders(context.Background(), rid)
	if err != nil {
		t.Fatalf("FetchActiveOrders: %v", err)
	}
	if len(got) != 1 || got[0].ID != want.ID || got[0].Status != want.Status {
		t.Fatalf("got %+v", got)
	}
	if !got[0].TotalAmount.Equal(want.TotalAmount) {
		t.Errorf("total = %s, want %s", got[0].TotalAmount, want.TotalAmount)
	}
}

func TestSetOrderStatus(t *testing.T) {
	rid := uuid.New()
	orderID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		wantPath := "/restaurants/" + rid.String() + "/orders/" + orderID.String() + "/status"
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["status"] != enum.OrderStatusPreparing {
			t.Errorf("status = %q", body["status"])
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, Token: "tok", RestaurantID: rid})
	if err := c.SetOrderStatus(context.Background(), orderID, enum.OrderStatusPreparing); err != nil {
		t.Fatalf("SetOrderStatus: %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	testCases := []struct {
		name   string
		code   int
		body   string
		target error
	}{
		{"not found", http.StatusNotFound, `{"error":"order not found"}`, ErrNotFound},
		{"conflict", http.StatusConflict, `{"error":"order status changed, please retry"}`, ErrConflict},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			c := New(Config{BaseURL: server.URL, RestaurantID: uuid.New()})
			err := c.SetOrderStatus(context.Background(), uuid.New(), enum.OrderStatusReady)
			if !errors.Is(err, tc.target) {
				t.Fatalf("err = %v, want %v", err, tc.target)
			}
		})
	}
}

func TestServerErrorIncludesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error"}`))
	}))
	defer server.Close()

	c := New(Config{BaseURL: server.URL, RestaurantID: uuid.New()})
	err := c.CancelOrder(context.Background(), uuid.New())
	if err == nil || !strings.Contains(err.Error(), "internal server error") {
		t.Fatalf("err = %v, want wrapped server message", err)
	}
}

func TestFeedURL(t *testing.T) {
	rid := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	c := New(Config{BaseURL: "https://feed.example.com", Token: "tok", RestaurantID: rid})

	got, err := c.feedURL()
	if err != nil {
		t.Fatalf("feedURL: %v", err)
	}
	want := "wss://feed.example.com/ws/restaurants/6ba7b810-9dad-11d1-80b4-00c04fd430c8/board?token=tok"
	if got != want {
		t.Errorf("feedURL = %s, want %s", got, want)
	}
}
