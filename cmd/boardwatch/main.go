// boardwatch connects the board engine to a feed gateway and prints live
// per-status counts. It is the reference embedding of pkg/board.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/platewise/boardsync/internal/client"
	"github.com/platewise/boardsync/internal/config"
	"github.com/platewise/boardsync/internal/status"
	"github.com/platewise/boardsync/pkg/board"
)

func main() {
	cfg := config.Load()

	restaurantID, err := uuid.Parse(os.Getenv("RESTAURANT_ID"))
	if err != nil {
		log.Fatalf("RESTAURANT_ID must be a uuid: %v", err)
	}
	token := os.Getenv("BOARD_TOKEN")
	if token == "" {
		log.Fatal("BOARD_TOKEN is required")
	}
	viewer := os.Getenv("VIEWER")
	if viewer == "" {
		viewer, _ = os.Hostname()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := client.New(client.Config{
		BaseURL:      cfg.FeedURL,
		Token:        token,
		RestaurantID: restaurantID,
		Viewer:       viewer,
	})

	engine, err := board.New(board.Config{
		RestaurantID:  restaurantID,
		Gateway:       gw,
		Dial:          gw.DialFeed,
		RetryInterval: cfg.RetryInterval,
		MaxAttempts:   cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("start engine: %v", err)
	}
	defer engine.Stop()

	log.Printf("watching board for restaurant %s", restaurantID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-engine.Updates():
			snap := engine.Counts()
			state := engine.Connection()

			var parts []string
			for _, s := range status.ActiveStatuses() {
				parts = append(parts, fmt.Sprintf("%s=%d", s, snap.ByStatus[s]))
			}
			log.Printf("[%s] %s total=%d", state.State, strings.Join(parts, " "), snap.Total)
		}
	}
}
