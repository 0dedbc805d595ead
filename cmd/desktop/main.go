// Package main runs the offline core for desktop shells: the durable store,
// cache strategy engine, sync queue manager, and notification scheduler,
// exposed to the UI over localhost HTTP and a WebSocket control channel.
package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ticketnest/core/internal/cache"
	"github.com/ticketnest/core/internal/logging"
	"github.com/ticketnest/core/internal/models"
	"github.com/ticketnest/core/internal/notify"
	"github.com/ticketnest/core/internal/store"
	"github.com/ticketnest/core/internal/syncq"
)

// hubNotifier delivers fired reminders to connected shells over the control
// channel. Platform shells render them natively.
type hubNotifier struct {
	hub *WSHub
}

func (n hubNotifier) Notify(ctx context.Context, payload *models.NotificationPayload) error {
	n.hub.Broadcast(MsgNotificationFired, map[string]interface{}{
		"title": payload.Title,
		"body":  payload.Body,
		"tag":   payload.Tag,
	})
	logging.Info("Reminder fired",
		map[string]interface{}{"title": payload.Title, "tag": payload.Tag})
	return nil
}

func main() {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	apiBase := os.Getenv("API_BASE_URL")
	if apiBase == "" {
		apiBase = "https://api.ticketnest.example"
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	st, err := store.Open(dataDir)
	if err != nil {
		log.Fatalf("Failed to open durable store: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := cache.NewHTTPFetcher(apiBase)

	manager, err := syncq.NewManager(st, fetcher, nil)
	if err != nil {
		log.Fatalf("Failed to create sync manager: %v", err)
	}
	if err := manager.Start(ctx); err != nil {
		log.Fatalf("Failed to start sync manager: %v", err)
	}

	engine := cache.NewEngine(st, fetcher, manager, nil)

	hub := NewWSHub(ctx, engine, manager, func() {
		logging.Info("Immediate activation requested", nil)
	})
	go hub.ForwardResolutions(ctx)

	scheduler := notify.NewScheduler(st, hubNotifier{hub: hub}, nil, nil)
	go scheduler.Run(ctx)

	go st.RunSweeper(ctx, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"ticketnest-core"}`))
	})
	mux.HandleFunc("/ws", HandleWebSocket(ctx, hub))
	mux.HandleFunc("/proxy", handleProxy(ctx, engine))

	logging.Info("TicketNest offline core listening",
		map[string]interface{}{"port": port, "data_dir": dataDir})
	log.Fatal(http.ListenAndServe("localhost:"+port, mux))
}

// handleProxy funnels shell requests through the cache strategy engine so
// every outgoing call gets offline handling.
func handleProxy(ctx context.Context, engine *cache.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		req := &cache.Request{
			Method: r.Method,
			URL:    target,
			Header: map[string]string{
				"Accept":       r.Header.Get("Accept"),
				"Content-Type": r.Header.Get("Content-Type"),
			},
			Body: body,
		}

		resp := engine.Handle(ctx, req)

		w.Header().Set("Content-Type", resp.ContentType)
		if resp.FromCache {
			w.Header().Set("X-From-Cache", "1")
		}
		if resp.Offline {
			w.Header().Set("X-Offline", "1")
		}
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
	}
}
