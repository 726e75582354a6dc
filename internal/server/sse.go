package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const sseKeepAlive = 15 * time.Second

// handleSnapshotStream is GET /stream: send the current portfolio
// snapshot immediately (if one has been published), then forward every
// subsequent broadcast from the SnapshotBus, with a keep-alive comment
// in between.
func (s *Server) handleSnapshotStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := prepareSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, unsubscribe := s.snapshotBus.Subscribe()
	defer unsubscribe()

	if latest, ok := s.snapshotBus.Latest(); ok {
		writeSSE(w, flusher, latest)
	}

	heartbeat := time.NewTicker(sseKeepAlive)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, flusher, snap)
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// handlePriceStream is GET /price-stream?symbols=A,B: gated by the
// configured webhook secret (header X-Webhook-Secret or query
// parameter secret, when one is configured), streams every tick the
// ingest feed publishes to the TickBus, optionally filtered to the
// requested symbol set.
func (s *Server) handlePriceStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeWebhook(r) {
		writeError(w, http.StatusUnauthorized, "invalid or missing webhook secret")
		return
	}

	flusher, ok := prepareSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var symbolFilter map[string]bool
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		symbolFilter = make(map[string]bool)
		for _, sym := range strings.Split(raw, ",") {
			symbolFilter[strings.ToUpper(strings.TrimSpace(sym))] = true
		}
	}

	ch, unsubscribe := s.tickBus.Subscribe()
	defer unsubscribe()

	heartbeat := time.NewTicker(sseKeepAlive)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case tick, ok := <-ch:
			if !ok {
				return
			}
			if symbolFilter != nil && !symbolFilter[tick.Symbol] {
				continue
			}
			writeSSE(w, flusher, tick)
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// authorizeWebhook reports whether r carries the configured webhook
// secret. When no secret is configured, every caller is authorized.
func (s *Server) authorizeWebhook(r *http.Request) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Secret")
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return got == s.cfg.WebhookSecret
}

func prepareSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if ok {
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
	}
	return flusher, ok
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
