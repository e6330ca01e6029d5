// Package stream fans live quotes out to browser websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xtrntr/cryptodesk/internal/market"
)

const writeTimeout = 5 * time.Second

// Message is the envelope sent to clients
type Message struct {
	Type string       `json:"type"`
	Data market.Quote `json:"data"`
}

type client struct {
	conn    *websocket.Conn
	mu      sync.Mutex // serialises writes
	symbols map[string]bool
}

func (c *client) wants(symbol string) bool {
	return len(c.symbols) == 0 || c.symbols[symbol]
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected clients and the last quote per symbol
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	lastMu sync.RWMutex
	last   map[string]market.Quote
}

// NewHub creates a hub accepting connections from allowedOrigins; "*"
// allows any origin
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:  logger.With("component", "hub"),
		clients: make(map[*client]struct{}),
		last:    make(map[string]market.Quote),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// ServeHTTP upgrades the request and streams quotes until the client goes
// away. ?symbols=btcusdt,ethusdt limits the stream to those symbols.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	c := &client{conn: conn, symbols: parseSymbols(r.URL.Query().Get("symbols"))}
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()
	h.logger.Debug("client connected", "remote", r.RemoteAddr, "clients", h.Len())

	// Send the latest known quotes
	for _, q := range h.snapshot() {
		if !c.wants(q.Symbol) {
			continue
		}
		data, err := json.Marshal(Message{Type: "ticker", Data: q})
		if err != nil {
			continue
		}
		if err := c.write(data); err != nil {
			h.remove(c)
			return
		}
	}

	// Keep connection alive and handle disconnection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// Broadcast sends a quote to every interested client and drops the ones
// that cannot be written to
func (h *Hub) Broadcast(q market.Quote) {
	h.lastMu.Lock()
	h.last[q.Symbol] = q
	h.lastMu.Unlock()

	data, err := json.Marshal(Message{Type: "ticker", Data: q})
	if err != nil {
		h.logger.Error("failed to marshal quote", "symbol", q.Symbol, "error", err)
		return
	}

	var dead []*client
	h.clientsMu.RLock()
	for c := range h.clients {
		if !c.wants(q.Symbol) {
			continue
		}
		if err := c.write(data); err != nil {
			dead = append(dead, c)
		}
	}
	h.clientsMu.RUnlock()

	for _, c := range dead {
		h.logger.Debug("dropping unresponsive client")
		h.remove(c)
	}
}

// Run broadcasts quotes until ctx is done or quotes is closed, then
// disconnects every client
func (h *Hub) Run(ctx context.Context, quotes <-chan market.Quote) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			h.Broadcast(q)
		}
	}
}

// Len reports the number of connected clients
func (h *Hub) Len() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []market.Quote {
	h.lastMu.RLock()
	defer h.lastMu.RUnlock()

	quotes := make([]market.Quote, 0, len(h.last))
	for _, q := range h.last {
		quotes = append(quotes, q)
	}
	slices.SortFunc(quotes, func(a, b market.Quote) int { return strings.Compare(a.Symbol, b.Symbol) })
	return quotes
}

func (h *Hub) remove(c *client) {
	h.clientsMu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.clientsMu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

func parseSymbols(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	symbols := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols[s] = true
		}
	}
	return symbols
}
