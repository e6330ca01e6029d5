package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/cryptodesk/internal/market"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func quote(symbol, price string) market.Quote {
	return market.Quote{Symbol: symbol, Price: decimal.RequireFromString(price), UpdatedAt: time.Now().UTC()}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub([]string{"*"}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	all := dial(t, srv, "")
	ethOnly := dial(t, srv, "?symbols=ethusdt")
	require.Eventually(t, func() bool { return hub.Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	hub.Broadcast(quote("BTCUSDT", "65000"))
	hub.Broadcast(quote("ETHUSDT", "3000"))

	msg := readMessage(t, all)
	assert.Equal(t, "ticker", msg.Type)
	assert.Equal(t, "BTCUSDT", msg.Data.Symbol)
	assert.Equal(t, "ETHUSDT", readMessage(t, all).Data.Symbol)

	// The filtered client only sees ETH
	msg = readMessage(t, ethOnly)
	assert.Equal(t, "ETHUSDT", msg.Data.Symbol)
	assert.True(t, decimal.RequireFromString("3000").Equal(msg.Data.Price))
}

func TestHub_SendsLatestOnConnect(t *testing.T) {
	hub := NewHub([]string{"*"}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Broadcast(quote("BTCUSDT", "1"))
	hub.Broadcast(quote("BTCUSDT", "2"))
	hub.Broadcast(quote("ETHUSDT", "3"))

	conn := dial(t, srv, "?symbols=BTCUSDT")
	msg := readMessage(t, conn)
	assert.Equal(t, "BTCUSDT", msg.Data.Symbol)
	assert.True(t, decimal.RequireFromString("2").Equal(msg.Data.Price))
}

func TestHub_DropsClosedClients(t *testing.T) {
	hub := NewHub([]string{"*"}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		hub.Broadcast(quote("BTCUSDT", "1"))
		return hub.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHub_Run(t *testing.T) {
	hub := NewHub([]string{"*"}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	quotes := make(chan market.Quote, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, quotes)
		close(done)
	}()

	quotes <- quote("SOLUSDT", "150")
	assert.Equal(t, "SOLUSDT", readMessage(t, conn).Data.Symbol)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, hub.Len())

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub([]string{"https://app.example.com"}, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	conn.Close()
}
