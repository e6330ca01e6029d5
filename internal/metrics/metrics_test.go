package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.OrderExecuted("buy", "market", 20*time.Millisecond)
	c.OrderExecuted("buy", "market", 30*time.Millisecond)
	c.OrderExecuted("sell", "limit", 10*time.Millisecond)
	c.OrderRejected("insufficient_balance")
	c.FundsReviewed("deposit", "approved")
	c.QuoteReceived("BTCUSDT")
	c.SetOpenLimitOrders(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ordersExecuted.WithLabelValues("buy", "market")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ordersExecuted.WithLabelValues("sell", "limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ordersRejected.WithLabelValues("insufficient_balance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fundsReviewed.WithLabelValues("deposit", "approved")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.openLimitOrders))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.HTTPRequest("GET", "/api/portfolio", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `cryptodesk_http_requests_total{method="GET",route="/api/portfolio",status="200"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
