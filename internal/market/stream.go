package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// StreamConfig configures the Binance combined ticker stream.
type StreamConfig struct {
	// URL is the combined stream endpoint, e.g. wss://stream.binance.com:9443/stream
	URL     string
	Symbols []string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// ReadTimeout drops the connection when nothing arrives for this long.
	ReadTimeout  time.Duration
	PingInterval time.Duration

	// SubscriberBuffer is the channel size handed to each subscriber.
	SubscriberBuffer int

	Logger   *slog.Logger
	Recorder Recorder
}

func (c *StreamConfig) applyDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = time.Minute
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
}

// TickerStream consumes Binance 24hr ticker events, writes them to the
// quote cache and fans them out to subscribers.
type TickerStream struct {
	config StreamConfig
	cache  QuoteCache
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan Quote]struct{}
	closed      bool
}

// NewTickerStream creates a stream for the configured symbols
func NewTickerStream(config StreamConfig, cache QuoteCache) (*TickerStream, error) {
	if config.URL == "" {
		return nil, errors.New("stream URL is required")
	}
	if len(config.Symbols) == 0 {
		return nil, errors.New("at least one symbol is required")
	}
	config.applyDefaults()
	return &TickerStream{
		config:      config,
		cache:       cache,
		logger:      config.Logger.With("component", "binance-stream"),
		subscribers: make(map[chan Quote]struct{}),
	}, nil
}

// streamURL builds the combined stream URL for the symbols
func (s *TickerStream) streamURL() string {
	streams := make([]string, 0, len(s.config.Symbols))
	for _, sym := range s.config.Symbols {
		streams = append(streams, strings.ToLower(sym)+"@ticker")
	}
	return s.config.URL + "?streams=" + strings.Join(streams, "/")
}

// Subscribe returns a channel receiving every quote. Slow subscribers miss
// quotes rather than stall the stream. Cancel stops delivery and closes
// the channel.
func (s *TickerStream) Subscribe() (<-chan Quote, func()) {
	ch := make(chan Quote, s.config.SubscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Run connects and reconnects until ctx is cancelled. Subscriber channels
// are closed when it returns.
func (s *TickerStream) Run(ctx context.Context) error {
	defer s.closeSubscribers()

	backoff := s.config.InitialBackoff
	first := true
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL(), nil)
		if err != nil {
			s.logger.Warn("failed to connect", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * 2)
			if backoff > s.config.MaxBackoff {
				backoff = s.config.MaxBackoff
			}
			continue
		}

		backoff = s.config.InitialBackoff
		if !first {
			s.config.Recorder.StreamReconnected()
		}
		first = false
		s.logger.Info("connected to Binance ticker stream", "symbols", len(s.config.Symbols))

		err = s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("ticker stream disconnected, reconnecting", "error", err)
	}
}

func (s *TickerStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
				readErr <- fmt.Errorf("failed to set read deadline: %w", err)
				return
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			quote, err := parseTickerMessage(data, time.Now())
			if err != nil {
				s.logger.Debug("skipping stream message", "error", err)
				continue
			}
			s.publish(ctx, quote)
		}
	}()

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		}
	}
}

func (s *TickerStream) publish(ctx context.Context, q Quote) {
	if err := s.cache.Set(ctx, q); err != nil {
		s.logger.Warn("failed to cache quote", "symbol", q.Symbol, "error", err)
	}
	s.config.Recorder.QuoteReceived(q.Symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- q:
		default:
			s.logger.Debug("subscriber channel full, dropping quote", "symbol", q.Symbol)
		}
	}
}

func (s *TickerStream) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerEvent is a Binance 24hrTicker payload. Several keys differ only by
// case, so every key is declared to stop encoding/json from matching one
// onto another field case-insensitively.
type tickerEvent struct {
	EventType     string          `json:"e"`
	EventTime     int64           `json:"E"`
	Symbol        string          `json:"s"`
	PriceChange   decimal.Decimal `json:"p"`
	ChangePercent decimal.Decimal `json:"P"`
	WeightedAvg   decimal.Decimal `json:"w"`
	PrevClose     decimal.Decimal `json:"x"`
	LastPrice     decimal.Decimal `json:"c"`
	LastQty       decimal.Decimal `json:"Q"`
	Bid           decimal.Decimal `json:"b"`
	BidQty        decimal.Decimal `json:"B"`
	Ask           decimal.Decimal `json:"a"`
	AskQty        decimal.Decimal `json:"A"`
	Open          decimal.Decimal `json:"o"`
	High          decimal.Decimal `json:"h"`
	Low           decimal.Decimal `json:"l"`
	Volume        decimal.Decimal `json:"v"`
	QuoteVolume   decimal.Decimal `json:"q"`
	OpenTime      int64           `json:"O"`
	CloseTime     int64           `json:"C"`
	FirstTradeID  int64           `json:"F"`
	LastTradeID   int64           `json:"L"`
	TradeCount    int64           `json:"n"`
}

// parseTickerMessage decodes a combined-stream message into a Quote
func parseTickerMessage(data []byte, receivedAt time.Time) (Quote, error) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Quote{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return Quote{}, errors.New("message has no data")
	}

	var ev tickerEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return Quote{}, fmt.Errorf("decoding ticker: %w", err)
	}
	if ev.EventType != "24hrTicker" {
		return Quote{}, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	if ev.Symbol == "" || !ev.LastPrice.IsPositive() {
		return Quote{}, errors.New("ticker without symbol or price")
	}

	return Quote{
		Symbol:        ev.Symbol,
		Price:         ev.LastPrice,
		ChangePercent: ev.ChangePercent,
		High:          ev.High,
		Low:           ev.Low,
		Volume:        ev.Volume,
		QuoteVolume:   ev.QuoteVolume,
		EventTime:     time.UnixMilli(ev.EventTime).UTC(),
		UpdatedAt:     receivedAt,
	}, nil
}
