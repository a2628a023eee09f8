package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	binanceExchange = "binance"

	wsBaseURL      = "wss://stream.binance.com:9443"
	wsStreamPath   = "/stream"
	wsCombinedPath = "/stream?streams="
	restBaseURL    = "https://api.binance.com"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1024 * 1024

	minReconnectDelay = 1 * time.Second
	maxReconnectDelay = 60 * time.Second

	// lastPriceCacheTTL bounds how stale a ws-fed quote may be before a
	// caller is forced to the REST ticker endpoint (§6: "a small cache
	// (≤2s) shared across callers").
	lastPriceCacheTTL = 2 * time.Second

	activeSymbolsCacheTTL = time.Hour
)

// Client is a Binance implementation of the Adapter capability. It keeps
// a streaming websocket connection warm for whatever symbols Track has
// registered, and falls back to REST for anything the stream hasn't
// reported recently or at all.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	conn          *websocket.Conn
	symbols       map[string]bool
	mu            sync.RWMutex
	done          chan struct{}
	closeOnce     sync.Once
	reconnecting  bool
	subscriptionID int

	pingDone chan struct{}
	pingMu   sync.Mutex

	priceMu     sync.RWMutex
	lastPrice   map[string]float64
	lastPriceAt map[string]time.Time

	activeMu      sync.Mutex
	activeSymbols map[string]struct{}
	activeAt      time.Time
}

// NewClient creates a new Binance adapter. Call Run to start the
// background websocket ingestion loop.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		symbols:     make(map[string]bool),
		done:        make(chan struct{}),
		lastPrice:   make(map[string]float64),
		lastPriceAt: make(map[string]time.Time),
	}
}

// Exchange implements adapter.Adapter.
func (c *Client) Exchange() string { return binanceExchange }

// Track registers the symbols the engine currently cares about so the
// websocket stream can subscribe to them; it is safe to call repeatedly
// as the active alert set changes.
func (c *Client) Track(symbols []string) {
	c.mu.RLock()
	var toSubscribe []string
	for _, s := range symbols {
		stream := strings.ToLower(s)
		if !c.symbols[stream] {
			toSubscribe = append(toSubscribe, stream)
		}
	}
	c.mu.RUnlock()

	if len(toSubscribe) > 0 {
		if err := c.subscribe(toSubscribe); err != nil {
			c.logger.Error("binance: failed to subscribe", slog.String("error", err.Error()))
		}
	}
}

// Run starts the websocket ingestion loop; it blocks until ctx is done
// or Close is called.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Error("binance: connect failed", slog.String("error", err.Error()))
			c.handleReconnect(ctx)
			continue
		}

		if err := c.readMessages(ctx); err != nil {
			c.logger.Error("binance: read error", slog.String("error", err.Error()))
			c.handleReconnect(ctx)
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	streams := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		streams = append(streams, s+"@ticker")
	}
	c.mu.Unlock()

	url := wsBaseURL + wsStreamPath
	if len(streams) > 0 {
		url = wsBaseURL + wsCombinedPath + strings.Join(streams, "/")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect to binance: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.reconnecting = false
	c.mu.Unlock()

	c.logger.Info("binance: connected", slog.String("url", url))
	return nil
}

func (c *Client) subscribe(streams []string) error {
	c.mu.Lock()
	for _, s := range streams {
		c.symbols[s] = true
	}
	conn := c.conn
	c.subscriptionID++
	id := c.subscriptionID
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	msg := subscribeMessage{Method: "SUBSCRIBE", Params: tickerStreams(streams), ID: id}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func tickerStreams(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = s + "@ticker"
	}
	return out
}

func (c *Client) readMessages(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	c.pingMu.Lock()
	c.pingDone = make(chan struct{})
	pingDone := c.pingDone
	c.pingMu.Unlock()

	go c.pingLoop(ctx, pingDone)
	defer func() {
		c.pingMu.Lock()
		if c.pingDone != nil {
			close(c.pingDone)
			c.pingDone = nil
		}
		c.pingMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		c.mu.RLock()
		conn = c.conn
		c.mu.RUnlock()
		if conn == nil {
			return fmt.Errorf("connection lost")
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(data []byte) {
	var sm streamMessage
	if err := json.Unmarshal(data, &sm); err == nil && sm.Stream != "" {
		c.processTicker(sm.Data)
		return
	}
	var t tickerUpdate
	if err := json.Unmarshal(data, &t); err == nil && t.EventType == "24hrTicker" {
		c.storePrice(t.Symbol, t.LastPrice)
	}
}

func (c *Client) processTicker(raw json.RawMessage) {
	var t tickerUpdate
	if err := json.Unmarshal(raw, &t); err != nil {
		return
	}
	c.storePrice(t.Symbol, t.LastPrice)
}

func (c *Client) storePrice(symbol, rawPrice string) {
	price, err := strconv.ParseFloat(rawPrice, 64)
	if err != nil || price <= 0 {
		return
	}
	key := strings.ToLower(symbol)
	c.priceMu.Lock()
	c.lastPrice[key] = price
	c.lastPriceAt[key] = time.Now()
	c.priceMu.Unlock()
}

func (c *Client) pingLoop(ctx context.Context, pingDone chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-pingDone:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	delay := minReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(delay):
		}

		if err := c.connect(ctx); err != nil {
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		c.mu.RLock()
		streams := make([]string, 0, len(c.symbols))
		for s := range c.symbols {
			streams = append(streams, s+"@ticker")
		}
		c.mu.RUnlock()
		if len(streams) > 0 {
			msg := subscribeMessage{Method: "SUBSCRIBE", Params: streams, ID: 0}
			if data, err := json.Marshal(msg); err == nil {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.TextMessage, data)
			}
		}
		return
	}
}

// Close stops the websocket ingestion loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected reports whether the websocket is currently established.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// GetLastPricesBySymbols implements adapter.Adapter.
func (c *Client) GetLastPricesBySymbols(ctx context.Context, symbols []string, market string, opts LastPriceOptions) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	var missing []string

	if !opts.ExchangeOnly {
		now := time.Now()
		c.priceMu.RLock()
		for _, raw := range symbols {
			s := NormalizeSymbol(raw)
			key := strings.ToLower(strings.TrimSuffix(s, ".P"))
			if at, ok := c.lastPriceAt[key]; ok && now.Sub(at) <= lastPriceCacheTTL {
				out[s] = c.lastPrice[key]
				continue
			}
			missing = append(missing, s)
		}
		c.priceMu.RUnlock()
	} else {
		for _, raw := range symbols {
			missing = append(missing, NormalizeSymbol(raw))
		}
	}

	if len(missing) > 0 {
		fetched, err := c.fetchRestPrices(ctx, missing)
		if err != nil {
			if opts.Strict {
				return nil, fmt.Errorf("binance: strict price fetch: %w", err)
			}
			c.logger.Warn("binance: rest price fetch failed", slog.String("error", err.Error()))
		}
		for sym, price := range fetched {
			out[sym] = price
		}
	}

	if opts.Strict {
		for _, raw := range symbols {
			s := NormalizeSymbol(raw)
			if _, ok := out[s]; !ok {
				return nil, fmt.Errorf("binance: symbol %s unavailable upstream", s)
			}
		}
	}

	return out, nil
}

func (c *Client) fetchRestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	symbolsJSON, err := json.Marshal(symbols)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbols=%s", restBaseURL, symbolsJSON)

	var prices []restTickerPrice
	if err := c.getJSON(ctx, url, &prices); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(prices))
	for _, p := range prices {
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		out[NormalizeSymbol(p.Symbol)] = price
		c.storePrice(strings.ToLower(p.Symbol), p.Price)
	}
	return out, nil
}

// FetchActiveSymbols implements adapter.Adapter, cached for ~1h.
func (c *Client) FetchActiveSymbols(ctx context.Context, market string) (map[string]struct{}, error) {
	c.activeMu.Lock()
	if c.activeSymbols != nil && time.Since(c.activeAt) < activeSymbolsCacheTTL {
		out := cloneSet(c.activeSymbols)
		c.activeMu.Unlock()
		return out, nil
	}
	c.activeMu.Unlock()

	var resp exchangeInfoResponse
	if err := c.getJSON(ctx, restBaseURL+"/api/v3/exchangeInfo", &resp); err != nil {
		return nil, fmt.Errorf("binance: fetch exchange info: %w", err)
	}

	set := make(map[string]struct{}, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		set[NormalizeSymbol(s.Symbol)] = struct{}{}
	}

	c.activeMu.Lock()
	c.activeSymbols = set
	c.activeAt = time.Now()
	c.activeMu.Unlock()

	return cloneSet(set), nil
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// FetchKlines implements adapter.Adapter.
func (c *Client) FetchKlines(ctx context.Context, symbol, market, interval string, limit int, before time.Time) ([]Kline, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		restBaseURL, NormalizeSymbol(symbol), interval, limit)
	if !before.IsZero() {
		url += fmt.Sprintf("&endTime=%d", before.UnixMilli())
	}

	var rows []restKline
	if err := c.getJSON(ctx, url, &rows); err != nil {
		return nil, fmt.Errorf("binance: fetch klines for %s: %w", symbol, err)
	}

	out := make([]Kline, 0, len(rows))
	for _, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func parseKline(row restKline) (Kline, error) {
	openTimeMs, ok := row[0].(float64)
	if !ok {
		return Kline{}, fmt.Errorf("bad open time")
	}
	open, err1 := strconv.ParseFloat(fmt.Sprint(row[1]), 64)
	high, err2 := strconv.ParseFloat(fmt.Sprint(row[2]), 64)
	low, err3 := strconv.ParseFloat(fmt.Sprint(row[3]), 64)
	close, err4 := strconv.ParseFloat(fmt.Sprint(row[4]), 64)
	volume, err5 := strconv.ParseFloat(fmt.Sprint(row[5]), 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return Kline{}, fmt.Errorf("bad kline row")
	}
	return Kline{
		Time:   int64(openTimeMs) / 1000,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("binance http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.Unmarshal(body, out)
}

var _ Adapter = (*Client)(nil)
