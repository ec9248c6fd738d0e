package market

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const candleWindow = 128

var pingMessage = map[string]any{"method": "ping"}

// Feed keeps a Store current from the exchange websocket: mid prices per
// subscribed symbol plus rolling candle series. It reconnects with a fixed
// delay and replays its subscriptions on every new connection.
type Feed struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	store          *Store
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs []any
}

func NewFeed(url string, reconnectDelay time.Duration, store *Store, log *zap.Logger) *Feed {
	return &Feed{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   30 * time.Second,
		store:          store,
		log:            log,
	}
}

// SubscribeSymbol registers the mid-price and candle subscriptions for one
// symbol. Registrations made before Run are sent on first connect.
func (f *Feed) SubscribeSymbol(symbol, period string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs,
		map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "allMids"}},
		map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "candle", "coin": symbol, "interval": period}},
	)
}

func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := f.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if f.log != nil {
				f.log.Warn("feed connect failed", zap.Error(err))
			}
		} else {
			pingCtx, cancel := context.WithCancel(ctx)
			pingDone := make(chan struct{})
			go func() {
				defer close(pingDone)
				f.pingLoop(pingCtx)
			}()
			err := f.readLoop(ctx)
			cancel()
			<-pingDone
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logReadError(err)
			f.resetConn()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *Feed) connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		conn, _, err := websocket.Dial(ctx, f.url, nil)
		if err != nil {
			return err
		}
		f.conn = conn
	}
	for _, sub := range f.subs {
		if err := writeJSON(ctx, f.conn, sub); err != nil {
			// A conn that cannot take the subscriptions is dead; drop it so
			// the next attempt re-dials instead of reusing it.
			_ = f.conn.Close(websocket.StatusNormalClosure, "subscribe failed")
			f.conn = nil
			return err
		}
	}
	return nil
}

func (f *Feed) readLoop(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return errors.New("feed not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.handle(data)
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	f.mu.Lock()
	conn := f.conn
	interval := f.pingInterval
	f.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (f *Feed) handle(data []byte) {
	var envelope struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}
	switch envelope.Channel {
	case "allMids":
		f.handleMids(envelope.Data)
	case "candle":
		f.handleCandle(envelope.Data)
	}
}

func (f *Feed) handleMids(data json.RawMessage) {
	var payload struct {
		Mids map[string]string `json:"mids"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	for symbol, raw := range payload.Mids {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		prev, prevErr := f.store.Ticker(symbol)
		ticker := Ticker{Symbol: symbol, Price: price}
		if prevErr == nil {
			ticker.Change24h = prev.Change24h
			ticker.Volume24h = prev.Volume24h
			ticker.Percentage24 = prev.Percentage24
		}
		f.store.SetTicker(ticker)
	}
}

func (f *Feed) handleCandle(data json.RawMessage) {
	var payload struct {
		Symbol   string  `json:"s"`
		Interval string  `json:"i"`
		OpenMS   int64   `json:"t"`
		Open     flexNum `json:"o"`
		High     flexNum `json:"h"`
		Low      flexNum `json:"l"`
		Close    flexNum `json:"c"`
		Volume   flexNum `json:"v"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.Symbol == "" || payload.Interval == "" {
		return
	}
	candle := Candle{
		Timestamp: time.UnixMilli(payload.OpenMS).UTC(),
		Open:      float64(payload.Open),
		High:      float64(payload.High),
		Low:       float64(payload.Low),
		Close:     float64(payload.Close),
		Volume:    float64(payload.Volume),
	}
	f.store.AppendCandle(payload.Symbol, payload.Interval, candle, candleWindow)
}

func (f *Feed) logReadError(err error) {
	if f.log == nil || err == nil {
		return
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		f.log.Info("feed read loop ended", zap.Error(err))
		return
	}
	f.log.Warn("feed read loop ended", zap.Error(err))
}

func (f *Feed) resetConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "reset")
		f.conn = nil
	}
}

// flexNum accepts exchange number fields sent either as JSON numbers or as
// decimal strings.
type flexNum float64

func (n *flexNum) UnmarshalJSON(data []byte) error {
	if len(data) > 1 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = flexNum(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = flexNum(v)
	return nil
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
