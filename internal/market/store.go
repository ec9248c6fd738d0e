package market

import (
	"fmt"
	"sync"
)

const historyWindow = 32

type indicatorKey struct {
	symbol string
	name   string
	period string
}

type metricKey struct {
	symbol string
	name   string
	period string
}

type candleKey struct {
	symbol string
	period string
}

type regimeKey struct {
	symbol string
	period string
}

// Store is an in-memory metric store implementing Source. The live feed keeps
// it current; the verify CLI and tests seed it from fixtures. Reads never
// block on network I/O.
type Store struct {
	mu          sync.RWMutex
	indicators  map[indicatorKey]IndicatorResult
	flows       map[metricKey]FlowResult
	candles     map[candleKey][]Candle
	regimes     map[regimeKey]RegimeInfo
	priceChange map[metricKey]float64
	tickers     map[string]Ticker
}

func NewStore() *Store {
	return &Store{
		indicators:  make(map[indicatorKey]IndicatorResult),
		flows:       make(map[metricKey]FlowResult),
		candles:     make(map[candleKey][]Candle),
		regimes:     make(map[regimeKey]RegimeInfo),
		priceChange: make(map[metricKey]float64),
		tickers:     make(map[string]Ticker),
	}
}

func (s *Store) Indicator(symbol, name, period string) (IndicatorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.indicators[indicatorKey{symbol, name, period}]
	if !ok {
		return IndicatorResult{}, fmt.Errorf("indicator %s/%s/%s not available", symbol, name, period)
	}
	return result, nil
}

func (s *Store) FlowMetric(symbol, name, period string) (FlowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.flows[metricKey{symbol, name, period}]
	if !ok {
		return FlowResult{}, fmt.Errorf("flow metric %s/%s/%s not available", symbol, name, period)
	}
	return result, nil
}

func (s *Store) Candles(symbol, period string, count int) ([]Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.candles[candleKey{symbol, period}]
	if !ok || len(series) == 0 {
		return nil, fmt.Errorf("candles %s/%s not available", symbol, period)
	}
	if count <= 0 || count > len(series) {
		count = len(series)
	}
	out := make([]Candle, count)
	copy(out, series[len(series)-count:])
	return out, nil
}

func (s *Store) Regime(symbol, period string) (RegimeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.regimes[regimeKey{symbol, period}]
	if !ok {
		return RegimeInfo{}, fmt.Errorf("regime %s/%s not available", symbol, period)
	}
	return info, nil
}

func (s *Store) PriceChange(symbol, period string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	change, ok := s.priceChange[metricKey{symbol: symbol, period: period}]
	if !ok {
		return 0, fmt.Errorf("price change %s/%s not available", symbol, period)
	}
	return change, nil
}

func (s *Store) Ticker(symbol string) (Ticker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticker, ok := s.tickers[symbol]
	if !ok {
		return Ticker{}, fmt.Errorf("ticker %s not available", symbol)
	}
	return ticker, nil
}

func (s *Store) SetIndicator(symbol, name, period string, result IndicatorResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicators[indicatorKey{symbol, name, period}] = result
}

func (s *Store) SetFlowMetric(symbol, name, period string, result FlowResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(result.History) > historyWindow {
		result.History = result.History[len(result.History)-historyWindow:]
	}
	s.flows[metricKey{symbol, name, period}] = result
}

func (s *Store) SetCandles(symbol, period string, series []Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[candleKey{symbol, period}] = append([]Candle(nil), series...)
}

func (s *Store) AppendCandle(symbol, period string, candle Candle, window int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := candleKey{symbol, period}
	series := s.candles[key]
	if n := len(series); n > 0 && series[n-1].Timestamp.Equal(candle.Timestamp) {
		series[n-1] = candle
	} else {
		series = append(series, candle)
	}
	if window > 0 && len(series) > window {
		series = series[len(series)-window:]
	}
	s.candles[key] = series
}

func (s *Store) SetRegime(symbol, period string, info RegimeInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regimes[regimeKey{symbol, period}] = info
}

func (s *Store) SetPriceChange(symbol, period string, change float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceChange[metricKey{symbol: symbol, period: period}] = change
}

func (s *Store) SetTicker(ticker Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[ticker.Symbol] = ticker
}
