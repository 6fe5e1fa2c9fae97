package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPProvider fetches bars from a Binance-compatible klines endpoint.
// Responses arrive as positional arrays, so decoding goes through
// []interface{} rather than struct tags.
type HTTPProvider struct {
	baseURL    string
	interval   string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider against baseURL. The interval is the
// kline interval string the upstream expects, e.g. "1h".
func NewHTTPProvider(baseURL, interval string) *HTTPProvider {
	if interval == "" {
		interval = "1h"
	}
	return &HTTPProvider{
		baseURL:    baseURL,
		interval:   interval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetBars fetches up to limit bars for the symbol, oldest first.
func (p *HTTPProvider) GetBars(ctx context.Context, symbol string, limit int) ([]Bar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", p.interval)
	params.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error building klines request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market data API error: %s", string(body))
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	bars := make([]Bar, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 7 {
			continue
		}
		bars = append(bars, Bar{
			OpenTime:  time.UnixMilli(int64(asFloat(raw[0]))).UTC(),
			Open:      asFloat(raw[1]),
			High:      asFloat(raw[2]),
			Low:       asFloat(raw[3]),
			Close:     asFloat(raw[4]),
			Volume:    asFloat(raw[5]),
			CloseTime: time.UnixMilli(int64(asFloat(raw[6]))).UTC(),
		})
	}

	if len(bars) < limit {
		return nil, fmt.Errorf("%w: got %d bars, need %d", ErrInsufficientData, len(bars), limit)
	}
	return bars, nil
}

// GetPriorSession aggregates daily bars into the most recently completed
// session. The upstream's last daily bar is the in-progress session, so the
// one before it is the prior session.
func (p *HTTPProvider) GetPriorSession(ctx context.Context, symbol string) (SessionBar, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "1d")
	params.Set("limit", "2")

	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SessionBar{}, fmt.Errorf("error building session request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return SessionBar{}, fmt.Errorf("error fetching session bar: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SessionBar{}, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return SessionBar{}, fmt.Errorf("market data API error: %s", string(body))
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return SessionBar{}, fmt.Errorf("error parsing session bar: %w", err)
	}

	if len(rawKlines) < 2 {
		return SessionBar{}, fmt.Errorf("%w: no completed session for %s", ErrInsufficientData, symbol)
	}

	prior := rawKlines[len(rawKlines)-2]
	if len(prior) < 7 {
		return SessionBar{}, fmt.Errorf("%w: malformed session bar for %s", ErrInsufficientData, symbol)
	}

	return SessionBar{
		Date:  SessionDate(time.UnixMilli(int64(asFloat(prior[0])))),
		High:  asFloat(prior[2]),
		Low:   asFloat(prior[3]),
		Close: asFloat(prior[4]),
	}, nil
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
