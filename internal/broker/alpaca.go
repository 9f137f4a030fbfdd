package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Default endpoints for the Alpaca trading and market-data APIs.
const (
	paperTradingBaseURL = "https://paper-api.alpaca.markets"
	liveTradingBaseURL  = "https://api.alpaca.markets"
	marketDataBaseURL   = "https://data.alpaca.markets"
)

// requestsPerMinute is the client-side request budget. Alpaca allows 200
// req/min on the free data plan; staying at that budget keeps the
// monitor's 15-second cadence well inside the limit.
const requestsPerMinute = 200

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// AlpacaAPI is an HTTP client for the Alpaca trading and market-data
// REST APIs.
type AlpacaAPI struct {
	client     *http.Client
	limiter    *rate.Limiter
	apiKey     string
	apiSecret  string
	tradingURL string
	dataURL    string
}

// NewAlpacaAPI creates an AlpacaAPI client. paper selects the
// paper-trading endpoint.
func NewAlpacaAPI(apiKey, apiSecret string, paper bool) *AlpacaAPI {
	tradingURL := liveTradingBaseURL
	if paper {
		tradingURL = paperTradingBaseURL
	}
	return &AlpacaAPI{
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 10),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		tradingURL: tradingURL,
		dataURL:    marketDataBaseURL,
	}
}

// WithBaseURLs overrides the trading and data endpoints (tests, proxies).
// Empty strings leave the current value in place.
func (a *AlpacaAPI) WithBaseURLs(tradingURL, dataURL string) *AlpacaAPI {
	if tradingURL != "" {
		a.tradingURL = strings.TrimRight(tradingURL, "/")
	}
	if dataURL != "" {
		a.dataURL = strings.TrimRight(dataURL, "/")
	}
	return a
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (a *AlpacaAPI) WithHTTPClient(c *http.Client) *AlpacaAPI {
	if c != nil {
		a.client = c
	}
	return a
}

// WithTimeout sets the HTTP client timeout duration.
func (a *AlpacaAPI) WithTimeout(timeout time.Duration) *AlpacaAPI {
	if a.client != nil {
		a.client.Timeout = timeout
	}
	return a
}

// Ensure AlpacaAPI implements Broker at compile time.
var _ Broker = (*AlpacaAPI)(nil)

// ============ Wire structures ============

// Alpaca serializes most numeric account fields as JSON strings; the wire
// structs keep them as strings and the adapter methods parse them into
// the domain types, so SDK shape changes stay at this boundary.

type latestBarResponse struct {
	Symbol string `json:"symbol"`
	Bar    struct {
		Close float64 `json:"c"`
	} `json:"bar"`
}

type latestQuotesResponse struct {
	Quotes map[string]struct {
		BidPrice float64 `json:"bp"`
		AskPrice float64 `json:"ap"`
	} `json:"quotes"`
}

type positionJSON struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

type orderJSON struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Qty            string `json:"qty"`
	Status         string `json:"status"`
	FilledAvgPrice string `json:"filled_avg_price"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func parseFloatField(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseTimeField(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (o *orderJSON) toOrder() *Order {
	return &Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           OrderSide(o.Side),
		Qty:            parseFloatField(o.Qty),
		Status:         o.Status,
		FilledAvgPrice: parseFloatField(o.FilledAvgPrice),
		CreatedAt:      parseTimeField(o.CreatedAt),
		UpdatedAt:      parseTimeField(o.UpdatedAt),
	}
}

// ============ API methods ============

// GetLatestPrice returns the latest bar close for symbol, a point-in-time
// price rather than a stream.
func (a *AlpacaAPI) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars/latest", a.dataURL, url.PathEscape(symbol))

	var response latestBarResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return 0, err
	}
	if response.Bar.Close == 0 {
		return 0, fmt.Errorf("no latest bar for symbol: %s", symbol)
	}
	return response.Bar.Close, nil
}

// GetQuotes returns the latest bid/ask for each symbol. Symbols the
// brokerage has no quote for are simply absent from the result.
func (a *AlpacaAPI) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	endpoint := a.dataURL + "/v2/stocks/quotes/latest?" + params.Encode()

	var response latestQuotesResponse
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	quotes := make(map[string]Quote, len(response.Quotes))
	for symbol, q := range response.Quotes {
		quotes[symbol] = Quote{Symbol: symbol, Bid: q.BidPrice, Ask: q.AskPrice}
	}
	return quotes, nil
}

// GetPositions retrieves all open positions from the account.
func (a *AlpacaAPI) GetPositions(ctx context.Context) ([]Position, error) {
	endpoint := a.tradingURL + "/v2/positions"

	var response []positionJSON
	if err := a.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(response))
	for _, p := range response {
		positions = append(positions, Position{
			Symbol:        p.Symbol,
			Qty:           parseFloatField(p.Qty),
			AvgEntryPrice: parseFloatField(p.AvgEntryPrice),
		})
	}
	return positions, nil
}

// SubmitMarketOrder submits a market order and returns the brokerage's
// confirmation.
func (a *AlpacaAPI) SubmitMarketOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("invalid order quantity: %d (must be > 0)", req.Qty)
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return nil, fmt.Errorf("invalid order side: %q", req.Side)
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = TIFDay
	}

	body := map[string]string{
		"symbol":        req.Symbol,
		"qty":           strconv.Itoa(req.Qty),
		"side":          string(req.Side),
		"type":          "market",
		"time_in_force": string(tif),
	}
	if req.ClientOrderID != "" {
		body["client_order_id"] = req.ClientOrderID
	}

	endpoint := a.tradingURL + "/v2/orders"
	var response orderJSON
	if err := a.makeRequestCtx(ctx, http.MethodPost, endpoint, body, &response); err != nil {
		return nil, err
	}
	return response.toOrder(), nil
}

// ClosePosition liquidates the entire position in symbol via the
// brokerage's close-position endpoint.
func (a *AlpacaAPI) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	endpoint := fmt.Sprintf("%s/v2/positions/%s", a.tradingURL, url.PathEscape(symbol))

	var response orderJSON
	if err := a.makeRequestCtx(ctx, http.MethodDelete, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response.toOrder(), nil
}

// makeRequestCtx makes a rate-limited HTTP request with context support.
func (a *AlpacaAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	body interface{}, response interface{}) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	req.Header.Add("APCA-API-KEY-ID", a.apiKey)
	req.Header.Add("APCA-API-SECRET-KEY", a.apiSecret)
	req.Header.Add("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Printf("Failed to close response body: %v", cerr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(raw))}
	}

	if resp.StatusCode == http.StatusNoContent || response == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
