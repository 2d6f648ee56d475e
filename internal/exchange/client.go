package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Retry configuration for API calls
const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// HTTPClient talks to a Binance-style futures REST API with per-user
// credentials. Signed endpoints carry an HMAC-SHA256 signature over the
// canonical query string plus a timestamp and a bounded recvWindow so
// replayed requests are rejected by the venue.
type HTTPClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	recvWindow string
	httpClient *http.Client
}

// NewHTTPClient creates a signed exchange client
func NewHTTPClient(apiKey, secretKey, baseURL string, requestTimeout time.Duration, recvWindowMs int) *HTTPClient {
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	if recvWindowMs <= 0 {
		recvWindowMs = 10000
	}
	// Trim any whitespace from keys - critical for signature generation
	return &HTTPClient{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: strconv.Itoa(recvWindowMs),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// GetWalletBalance returns the available balance for an asset
func (c *HTTPClient) GetWalletBalance(ctx context.Context, asset string) (float64, error) {
	resp, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("error fetching balance: %w", err)
	}

	var balances []balanceEntry
	if err := json.Unmarshal(resp, &balances); err != nil {
		return 0, fmt.Errorf("error parsing balance: %w", err)
	}

	for _, b := range balances {
		if b.Asset == asset {
			return b.AvailableBalance, nil
		}
	}
	return 0, nil
}

// GetMarkPrice returns the current price for a symbol
func (c *HTTPClient) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	resp, err := c.publicGet(ctx, "/fapi/v1/ticker/price", map[string]string{"symbol": symbol})
	if err != nil {
		return 0, fmt.Errorf("error fetching price for %s: %w", symbol, err)
	}

	var ticker tickerPrice
	if err := json.Unmarshal(resp, &ticker); err != nil {
		return 0, fmt.Errorf("error parsing price for %s: %w", symbol, err)
	}
	return ticker.Price, nil
}

// SetLeverage sets the leverage used for subsequent orders on a symbol
func (c *HTTPClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}
	if _, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params); err != nil {
		return fmt.Errorf("error setting leverage for %s: %w", symbol, err)
	}
	return nil
}

// PlaceMarketOrder submits a market order and returns the exchange ack
func (c *HTTPClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	params := map[string]string{
		"symbol":           req.Symbol,
		"side":             req.Side,
		"type":             "MARKET",
		"quantity":         strconv.FormatFloat(req.Quantity, 'f', -1, 64),
		"newOrderRespType": "RESULT",
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	resp, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("error placing %s %s order: %w", req.Side, req.Symbol, err)
	}

	var ack OrderAck
	if err := json.Unmarshal(resp, &ack); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return &ack, nil
}

// GetOpenPositions lists the exchange-reported open positions
func (c *HTTPClient) GetOpenPositions(ctx context.Context) ([]OpenPosition, error) {
	resp, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	var all []OpenPosition
	if err := json.Unmarshal(resp, &all); err != nil {
		return nil, fmt.Errorf("error parsing positions: %w", err)
	}

	var open []OpenPosition
	for _, p := range all {
		if p.PositionAmt != 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

// ==================== HTTP HELPERS ====================

// buildQueryString builds a query string from params (without signature)
func (c *HTTPClient) buildQueryString(params map[string]string) string {
	query := ""
	for k, v := range params {
		if k != "signature" {
			if query != "" {
				query += "&"
			}
			query += k + "=" + url.QueryEscape(v)
		}
	}
	return query
}

// sign creates a signature for the given query string
func (c *HTTPClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signParams builds query string with signature appended
func (c *HTTPClient) signParams(params map[string]string) string {
	query := c.buildQueryString(params)
	signature := c.sign(query)
	return query + "&signature=" + signature
}

// publicGet performs an unauthenticated GET request with retry
func (c *HTTPClient) publicGet(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}

		reqURL := fmt.Sprintf("%s%s", c.baseURL, endpoint)
		if len(values) > 0 {
			reqURL = fmt.Sprintf("%s?%s", reqURL, values.Encode())
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		body, err := c.do(req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) || attempt >= maxRetries {
			return nil, lastErr
		}
		delay := calculateRetryDelay(attempt)
		log.Printf("[EXCHANGE] Public GET %s failed (attempt %d/%d): %v, retrying in %v",
			endpoint, attempt+1, maxRetries+1, err, delay)
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// signedRequest performs an authenticated request with retry. The
// timestamp and recvWindow are refreshed per attempt so retried requests
// are never rejected as replays.
func (c *HTTPClient) signedRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		signed := make(map[string]string, len(params)+2)
		for k, v := range params {
			signed[k] = v
		}
		signed["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		signed["recvWindow"] = c.recvWindow
		query := c.signParams(signed)

		req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s%s", c.baseURL, endpoint), nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = query
		req.Header.Set("X-MBX-APIKEY", c.apiKey)

		body, err := c.do(req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) || attempt >= maxRetries {
			return nil, lastErr
		}
		delay := calculateRetryDelay(attempt)
		log.Printf("[EXCHANGE] %s %s failed (attempt %d/%d): %v, retrying in %v",
			method, endpoint, attempt+1, maxRetries+1, err, delay)
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// do executes one HTTP attempt and converts non-200 responses into APIError
func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return nil, apiErr
	}
	return body, nil
}

// calculateRetryDelay returns delay with exponential backoff and jitter
func calculateRetryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt)) // 2^attempt
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add jitter (±25%)
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - (delay / 4)
}

// sleepCtx sleeps for d or until the context is done. Returns false when
// the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
