package exchange

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

// ============================================================================
// TEST: Request signing
// ============================================================================

func TestSignParams(t *testing.T) {
	client := NewHTTPClient("api-key", "secret", "https://example.test", 5*time.Second, 10000)

	query := client.signParams(map[string]string{
		"symbol": "BTCUSDT",
		"side":   "BUY",
	})

	if !strings.Contains(query, "symbol=BTCUSDT") || !strings.Contains(query, "side=BUY") {
		t.Errorf("Expected params in query, got %q", query)
	}

	signaturePattern := regexp.MustCompile(`signature=[0-9a-f]{64}$`)
	if !signaturePattern.MatchString(query) {
		t.Errorf("Expected trailing 64-char hex signature, got %q", query)
	}
}

func TestSign_DeterministicPerKey(t *testing.T) {
	a := NewHTTPClient("k", "secret-a", "https://example.test", 5*time.Second, 10000)
	b := NewHTTPClient("k", "secret-b", "https://example.test", 5*time.Second, 10000)

	if a.sign("q=1") != a.sign("q=1") {
		t.Error("Expected identical signatures for identical input")
	}
	if a.sign("q=1") == b.sign("q=1") {
		t.Error("Expected different keys to produce different signatures")
	}
}

func TestNewHTTPClient_TrimsKeys(t *testing.T) {
	client := NewHTTPClient(" key \n", " secret ", "https://example.test/", 5*time.Second, 10000)
	if client.apiKey != "key" {
		t.Errorf("Expected trimmed api key, got %q", client.apiKey)
	}
	if client.secretKey != "secret" {
		t.Errorf("Expected trimmed secret key, got %q", client.secretKey)
	}
	if client.baseURL != "https://example.test" {
		t.Errorf("Expected trailing slash removed, got %q", client.baseURL)
	}
}

// ============================================================================
// TEST: Error classification
// ============================================================================

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"network error", errors.New("connection refused"), ErrClassTransient},
		{"bad api key", &APIError{HTTPStatus: 400, Code: -2014}, ErrClassAuth},
		{"rejected key", &APIError{HTTPStatus: 400, Code: -2015}, ErrClassAuth},
		{"bad signature", &APIError{HTTPStatus: 400, Code: -1022}, ErrClassAuth},
		{"http forbidden", &APIError{HTTPStatus: 403, Code: 0}, ErrClassAuth},
		{"balance insufficient", &APIError{HTTPStatus: 400, Code: -2018}, ErrClassInsufficientBalance},
		{"margin insufficient", &APIError{HTTPStatus: 400, Code: -2019}, ErrClassInsufficientBalance},
		{"rate limited code", &APIError{HTTPStatus: 400, Code: -1003}, ErrClassTransient},
		{"http teapot ban", &APIError{HTTPStatus: 418, Code: -1099}, ErrClassTransient},
		{"http too many requests", &APIError{HTTPStatus: 429, Code: -1099}, ErrClassTransient},
		{"server error", &APIError{HTTPStatus: 503, Code: -1099}, ErrClassTransient},
		{"invalid symbol", &APIError{HTTPStatus: 400, Code: -1121}, ErrClassRejected},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.expected {
				t.Errorf("Expected class %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !retryable(&APIError{HTTPStatus: 500}) {
		t.Error("Expected 5xx to be retryable")
	}
	if retryable(&APIError{HTTPStatus: 401}) {
		t.Error("Expected auth failure to be final")
	}
	if retryable(&APIError{HTTPStatus: 400, Code: -2019}) {
		t.Error("Expected insufficient margin to be final")
	}
}

// ============================================================================
// TEST: Retry backoff bounds
// ============================================================================

func TestCalculateRetryDelay(t *testing.T) {
	for attempt := 0; attempt < 6; attempt++ {
		delay := calculateRetryDelay(attempt)
		// Jitter is bounded by ±25% of the capped exponential delay
		if delay < baseRetryDelay/2 {
			t.Errorf("attempt %d: delay %v below lower bound", attempt, delay)
		}
		if delay > maxRetryDelay+maxRetryDelay/4 {
			t.Errorf("attempt %d: delay %v above upper bound", attempt, delay)
		}
	}
}

// ============================================================================
// TEST: Simulated exchange
// ============================================================================

func TestMockClient_OrderFillsAtMarkPrice(t *testing.T) {
	mock := NewMockClient(10000)
	mock.SetPrice("BTCUSDT", 50000)

	ack, err := mock.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Quantity: 0.5,
	})
	if err != nil {
		t.Fatalf("Expected order to fill, got %v", err)
	}
	if ack.Status != "FILLED" {
		t.Errorf("Expected FILLED, got %q", ack.Status)
	}
	if ack.AvgPrice != 50000 {
		t.Errorf("Expected fill at 50000, got %.2f", ack.AvgPrice)
	}
	if ack.ExecutedQty != 0.5 {
		t.Errorf("Expected executed quantity 0.5, got %.4f", ack.ExecutedQty)
	}

	open, err := mock.GetOpenPositions(context.Background())
	if err != nil {
		t.Fatalf("Expected positions, got %v", err)
	}
	if len(open) != 1 || open[0].PositionAmt != 0.5 {
		t.Errorf("Expected one position of 0.5, got %+v", open)
	}
}

func TestMockClient_SellReducesPosition(t *testing.T) {
	mock := NewMockClient(10000)
	mock.SetPrice("ETHUSDT", 3000)

	ctx := context.Background()
	mock.PlaceMarketOrder(ctx, OrderRequest{Symbol: "ETHUSDT", Side: SideBuy, Quantity: 2})
	mock.PlaceMarketOrder(ctx, OrderRequest{Symbol: "ETHUSDT", Side: SideSell, Quantity: 2, ReduceOnly: true})

	open, _ := mock.GetOpenPositions(ctx)
	if len(open) != 0 {
		t.Errorf("Expected flat book after offsetting orders, got %+v", open)
	}
}

func TestMockClient_UnknownSymbol(t *testing.T) {
	mock := NewMockClient(10000)

	_, err := mock.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol: "NOPEUSDT", Side: SideBuy, Quantity: 1,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -1121 {
		t.Errorf("Expected invalid symbol error -1121, got %v", err)
	}
	if Classify(err) != ErrClassRejected {
		t.Error("Expected unknown symbol to classify as rejected")
	}
}

func TestMockClient_FailureInjection(t *testing.T) {
	mock := NewMockClient(10000)
	mock.SetPrice("BTCUSDT", 50000)
	injected := &APIError{HTTPStatus: 400, Code: -2019, Message: "Margin is insufficient."}
	mock.FailNext(injected)

	_, err := mock.PlaceMarketOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1,
	})
	if !errors.Is(err, injected) && err != injected {
		t.Errorf("Expected injected error, got %v", err)
	}

	// The failure is consumed; the next call succeeds
	if _, err := mock.GetWalletBalance(context.Background(), "USDT"); err != nil {
		t.Errorf("Expected failure to be one-shot, got %v", err)
	}
}
