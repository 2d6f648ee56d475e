package exchange

import (
	"context"
	"sync"
)

// MockClient is a simulated exchange used for testnet-routed users and
// tests. Orders always fill at the configured mark price unless a failure
// has been injected.
type MockClient struct {
	mu           sync.Mutex
	balances     map[string]float64
	prices       map[string]float64
	leverage     map[string]int
	positions    map[string]float64 // symbol -> signed quantity
	nextID       int64
	failNext     error
	PlacedOrders []OrderRequest
}

// NewMockClient creates a simulated exchange with a starting USDT balance
func NewMockClient(startingBalance float64) *MockClient {
	return &MockClient{
		balances:  map[string]float64{"USDT": startingBalance},
		prices:    make(map[string]float64),
		leverage:  make(map[string]int),
		positions: make(map[string]float64),
		nextID:    1000,
	}
}

// SetPrice sets the simulated mark price for a symbol
func (m *MockClient) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetBalance sets the simulated balance for an asset
func (m *MockClient) SetBalance(asset string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = balance
}

// FailNext injects an error returned by the next client call
func (m *MockClient) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MockClient) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

// GetWalletBalance returns the simulated balance for an asset
func (m *MockClient) GetWalletBalance(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	return m.balances[asset], nil
}

// GetMarkPrice returns the simulated price for a symbol
func (m *MockClient) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	price, ok := m.prices[symbol]
	if !ok {
		return 0, &APIError{HTTPStatus: 400, Code: -1121, Message: "Invalid symbol."}
	}
	return price, nil
}

// SetLeverage records the simulated leverage for a symbol
func (m *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.leverage[symbol] = leverage
	return nil
}

// PlaceMarketOrder fills a simulated market order at the current mark price
func (m *MockClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	price, ok := m.prices[req.Symbol]
	if !ok {
		return nil, &APIError{HTTPStatus: 400, Code: -1121, Message: "Invalid symbol."}
	}

	delta := req.Quantity
	if req.Side == SideSell {
		delta = -req.Quantity
	}
	m.positions[req.Symbol] += delta
	m.PlacedOrders = append(m.PlacedOrders, req)

	m.nextID++
	return &OrderAck{
		OrderID:     m.nextID,
		Symbol:      req.Symbol,
		Status:      "FILLED",
		AvgPrice:    price,
		ExecutedQty: req.Quantity,
	}, nil
}

// GetOpenPositions lists simulated positions with non-zero quantity
func (m *MockClient) GetOpenPositions(ctx context.Context) ([]OpenPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	var open []OpenPosition
	for symbol, qty := range m.positions {
		if qty == 0 {
			continue
		}
		open = append(open, OpenPosition{
			Symbol:      symbol,
			PositionAmt: qty,
			MarkPrice:   m.prices[symbol],
			Leverage:    m.leverage[symbol],
		})
	}
	return open, nil
}
