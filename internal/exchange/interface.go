package exchange

import "context"

// Client is the consumed exchange API surface: balances, market orders
// with leverage and reduce-only support, open positions and prices.
// Implementations must bound every call with the request context.
type Client interface {
	// GetWalletBalance returns the available balance for an asset
	GetWalletBalance(ctx context.Context, asset string) (float64, error)

	// GetMarkPrice returns the current price for a symbol
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// SetLeverage sets the leverage used for subsequent orders on a symbol
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceMarketOrder submits a market order and returns the exchange
	// acknowledgment. No ack means the order must be treated as not placed.
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// GetOpenPositions lists the exchange-reported open positions
	GetOpenPositions(ctx context.Context) ([]OpenPosition, error)
}
