package exchange

// Order sides on the exchange wire
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// OrderRequest describes a market order to submit
type OrderRequest struct {
	Symbol     string
	Side       string // BUY or SELL
	Quantity   float64
	ReduceOnly bool
}

// OrderAck is the exchange's confirmation of an accepted order
type OrderAck struct {
	OrderID     int64   `json:"orderId"`
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"`
	AvgPrice    float64 `json:"avgPrice,string"`
	ExecutedQty float64 `json:"executedQty,string"`
}

// OpenPosition is an exchange-reported position
type OpenPosition struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"positionAmt,string"`
	EntryPrice       float64 `json:"entryPrice,string"`
	MarkPrice        float64 `json:"markPrice,string"`
	UnRealizedProfit float64 `json:"unRealizedProfit,string"`
	Leverage         int     `json:"leverage,string"`
}

// balanceEntry is one asset row from the balance endpoint
type balanceEntry struct {
	Asset            string  `json:"asset"`
	Balance          float64 `json:"balance,string"`
	AvailableBalance float64 `json:"availableBalance,string"`
}

// tickerPrice is the public price endpoint payload
type tickerPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,string"`
}
