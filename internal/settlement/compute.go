package settlement

// Plan carries the commission rates applicable to one settlement
type Plan struct {
	CommissionRate  float64
	AffiliateRate   float64
	AffiliateUserID *int64
}

// Outcome is the financial breakdown of one settlement
type Outcome struct {
	PlatformCommission  float64
	AffiliateCommission float64
	// NetCredit is what the position's owner receives: gross PnL minus
	// the platform commission. Losses pass through in full.
	NetCredit float64
}

// Compute derives the settlement breakdown. Commission is charged on
// profit only; a losing position settles with zero commission and the
// full loss debited. The affiliate share comes out of the platform's
// commission, never out of the user's net.
func Compute(grossPnL float64, plan Plan) Outcome {
	if grossPnL <= 0 {
		return Outcome{NetCredit: grossPnL}
	}

	platform := grossPnL * plan.CommissionRate
	affiliate := 0.0
	if plan.AffiliateUserID != nil {
		affiliate = platform * plan.AffiliateRate
	}

	return Outcome{
		PlatformCommission:  platform,
		AffiliateCommission: affiliate,
		NetCredit:           grossPnL - platform,
	}
}
