package domain

import (
	"fmt"
	"math/big"
)

// Verdict is the binary result of a resolved market.
type Verdict string

const (
	VerdictYes Verdict = "YES"
	VerdictNo  Verdict = "NO"
)

// MaxConfidence is the upper bound of Outcome.Confidence in basis points.
const MaxConfidence = 10000

// Outcome is the validated verdict returned by the AI oracle.
type Outcome struct {
	Result     Verdict `json:"result"`
	Confidence int     `json:"confidence"`
}

// Validate reports ErrInvalidOutcome unless Result is exactly YES or NO and
// Confidence lies in [0, MaxConfidence].
func (o Outcome) Validate() error {
	if o.Result != VerdictYes && o.Result != VerdictNo {
		return fmt.Errorf("%w: result %q", ErrInvalidOutcome, string(o.Result))
	}
	if o.Confidence < 0 || o.Confidence > MaxConfidence {
		return fmt.Errorf("%w: confidence %d out of range", ErrInvalidOutcome, o.Confidence)
	}
	return nil
}

// Prediction returns the contract enum value for the verdict (Yes=0, No=1).
func (o Outcome) Prediction() uint8 {
	if o.Result == VerdictYes {
		return 0
	}
	return 1
}

// SettlementReport is the decision written to the market contract.
type SettlementReport struct {
	MarketID   *big.Int `json:"market_id"`
	Outcome    uint8    `json:"outcome"`
	Confidence uint16   `json:"confidence"`
}

// NewSettlementReport builds a report from a validated outcome.
func NewSettlementReport(marketID *big.Int, o Outcome) (SettlementReport, error) {
	if err := o.Validate(); err != nil {
		return SettlementReport{}, err
	}
	return SettlementReport{
		MarketID:   new(big.Int).Set(marketID),
		Outcome:    o.Prediction(),
		Confidence: uint16(o.Confidence),
	}, nil
}
