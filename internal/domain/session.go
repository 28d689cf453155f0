package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SessionRecord is an off-chain trading session snapshot awaiting final
// on-chain settlement.
type SessionRecord struct {
	MarketID         *big.Int         `json:"market_id"`
	SessionID        common.Hash      `json:"session_id"`
	Participants     []common.Address `json:"participants"`
	Balances         []*big.Int       `json:"balances"`
	Signatures       [][]byte         `json:"signatures"`
	BackendSignature []byte           `json:"backend_signature"`
	ResolveTime      int64            `json:"resolve_time"`
}

// Validate checks that balances and signatures line up with participants.
func (s SessionRecord) Validate() error {
	if s.MarketID == nil || s.MarketID.Sign() < 0 {
		return fmt.Errorf("%w: session %s: missing market id", ErrInvalidSession, s.SessionID.Hex())
	}
	if len(s.Balances) != len(s.Participants) {
		return fmt.Errorf("%w: session %s: %d balances for %d participants",
			ErrInvalidSession, s.SessionID.Hex(), len(s.Balances), len(s.Participants))
	}
	if len(s.Signatures) != len(s.Participants) {
		return fmt.Errorf("%w: session %s: %d signatures for %d participants",
			ErrInvalidSession, s.SessionID.Hex(), len(s.Signatures), len(s.Participants))
	}
	for i, b := range s.Balances {
		if b == nil || b.Sign() < 0 {
			return fmt.Errorf("%w: session %s: invalid balance at %d", ErrInvalidSession, s.SessionID.Hex(), i)
		}
	}
	return nil
}

// Eligible reports whether the session may be finalized as of asOf.
func (s SessionRecord) Eligible(asOf time.Time) bool {
	return s.ResolveTime <= asOf.Unix()
}
