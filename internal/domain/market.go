package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MarketInput is the payload for an on-chain market creation. ExternalID is
// the content-addressed dedup key the factory uses to reject duplicates.
type MarketInput struct {
	Question    string         `json:"question"`
	RequestedBy common.Address `json:"requested_by"`
	ResolveTime int64          `json:"resolve_time"`
	Category    string         `json:"category"`
	Source      string         `json:"source"`
	ExternalID  common.Hash    `json:"external_id"`
}

// MarketState mirrors the tuple returned by the market contract's getMarket.
type MarketState struct {
	Creator      common.Address `json:"creator"`
	CreatedAt    uint64         `json:"created_at"`
	SettledAt    uint64         `json:"settled_at"`
	Settled      bool           `json:"settled"`
	Confidence   uint16         `json:"confidence"`
	Outcome      uint8          `json:"outcome"`
	TotalYesPool *big.Int       `json:"total_yes_pool"`
	TotalNoPool  *big.Int       `json:"total_no_pool"`
	Question     string         `json:"question"`
}

// SettlementRequest is the decoded SettlementRequested(uint256,string) event.
type SettlementRequest struct {
	MarketID    *big.Int    `json:"market_id"`
	Question    string      `json:"question"`
	BlockNumber uint64      `json:"block_number"`
	TxHash      common.Hash `json:"tx_hash"`
	LogIndex    uint        `json:"log_index"`
}
