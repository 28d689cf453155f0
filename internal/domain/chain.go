package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus classifies the outcome of a report write.
type TxStatus int

const (
	TxStatusUnknown TxStatus = iota
	TxStatusSuccess
	TxStatusReverted
	TxStatusFatal
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusSuccess:
		return "SUCCESS"
	case TxStatusReverted:
		return "REVERTED"
	case TxStatusFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// WriteResult is what the chain reports back for a submitted report.
type WriteResult struct {
	Status TxStatus
	TxHash common.Hash
}

// MarketReader reads market records from the market contract.
type MarketReader interface {
	GetMarket(ctx context.Context, marketID *big.Int) (MarketState, error)
}

// ReportWriter delivers a signed report to a receiver contract.
type ReportWriter interface {
	WriteReport(ctx context.Context, receiver common.Address, report []byte) (WriteResult, error)
}
