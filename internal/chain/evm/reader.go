package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// marketTuple mirrors the getMarket return tuple field for field.
type marketTuple struct {
	Creator      common.Address
	CreatedAt    *big.Int
	SettledAt    *big.Int
	Settled      bool
	Confidence   uint16
	Outcome      uint8
	TotalYesPool *big.Int
	TotalNoPool  *big.Int
	Question     string
}

// MarketReader reads markets from the market contract.
type MarketReader struct {
	caller ethereum.ContractCaller
	market common.Address
}

// NewMarketReader creates a MarketReader for the contract at market.
func NewMarketReader(caller ethereum.ContractCaller, market common.Address) *MarketReader {
	return &MarketReader{caller: caller, market: market}
}

// GetMarket calls getMarket(marketId) at the latest block.
func (r *MarketReader) GetMarket(ctx context.Context, marketID *big.Int) (domain.MarketState, error) {
	data, err := parsedABI.Pack("getMarket", marketID)
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("evm: pack getMarket: %w", err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.market, Data: data}, nil)
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("evm: call getMarket(%s): %w", marketID, err)
	}

	var res struct{ Market marketTuple }
	if err := parsedABI.UnpackIntoInterface(&res, "getMarket", out); err != nil {
		return domain.MarketState{}, fmt.Errorf("evm: unpack getMarket(%s): %w", marketID, err)
	}
	m := res.Market
	return domain.MarketState{
		Creator:      m.Creator,
		CreatedAt:    m.CreatedAt.Uint64(),
		SettledAt:    m.SettledAt.Uint64(),
		Settled:      m.Settled,
		Confidence:   m.Confidence,
		Outcome:      m.Outcome,
		TotalYesPool: m.TotalYesPool,
		TotalNoPool:  m.TotalNoPool,
		Question:     m.Question,
	}, nil
}

var _ domain.MarketReader = (*MarketReader)(nil)
