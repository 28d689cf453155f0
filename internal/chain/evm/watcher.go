package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// LogBackend is the subset of ethclient the watcher needs.
type LogBackend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// SettlementHandler receives one decoded request. asOf is the block time.
type SettlementHandler func(ctx context.Context, req domain.SettlementRequest, asOf time.Time) error

// WatcherConfig tunes a LogWatcher.
type WatcherConfig struct {
	Market    common.Address
	FromBlock uint64
	Poll      time.Duration
	// Latest follows the chain head instead of the finalized block.
	Latest bool
}

// LogWatcher polls for SettlementRequested logs up to the finalized block
// so every replica sees the same, non-reorgable set of events.
type LogWatcher struct {
	backend LogBackend
	cfg     WatcherConfig
	next    uint64
	logger  *slog.Logger
}

// NewLogWatcher creates a LogWatcher. A zero FromBlock starts at the
// current head on the first poll.
func NewLogWatcher(backend LogBackend, cfg WatcherConfig, logger *slog.Logger) *LogWatcher {
	if cfg.Poll <= 0 {
		cfg.Poll = 12 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogWatcher{
		backend: backend,
		cfg:     cfg,
		next:    cfg.FromBlock,
		logger:  logger.With(slog.String("component", "log_watcher")),
	}
}

// Run polls until ctx is cancelled. Handler errors are logged and do not
// stop the watcher.
func (w *LogWatcher) Run(ctx context.Context, handle SettlementHandler) error {
	w.logger.InfoContext(ctx, "log watcher started", slog.String("market", w.cfg.Market.Hex()))
	defer w.logger.Info("log watcher stopped")

	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx, handle); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "log poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll processes every new log up to the confirmation head once.
func (w *LogWatcher) Poll(ctx context.Context, handle SettlementHandler) error {
	head, err := w.head(ctx)
	if err != nil {
		return err
	}
	if w.next == 0 {
		w.next = head + 1
		return nil
	}
	if head < w.next {
		return nil
	}

	logs, err := w.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.next),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{w.cfg.Market},
		Topics:    [][]common.Hash{{SettlementRequestedTopic()}},
	})
	if err != nil {
		return fmt.Errorf("evm: filter logs %d-%d: %w", w.next, head, err)
	}

	times := make(map[uint64]time.Time)
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		req, err := DecodeSettlementRequested(lg)
		if err != nil {
			w.logger.WarnContext(ctx, "skipping undecodable log",
				slog.String("tx_hash", lg.TxHash.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		asOf, ok := times[lg.BlockNumber]
		if !ok {
			h, err := w.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return fmt.Errorf("evm: header %d: %w", lg.BlockNumber, err)
			}
			asOf = time.Unix(int64(h.Time), 0).UTC()
			times[lg.BlockNumber] = asOf
		}
		if err := handle(ctx, req, asOf); err != nil {
			w.logger.WarnContext(ctx, "settlement handler failed",
				slog.String("market_id", req.MarketID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	w.next = head + 1
	return nil
}

func (w *LogWatcher) head(ctx context.Context) (uint64, error) {
	var tag *big.Int
	if !w.cfg.Latest {
		tag = big.NewInt(int64(rpc.FinalizedBlockNumber))
	}
	h, err := w.backend.HeaderByNumber(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("evm: head: %w", err)
	}
	return h.Number.Uint64(), nil
}

// DecodeSettlementRequested decodes a SettlementRequested log.
func DecodeSettlementRequested(lg types.Log) (domain.SettlementRequest, error) {
	if len(lg.Topics) != 2 || lg.Topics[0] != SettlementRequestedTopic() {
		return domain.SettlementRequest{}, fmt.Errorf("evm: not a SettlementRequested log")
	}
	vals, err := parsedABI.Unpack("SettlementRequested", lg.Data)
	if err != nil {
		return domain.SettlementRequest{}, fmt.Errorf("evm: unpack SettlementRequested: %w", err)
	}
	question, ok := vals[0].(string)
	if !ok {
		return domain.SettlementRequest{}, fmt.Errorf("evm: SettlementRequested question has type %T", vals[0])
	}
	return domain.SettlementRequest{
		MarketID:    new(big.Int).SetBytes(lg.Topics[1].Bytes()),
		Question:    question,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
	}, nil
}
