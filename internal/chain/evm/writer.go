package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/retropick/internal/crypto"
	"github.com/alanyoungcy/retropick/internal/domain"
)

// TxBackend is the subset of ethclient the writer needs.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WriterConfig tunes a ReportWriter.
type WriterConfig struct {
	ChainID        *big.Int
	GasLimit       uint64
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

// ReportWriter delivers reports by calling onReport(metadata, report) on a
// receiver. metadata is the signer's signature over keccak256(report).
type ReportWriter struct {
	backend TxBackend
	signer  *crypto.ReportSigner
	cfg     WriterConfig
	logger  *slog.Logger

	mu sync.Mutex // serialises nonce allocation
}

// NewReportWriter creates a ReportWriter.
func NewReportWriter(backend TxBackend, signer *crypto.ReportSigner, cfg WriterConfig, logger *slog.Logger) *ReportWriter {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 500_000
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportWriter{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "report_writer")),
	}
}

// WriteReport signs and submits report to receiver and waits for the
// receipt. Only a mined successful receipt yields TxStatusSuccess.
func (w *ReportWriter) WriteReport(ctx context.Context, receiver common.Address, report []byte) (domain.WriteResult, error) {
	metadata, err := w.signer.Sign(report)
	if err != nil {
		return domain.WriteResult{Status: domain.TxStatusFatal}, err
	}
	data, err := parsedABI.Pack("onReport", metadata, report)
	if err != nil {
		return domain.WriteResult{Status: domain.TxStatusFatal}, fmt.Errorf("evm: pack onReport: %w", err)
	}

	tx, err := w.send(ctx, receiver, data)
	if err != nil {
		return domain.WriteResult{Status: domain.TxStatusFatal}, err
	}
	hash := tx.Hash()
	w.logger.InfoContext(ctx, "report submitted",
		slog.String("receiver", receiver.Hex()),
		slog.String("tx_hash", hash.Hex()),
	)

	receipt, err := w.waitReceipt(ctx, hash)
	if err != nil {
		return domain.WriteResult{Status: domain.TxStatusUnknown, TxHash: hash}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.WriteResult{Status: domain.TxStatusReverted, TxHash: hash}, nil
	}
	return domain.WriteResult{Status: domain.TxStatusSuccess, TxHash: hash}, nil
}

func (w *ReportWriter) send(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	from := w.signer.Address()
	nonce, err := w.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("evm: nonce for %s: %w", from.Hex(), err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("evm: gas price: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      w.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.cfg.ChainID), w.signer.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("%w: sign tx: %w", domain.ErrSigningFailed, err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("evm: send tx: %w", err)
	}
	return signed, nil
}

func (w *ReportWriter) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(w.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("evm: receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("evm: receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.ReportWriter = (*ReportWriter)(nil)
