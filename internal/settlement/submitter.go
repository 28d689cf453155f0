// Package settlement drives one report from state check to confirmed write.
//
// Each request walks Pending -> ReadState -> (skipped | Build -> Elect ->
// Write) and ends in exactly one Result. The chain's finalized flag is the
// idempotency authority; there are no retries inside a single invocation.
// Replicas that share a lock manager elect one transmitter per decision.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// Status is the terminal state of one submission.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Skip reasons.
const (
	ReasonAlreadySettled = "already settled"
	ReasonOtherReplica   = "transmitted by another replica"
)

// Check reports whether the work a request targets is already finalized.
type Check func(ctx context.Context) (bool, error)

// BuildFunc produces the encoded report. It runs only after Check.
type BuildFunc func(ctx context.Context) ([]byte, error)

// Request is one unit of submission work.
type Request struct {
	Kind      string
	Key       string
	TriggerID string
	Receiver  common.Address
	// Check is nil for work with no readable finalized state.
	Check Check
	Build BuildFunc
	Extra map[string]string
}

// Result is the outcome of one Request. TxHash is set only on success or
// when a transaction was sent but did not succeed.
type Result struct {
	Kind   string
	Key    string
	Status Status
	TxHash common.Hash
	Reason string
	Err    error
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLedger records every result in an attempt ledger.
func WithLedger(l domain.AttemptStore) Option {
	return func(s *Submitter) { s.ledger = l }
}

// WithArchive saves every written report.
func WithArchive(a domain.ReportArchive) Option {
	return func(s *Submitter) { s.archive = a }
}

// WithTransmitLock elects a single transmitter for each (trigger, kind, key)
// among the processes sharing lm. The election lock is left to expire after
// ttl so a replica that finishes consensus late still loses.
func WithTransmitLock(lm domain.LockManager, ttl time.Duration) Option {
	return func(s *Submitter) {
		s.locks = lm
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// Submitter executes settlement requests against a ReportWriter.
type Submitter struct {
	writer  domain.ReportWriter
	ledger  domain.AttemptStore
	archive domain.ReportArchive
	locks   domain.LockManager
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(writer domain.ReportWriter, logger *slog.Logger, opts ...Option) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Submitter{
		writer:  writer,
		lockTTL: 5 * time.Minute,
		logger:  logger.With(slog.String("component", "submitter")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit runs a single request to completion.
func (s *Submitter) Submit(ctx context.Context, req Request) Result {
	res := s.submit(ctx, req)
	s.record(ctx, req, res)

	attrs := []any{
		slog.String("kind", req.Kind),
		slog.String("key", req.Key),
		slog.String("status", string(res.Status)),
	}
	switch res.Status {
	case StatusSuccess:
		s.logger.InfoContext(ctx, "report written", append(attrs, slog.String("tx_hash", res.TxHash.Hex()))...)
	case StatusSkipped:
		s.logger.InfoContext(ctx, "submission skipped", append(attrs, slog.String("reason", res.Reason))...)
	default:
		s.logger.WarnContext(ctx, "submission failed", append(attrs, slog.String("reason", res.Reason))...)
	}
	return res
}

func (s *Submitter) submit(ctx context.Context, req Request) Result {
	res := Result{Kind: req.Kind, Key: req.Key}
	fail := func(err error) Result {
		res.Status = StatusFailed
		res.Err = err
		res.Reason = err.Error()
		return res
	}

	if req.Build == nil {
		return fail(errors.New("settlement: request has no report builder"))
	}
	if req.Check != nil {
		done, err := req.Check(ctx)
		if err != nil {
			return fail(fmt.Errorf("settlement: read state: %w", err))
		}
		if done {
			res.Status = StatusSkipped
			res.Reason = ReasonAlreadySettled
			res.Err = domain.ErrAlreadySettled
			return res
		}
	}

	payload, err := req.Build(ctx)
	if err != nil {
		return fail(fmt.Errorf("settlement: build report: %w", err))
	}

	if s.locks != nil {
		_, err := s.locks.Acquire(ctx, transmitKey(req), s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			res.Status = StatusSkipped
			res.Reason = ReasonOtherReplica
			res.Err = err
			return res
		}
		if err != nil {
			return fail(fmt.Errorf("settlement: elect transmitter: %w", err))
		}
	}

	wr, err := s.writer.WriteReport(ctx, req.Receiver, payload)
	res.TxHash = wr.TxHash
	s.save(ctx, req, payload, wr)
	if err != nil {
		return fail(fmt.Errorf("settlement: write report: %w", err))
	}
	if wr.Status != domain.TxStatusSuccess {
		return fail(fmt.Errorf("settlement: transaction status %s", wr.Status))
	}
	res.Status = StatusSuccess
	return res
}

// transmitKey names one logical decision: the consensus round plus the work
// item it decided.
func transmitKey(req Request) string {
	return "transmit:" + req.TriggerID + ":" + req.Kind + ":" + req.Key
}

// SubmitBatch submits every request independently. A failed item never
// prevents the following items from running.
func (s *Submitter) SubmitBatch(ctx context.Context, reqs []Request) []Result {
	out := make([]Result, 0, len(reqs))
	for _, r := range reqs {
		if err := ctx.Err(); err != nil {
			out = append(out, Result{Kind: r.Kind, Key: r.Key, Status: StatusFailed, Reason: err.Error(), Err: err})
			continue
		}
		out = append(out, s.Submit(ctx, r))
	}
	return out
}

func (s *Submitter) record(ctx context.Context, req Request, res Result) {
	if s.ledger == nil {
		return
	}
	a := domain.Attempt{
		Kind:      req.Kind,
		Key:       req.Key,
		TriggerID: req.TriggerID,
		Status:    string(res.Status),
		Reason:    res.Reason,
		CreatedAt: time.Now().UTC(),
	}
	if res.TxHash != (common.Hash{}) {
		a.TxHash = res.TxHash.Hex()
	}
	if err := s.ledger.Record(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "failed to record attempt",
			slog.String("key", req.Key),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Submitter) save(ctx context.Context, req Request, payload []byte, wr domain.WriteResult) {
	if s.archive == nil {
		return
	}
	rec := domain.ReportRecord{
		TriggerID: req.TriggerID,
		Kind:      req.Kind,
		Key:       req.Key,
		Receiver:  req.Receiver.Hex(),
		Payload:   hexutil.Encode(payload),
		Status:    wr.Status.String(),
		Extra:     req.Extra,
	}
	if wr.TxHash != (common.Hash{}) {
		rec.TxHash = wr.TxHash.Hex()
	}
	if _, err := s.archive.Save(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to archive report",
			slog.String("key", req.Key),
			slog.String("error", err.Error()),
		)
	}
}

// MarketSettled checks the settled flag of a market.
func MarketSettled(reader domain.MarketReader, marketID *big.Int) Check {
	return func(ctx context.Context) (bool, error) {
		m, err := reader.GetMarket(ctx, marketID)
		if err != nil {
			return false, err
		}
		return m.Settled, nil
	}
}

// Recorded checks the ledger for an earlier successful attempt.
func Recorded(ledger domain.AttemptStore, kind, key string) Check {
	return func(ctx context.Context) (bool, error) {
		return ledger.Succeeded(ctx, kind, key)
	}
}
