package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/domain"
	"github.com/alanyoungcy/retropick/internal/oracle"
	"github.com/alanyoungcy/retropick/internal/report"
)

var receiver = common.HexToAddress("0x00000000000000000000000000000000000000cc")

type fakeWriter struct {
	mu     sync.Mutex
	writes [][]byte
	status domain.TxStatus
	err    error
}

func (w *fakeWriter) WriteReport(_ context.Context, _ common.Address, payload []byte) (domain.WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, payload)
	if w.err != nil {
		return domain.WriteResult{Status: domain.TxStatusFatal}, w.err
	}
	return domain.WriteResult{Status: w.status, TxHash: common.BytesToHash(payload)}, nil
}

type fakeReader struct {
	settled map[int64]bool
	reads   int
}

func (r *fakeReader) GetMarket(_ context.Context, id *big.Int) (domain.MarketState, error) {
	r.reads++
	settled, ok := r.settled[id.Int64()]
	if !ok {
		return domain.MarketState{}, domain.ErrNotFound
	}
	return domain.MarketState{Settled: settled}, nil
}

type memArchive struct{ recs []domain.ReportRecord }

func (a *memArchive) Save(_ context.Context, rec domain.ReportRecord) (string, error) {
	a.recs = append(a.recs, rec)
	return "reports/" + rec.Key + ".json", nil
}

func settleRequest(reader domain.MarketReader, id int64, answer string) Request {
	marketID := big.NewInt(id)
	return Request{
		Kind:     domain.AttemptSettlement,
		Key:      marketID.String(),
		Receiver: receiver,
		Check:    MarketSettled(reader, marketID),
		Build: func(context.Context) ([]byte, error) {
			out, err := oracle.ParseOutcome(answer)
			if err != nil {
				return nil, err
			}
			rep, err := domain.NewSettlementReport(marketID, out)
			if err != nil {
				return nil, err
			}
			return report.EncodeSettlement(rep)
		},
	}
}

func TestSubmitSuccess(t *testing.T) {
	w := &fakeWriter{status: domain.TxStatusSuccess}
	reader := &fakeReader{settled: map[int64]bool{1: false}}
	ledger := NewMemoryLedger()
	archive := &memArchive{}
	s := NewSubmitter(w, nil, WithLedger(ledger), WithArchive(archive))

	res := s.Submit(context.Background(), settleRequest(reader, 1, `{"result":"YES","confidence":9000}`))
	require.Equal(t, StatusSuccess, res.Status, res.Reason)
	require.Len(t, w.writes, 1)
	assert.Equal(t, common.BytesToHash(w.writes[0]), res.TxHash)

	got, err := report.DecodeSettlement(w.writes[0])
	require.NoError(t, err)
	assert.Equal(t, uint8(0), got.Outcome)
	assert.Equal(t, uint16(9000), got.Confidence)

	ok, err := ledger.Succeeded(context.Background(), domain.AttemptSettlement, "1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, archive.recs, 1)
	assert.Equal(t, "SUCCESS", archive.recs[0].Status)
}

func TestSubmitSkipsSettledMarketTwiceWithoutWriting(t *testing.T) {
	w := &fakeWriter{status: domain.TxStatusSuccess}
	reader := &fakeReader{settled: map[int64]bool{5: true}}
	s := NewSubmitter(w, nil)

	built := 0
	req := settleRequest(reader, 5, `{"result":"NO","confidence":1}`)
	inner := req.Build
	req.Build = func(ctx context.Context) ([]byte, error) {
		built++
		return inner(ctx)
	}

	for range 2 {
		res := s.Submit(context.Background(), req)
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Equal(t, ReasonAlreadySettled, res.Reason)
		assert.ErrorIs(t, res.Err, domain.ErrAlreadySettled)
	}
	assert.Empty(t, w.writes)
	assert.Zero(t, built)
	assert.Equal(t, 2, reader.reads)
}

func TestSubmitMalformedAnswerDoesNotWrite(t *testing.T) {
	w := &fakeWriter{status: domain.TxStatusSuccess}
	reader := &fakeReader{settled: map[int64]bool{3: false}}
	s := NewSubmitter(w, nil)

	res := s.Submit(context.Background(), settleRequest(reader, 3, "I cannot determine this."))
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, oracle.ErrMalformedResponse)
	assert.Empty(t, w.writes)
	assert.Equal(t, common.Hash{}, res.TxHash)
}

func TestSubmitNonSuccessStatusFails(t *testing.T) {
	w := &fakeWriter{status: domain.TxStatusReverted}
	reader := &fakeReader{settled: map[int64]bool{4: false}}
	s := NewSubmitter(w, nil)

	res := s.Submit(context.Background(), settleRequest(reader, 4, `{"result":"YES","confidence":10}`))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "REVERTED")
	assert.Len(t, w.writes, 1)
}

func TestSubmitWithoutCheckGoesStraightToWrite(t *testing.T) {
	w := &fakeWriter{status: domain.TxStatusSuccess}
	s := NewSubmitter(w, nil)

	res := s.Submit(context.Background(), Request{
		Kind:     domain.AttemptCreation,
		Key:      "0xabc",
		Receiver: receiver,
		Build:    func(context.Context) ([]byte, error) { return []byte{0x02, 0x01}, nil },
	})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Len(t, w.writes, 1)
}

func TestSubmitBatchIsolatesFailures(t *testing.T) {
	w := &fakeWriter{status: domain.TxStatusSuccess}
	reader := &fakeReader{settled: map[int64]bool{1: false, 2: true, 4: false}}
	s := NewSubmitter(w, nil)

	results := s.SubmitBatch(context.Background(), []Request{
		settleRequest(reader, 1, `{"result":"YES","confidence":100}`),
		settleRequest(reader, 2, `{"result":"YES","confidence":100}`),
		settleRequest(reader, 3, `{"result":"YES","confidence":100}`), // unknown market
		settleRequest(reader, 4, `{"result":"NO","confidence":200}`),
	})

	want := []Result{
		{Kind: domain.AttemptSettlement, Key: "1", Status: StatusSuccess},
		{Kind: domain.AttemptSettlement, Key: "2", Status: StatusSkipped, Reason: ReasonAlreadySettled},
		{Kind: domain.AttemptSettlement, Key: "3", Status: StatusFailed},
		{Kind: domain.AttemptSettlement, Key: "4", Status: StatusSuccess},
	}
	opts := cmp.Options{cmpopts.IgnoreFields(Result{}, "Err", "TxHash")}
	failedReason := results[2].Reason
	results[2].Reason = ""
	if diff := cmp.Diff(want, results, opts); diff != "" {
		t.Errorf("batch results mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, failedReason, "not found")
	assert.Len(t, w.writes, 2)
}

func TestSubmitBatchStopsWritingAfterCancel(t *testing.T) {
	w := &fakeWriter{status: domain.TxStatusSuccess}
	reader := &fakeReader{settled: map[int64]bool{1: false}}
	s := NewSubmitter(w, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := s.SubmitBatch(ctx, []Request{settleRequest(reader, 1, `{"result":"YES","confidence":1}`)})
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.True(t, errors.Is(results[0].Err, context.Canceled))
	assert.Empty(t, w.writes)
}

func TestMemoryLedgerList(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	require.NoError(t, l.Record(ctx, domain.Attempt{Kind: domain.AttemptSession, Key: "a", Status: "failed"}))
	require.NoError(t, l.Record(ctx, domain.Attempt{Kind: domain.AttemptSession, Key: "a", Status: "success"}))
	require.NoError(t, l.Record(ctx, domain.Attempt{Kind: domain.AttemptSession, Key: "b", Status: "skipped"}))

	got, err := l.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Key)

	ok, _ := l.Succeeded(ctx, domain.AttemptSession, "a")
	assert.True(t, ok)
	ok, _ = l.Succeeded(ctx, domain.AttemptSession, "b")
	assert.False(t, ok)
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {}, nil
}

func TestSubmitElectsOneTransmitterPerDecision(t *testing.T) {
	w := &fakeWriter{status: domain.TxStatusSuccess}
	reader := &fakeReader{settled: map[int64]bool{7: false}}
	locks := &memLocks{held: map[string]bool{}}

	first := NewSubmitter(w, nil, WithTransmitLock(locks, time.Minute))
	second := NewSubmitter(w, nil, WithTransmitLock(locks, time.Minute))

	req := settleRequest(reader, 7, `{"result":"NO","confidence":8000}`)
	req.TriggerID = "log:0xabc:3"

	res := first.Submit(context.Background(), req)
	require.Equal(t, StatusSuccess, res.Status, res.Reason)

	res = second.Submit(context.Background(), req)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, ReasonOtherReplica, res.Reason)
	assert.ErrorIs(t, res.Err, domain.ErrLockHeld)
	assert.Len(t, w.writes, 1)

	// A later round for the same market is a new decision.
	req.TriggerID = "log:0xdef:0"
	res = second.Submit(context.Background(), req)
	assert.Equal(t, StatusSuccess, res.Status, res.Reason)
	assert.Len(t, w.writes, 2)
}

func TestSubmitFailsWhenElectionUnavailable(t *testing.T) {
	w := &fakeWriter{status: domain.TxStatusSuccess}
	reader := &fakeReader{settled: map[int64]bool{8: false}}
	s := NewSubmitter(w, nil, WithTransmitLock(&memLocks{err: errors.New("redis down")}, time.Minute))

	res := s.Submit(context.Background(), settleRequest(reader, 8, `{"result":"YES","confidence":5000}`))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "elect transmitter")
	assert.Empty(t, w.writes)
}
