package report

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/domain"
)

func sampleSession() domain.SessionRecord {
	return domain.SessionRecord{
		MarketID:  big.NewInt(9),
		SessionID: common.HexToHash("0xabc"),
		Participants: []common.Address{
			common.HexToAddress("0x1111111111111111111111111111111111111111"),
			common.HexToAddress("0x2222222222222222222222222222222222222222"),
		},
		Balances:         []*big.Int{big.NewInt(100), big.NewInt(250)},
		Signatures:       [][]byte{{0xde, 0xad}, {0xbe, 0xef}},
		BackendSignature: []byte{0x01, 0x02, 0x03},
		ResolveTime:      1_700_000_000,
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	in := domain.SettlementReport{MarketID: big.NewInt(123456789), Outcome: 1, Confidence: 8750}

	payload, err := EncodeSettlement(in)
	require.NoError(t, err)
	assert.Equal(t, byte(OpSettlement), payload[0])
	assert.Len(t, payload, 1+3*32)

	out, err := DecodeSettlement(payload)
	require.NoError(t, err)
	assert.Equal(t, 0, in.MarketID.Cmp(out.MarketID))
	assert.Equal(t, in.Outcome, out.Outcome)
	assert.Equal(t, in.Confidence, out.Confidence)
}

func TestSettlementRejectsBadInput(t *testing.T) {
	_, err := EncodeSettlement(domain.SettlementReport{Outcome: 0, Confidence: 1})
	assert.Error(t, err)

	_, err = EncodeSettlement(domain.SettlementReport{MarketID: big.NewInt(1), Confidence: 10001})
	assert.Error(t, err)
}

func TestCreateMarketRoundTrip(t *testing.T) {
	in := domain.MarketInput{
		Question:    "Will bitcoin price be above 31500 usd by 24 hours?",
		RequestedBy: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		ResolveTime: 1_700_086_400,
		Category:    "crypto",
		Source:      "https://api.coingecko.com",
		ExternalID:  common.HexToHash("0x1234"),
	}
	sig := []byte{0x0a, 0x0b}

	payload, err := EncodeCreateMarket(in, sig)
	require.NoError(t, err)
	assert.Equal(t, byte(OpCreateMarket), payload[0])

	out, gotSig, err := DecodeCreateMarket(payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, sig, gotSig)
}

func TestCreateMarketResolveTimeBounds(t *testing.T) {
	in := domain.MarketInput{Question: "q", ResolveTime: 1 << 48}
	_, err := EncodeCreateMarket(in, nil)
	assert.Error(t, err)

	in.ResolveTime = -1
	_, err = EncodeCreateMarket(in, nil)
	assert.Error(t, err)

	in.ResolveTime = maxUint48
	_, err = EncodeCreateMarket(in, nil)
	assert.NoError(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	in := sampleSession()

	payload, err := EncodeSessionFinalization(in)
	require.NoError(t, err)
	assert.Equal(t, byte(OpFinalizeSession), payload[0])

	out, err := DecodeSessionFinalization(payload)
	require.NoError(t, err)
	assert.Equal(t, 0, in.MarketID.Cmp(out.MarketID))
	assert.Equal(t, in.SessionID, out.SessionID)
	assert.Equal(t, in.Participants, out.Participants)
	require.Len(t, out.Balances, 2)
	assert.Equal(t, int64(100), out.Balances[0].Int64())
	assert.Equal(t, int64(250), out.Balances[1].Int64())
	assert.Equal(t, in.Signatures, out.Signatures)
	assert.Equal(t, in.BackendSignature, out.BackendSignature)
	assert.Zero(t, out.ResolveTime)
}

func TestSessionEncodingRejectsArityMismatch(t *testing.T) {
	s := sampleSession()
	s.Signatures = s.Signatures[:1]
	_, err := EncodeSessionFinalization(s)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestEncodersUseDistinctOpcodes(t *testing.T) {
	settle, err := EncodeSettlement(domain.SettlementReport{MarketID: big.NewInt(1)})
	require.NoError(t, err)
	create, err := EncodeCreateMarket(domain.MarketInput{Question: "q"}, nil)
	require.NoError(t, err)
	session, err := EncodeSessionFinalization(sampleSession())
	require.NoError(t, err)

	seen := map[byte]string{}
	for name, p := range map[string][]byte{"settle": settle, "create": create, "session": session} {
		prev, dup := seen[p[0]]
		assert.False(t, dup, "%s reuses the opcode of %s", name, prev)
		seen[p[0]] = name
	}
	assert.Len(t, seen, 3)
}

func TestDecodeRejectsWrongRoute(t *testing.T) {
	settle, err := EncodeSettlement(domain.SettlementReport{MarketID: big.NewInt(1)})
	require.NoError(t, err)

	_, err = DecodeSessionFinalization(settle)
	assert.ErrorIs(t, err, ErrOpcodeMismatch)

	_, err = DecodeSettlement(nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = OpcodeOf([]byte{0x7f})
	assert.ErrorIs(t, err, ErrUnknownOpcode)

	op, err := OpcodeOf(settle)
	require.NoError(t, err)
	assert.Equal(t, "settlement", op.String())
}
