// Package report encodes pipeline decisions into the opcode-prefixed ABI
// payloads the receiver contracts route on. Every function here is pure.
package report

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// Opcode is the leading byte that selects the on-chain handler route.
type Opcode byte

const (
	OpSettlement      Opcode = 0x01
	OpCreateMarket    Opcode = 0x02
	OpFinalizeSession Opcode = 0x03
)

func (o Opcode) String() string {
	switch o {
	case OpSettlement:
		return "settlement"
	case OpCreateMarket:
		return "create_market"
	case OpFinalizeSession:
		return "finalize_session"
	default:
		return fmt.Sprintf("opcode(0x%02x)", byte(o))
	}
}

var (
	ErrEmptyPayload   = errors.New("report: empty payload")
	ErrUnknownOpcode  = errors.New("report: unknown opcode")
	ErrOpcodeMismatch = errors.New("report: opcode mismatch")
)

const maxUint48 = 1<<48 - 1

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("report: abi type %s: %v", t, err))
	}
	return typ
}

var (
	settlementArgs = abi.Arguments{
		{Name: "marketId", Type: mustType("uint256")},
		{Name: "outcome", Type: mustType("uint8")},
		{Name: "confidence", Type: mustType("uint16")},
	}

	createMarketArgs = abi.Arguments{
		{Name: "question", Type: mustType("string")},
		{Name: "requestedBy", Type: mustType("address")},
		{Name: "resolveTime", Type: mustType("uint48")},
		{Name: "category", Type: mustType("string")},
		{Name: "source", Type: mustType("string")},
		{Name: "externalId", Type: mustType("bytes32")},
		{Name: "signature", Type: mustType("bytes")},
	}

	sessionArgs = abi.Arguments{
		{Name: "marketId", Type: mustType("uint256")},
		{Name: "sessionId", Type: mustType("bytes32")},
		{Name: "participants", Type: mustType("address[]")},
		{Name: "balances", Type: mustType("uint256[]")},
		{Name: "signatures", Type: mustType("bytes[]")},
		{Name: "backendSignature", Type: mustType("bytes")},
	}
)

// OpcodeOf returns the route byte of an encoded payload.
func OpcodeOf(payload []byte) (Opcode, error) {
	if len(payload) == 0 {
		return 0, ErrEmptyPayload
	}
	op := Opcode(payload[0])
	switch op {
	case OpSettlement, OpCreateMarket, OpFinalizeSession:
		return op, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, payload[0])
	}
}

// EncodeSettlement packs 0x01 || (uint256 marketId, uint8 outcome, uint16 confidence).
func EncodeSettlement(r domain.SettlementReport) ([]byte, error) {
	if r.MarketID == nil || r.MarketID.Sign() < 0 {
		return nil, errors.New("report: settlement: invalid market id")
	}
	if int(r.Confidence) > domain.MaxConfidence {
		return nil, fmt.Errorf("report: settlement: confidence %d out of range", r.Confidence)
	}
	body, err := settlementArgs.Pack(r.MarketID, r.Outcome, r.Confidence)
	if err != nil {
		return nil, fmt.Errorf("report: pack settlement: %w", err)
	}
	return prefix(OpSettlement, body), nil
}

// DecodeSettlement reverses EncodeSettlement.
func DecodeSettlement(payload []byte) (domain.SettlementReport, error) {
	vals, err := unpack(payload, OpSettlement, settlementArgs)
	if err != nil {
		return domain.SettlementReport{}, err
	}
	return domain.SettlementReport{
		MarketID:   vals[0].(*big.Int),
		Outcome:    vals[1].(uint8),
		Confidence: vals[2].(uint16),
	}, nil
}

// EncodeCreateMarket packs 0x02 || (string question, address requestedBy,
// uint48 resolveTime, string category, string source, bytes32 externalId,
// bytes signature).
func EncodeCreateMarket(in domain.MarketInput, signature []byte) ([]byte, error) {
	if in.ResolveTime < 0 || in.ResolveTime > maxUint48 {
		return nil, fmt.Errorf("report: create market: resolve time %d does not fit uint48", in.ResolveTime)
	}
	if signature == nil {
		signature = []byte{}
	}
	body, err := createMarketArgs.Pack(
		in.Question,
		in.RequestedBy,
		big.NewInt(in.ResolveTime),
		in.Category,
		in.Source,
		[32]byte(in.ExternalID),
		signature,
	)
	if err != nil {
		return nil, fmt.Errorf("report: pack create market: %w", err)
	}
	return prefix(OpCreateMarket, body), nil
}

// DecodeCreateMarket reverses EncodeCreateMarket.
func DecodeCreateMarket(payload []byte) (domain.MarketInput, []byte, error) {
	vals, err := unpack(payload, OpCreateMarket, createMarketArgs)
	if err != nil {
		return domain.MarketInput{}, nil, err
	}
	return domain.MarketInput{
		Question:    vals[0].(string),
		RequestedBy: vals[1].(common.Address),
		ResolveTime: vals[2].(*big.Int).Int64(),
		Category:    vals[3].(string),
		Source:      vals[4].(string),
		ExternalID:  common.Hash(vals[5].([32]byte)),
	}, vals[6].([]byte), nil
}

// EncodeSessionFinalization packs 0x03 || (uint256 marketId, bytes32
// sessionId, address[] participants, uint256[] balances, bytes[] signatures,
// bytes backendSignature).
func EncodeSessionFinalization(s domain.SessionRecord) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	sigs := s.Signatures
	if sigs == nil {
		sigs = [][]byte{}
	}
	backend := s.BackendSignature
	if backend == nil {
		backend = []byte{}
	}
	participants := s.Participants
	if participants == nil {
		participants = []common.Address{}
	}
	balances := s.Balances
	if balances == nil {
		balances = []*big.Int{}
	}
	body, err := sessionArgs.Pack(
		s.MarketID,
		[32]byte(s.SessionID),
		participants,
		balances,
		sigs,
		backend,
	)
	if err != nil {
		return nil, fmt.Errorf("report: pack session: %w", err)
	}
	return prefix(OpFinalizeSession, body), nil
}

// DecodeSessionFinalization reverses EncodeSessionFinalization. ResolveTime
// is not part of the payload and is left zero.
func DecodeSessionFinalization(payload []byte) (domain.SessionRecord, error) {
	vals, err := unpack(payload, OpFinalizeSession, sessionArgs)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	return domain.SessionRecord{
		MarketID:         vals[0].(*big.Int),
		SessionID:        common.Hash(vals[1].([32]byte)),
		Participants:     vals[2].([]common.Address),
		Balances:         vals[3].([]*big.Int),
		Signatures:       vals[4].([][]byte),
		BackendSignature: vals[5].([]byte),
	}, nil
}

func prefix(op Opcode, body []byte) []byte {
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(op))
	return append(out, body...)
}

func unpack(payload []byte, want Opcode, args abi.Arguments) ([]any, error) {
	op, err := OpcodeOf(payload)
	if err != nil {
		return nil, err
	}
	if op != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrOpcodeMismatch, op, want)
	}
	vals, err := args.Unpack(payload[1:])
	if err != nil {
		return nil, fmt.Errorf("report: unpack %s: %w", want, err)
	}
	if len(vals) != len(args) {
		return nil, fmt.Errorf("report: unpack %s: got %d values, want %d", want, len(vals), len(args))
	}
	return vals, nil
}
