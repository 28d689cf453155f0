package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// bigNumber decodes an unsigned integer written as a TOML/YAML number or as
// a decimal or 0x-prefixed string, so balances above int64 survive.
type bigNumber struct {
	v *big.Int
}

func parseBigNumber(s string) (bigNumber, error) {
	s = strings.TrimSpace(s)
	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 {
		return bigNumber{}, fmt.Errorf("invalid unsigned integer %q", s)
	}
	return bigNumber{v: n}, nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (b *bigNumber) UnmarshalTOML(v any) error {
	var err error
	switch x := v.(type) {
	case int64:
		*b, err = parseBigNumber(fmt.Sprint(x))
	case string:
		*b, err = parseBigNumber(x)
	default:
		err = fmt.Errorf("unsupported integer value %v (%T)", v, v)
	}
	return err
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *bigNumber) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected an integer", node.Line)
	}
	n, err := parseBigNumber(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = n
	return nil
}

func (b bigNumber) MarshalText() ([]byte, error) {
	if b.v == nil {
		return []byte("0"), nil
	}
	return []byte(b.v.String()), nil
}

// SessionConfig is one session snapshot awaiting finalization.
type SessionConfig struct {
	MarketID         bigNumber   `toml:"market_id" yaml:"market_id" json:"market_id"`
	SessionID        string      `toml:"session_id" yaml:"session_id" json:"session_id"`
	Participants     []string    `toml:"participants" yaml:"participants" json:"participants"`
	Balances         []bigNumber `toml:"balances" yaml:"balances" json:"balances"`
	Signatures       []string    `toml:"signatures" yaml:"signatures" json:"signatures"`
	BackendSignature string      `toml:"backend_signature" yaml:"backend_signature" json:"backend_signature"`
	ResolveTime      int64       `toml:"resolve_time" yaml:"resolve_time" json:"resolve_time"`
}

// ToDomain parses and validates the snapshot.
func (s SessionConfig) ToDomain() (domain.SessionRecord, error) {
	if s.MarketID.v == nil {
		return domain.SessionRecord{}, fmt.Errorf("%w: market_id is required", domain.ErrInvalidSession)
	}
	id, err := decodeHex(s.SessionID)
	if err != nil || len(id) == 0 || len(id) > common.HashLength {
		return domain.SessionRecord{}, fmt.Errorf("%w: session_id %q is not a bytes32 hex value", domain.ErrInvalidSession, s.SessionID)
	}

	rec := domain.SessionRecord{
		MarketID:    new(big.Int).Set(s.MarketID.v),
		SessionID:   common.BytesToHash(id),
		ResolveTime: s.ResolveTime,
	}
	for _, p := range s.Participants {
		if !common.IsHexAddress(p) {
			return domain.SessionRecord{}, fmt.Errorf("%w: participant %q is not an address", domain.ErrInvalidSession, p)
		}
		rec.Participants = append(rec.Participants, common.HexToAddress(p))
	}
	for _, b := range s.Balances {
		if b.v == nil {
			return domain.SessionRecord{}, fmt.Errorf("%w: empty balance", domain.ErrInvalidSession)
		}
		rec.Balances = append(rec.Balances, new(big.Int).Set(b.v))
	}
	for _, sig := range s.Signatures {
		raw, err := decodeHex(sig)
		if err != nil {
			return domain.SessionRecord{}, fmt.Errorf("%w: signature %q: %v", domain.ErrInvalidSession, sig, err)
		}
		rec.Signatures = append(rec.Signatures, raw)
	}
	if rec.BackendSignature, err = decodeHex(s.BackendSignature); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("%w: backend_signature: %v", domain.ErrInvalidSession, err)
	}
	if err := rec.Validate(); err != nil {
		return domain.SessionRecord{}, err
	}
	return rec, nil
}

// DomainSessions converts every configured session. Validate has already
// rejected malformed entries.
func (c *Config) DomainSessions() ([]domain.SessionRecord, error) {
	out := make([]domain.SessionRecord, 0, len(c.Sessions))
	for i, s := range c.Sessions {
		rec, err := s.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("config: sessions[%d]: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

type sessionsFile struct {
	Sessions []SessionConfig `yaml:"sessions"`
}

// LoadSessionsFile reads a YAML session snapshot:
//
//	sessions:
//	  - market_id: 7
//	    session_id: "0x01"
//	    participants: ["0x..."]
//	    balances: ["1000000000000000000000"]
//	    signatures: ["0x..."]
//	    backend_signature: "0x..."
//	    resolve_time: 1700000000
func LoadSessionsFile(path string) ([]SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read sessions file: %w", err)
	}
	var f sessionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse sessions file %s: %w", path, err)
	}
	return f.Sessions, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return []byte{}, nil
	}
	return hex.DecodeString(s)
}
