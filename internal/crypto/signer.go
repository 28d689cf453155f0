package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// ReportSigner signs encoded reports with the workflow key. The signature
// travels as the metadata argument of onReport so receivers can check who
// produced the report.
type ReportSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewReportSigner wraps key.
func NewReportSigner(key *ecdsa.PrivateKey) *ReportSigner {
	return &ReportSigner{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signer's account.
func (s *ReportSigner) Address() common.Address { return s.address }

// PrivateKey exposes the key for transaction signing.
func (s *ReportSigner) PrivateKey() *ecdsa.PrivateKey { return s.key }

// Sign returns the 65-byte r || s || v signature over keccak256(report),
// with v in {27, 28}.
func (s *ReportSigner) Sign(report []byte) ([]byte, error) {
	return signDigest(s.key, ethcrypto.Keccak256(report))
}

// RecoverReportSigner returns the account that produced sig over report.
func RecoverReportSigner(report, sig []byte) (common.Address, error) {
	return recoverDigest(ethcrypto.Keccak256(report), sig)
}

func signDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; contracts expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

func recoverDigest(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
