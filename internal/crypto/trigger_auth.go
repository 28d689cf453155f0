package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// VerifyTrigger checks an EIP-191 personal signature over an HTTP trigger
// body and returns the signer when it is one of the authorized accounts.
func VerifyTrigger(body []byte, sigHex string, authorized []common.Address) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: signature is not hex", domain.ErrUnauthorized)
	}
	addr, err := recoverDigest(accounts.TextHash(body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	for _, a := range authorized {
		if a == addr {
			return addr, nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %s is not an authorized key", domain.ErrUnauthorized, addr.Hex())
}

// SignTrigger produces the signature VerifyTrigger accepts, sent in the
// X-Signature header of a trigger request. `retropick keys sign-trigger`
// prints it for a request body.
func (s *ReportSigner) SignTrigger(body []byte) (string, error) {
	sig, err := signDigest(s.key, accounts.TextHash(body))
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}
