package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// Well-known test key (hardhat account #0).
const testKeyHex = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testSigner(t *testing.T) *ReportSigner {
	t.Helper()
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	return NewReportSigner(key)
}

func TestReportSignatureRecovers(t *testing.T) {
	s := testSigner(t)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	report := []byte{0x01, 0x02, 0x03}
	sig, err := s.Sign(report)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := RecoverReportSigner(report, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	other, err := RecoverReportSigner([]byte{0x09}, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestVerifyTrigger(t *testing.T) {
	s := testSigner(t)
	body := []byte(`{"question":"Will it snow in Lisbon this year?"}`)
	sig, err := s.SignTrigger(body)
	require.NoError(t, err)

	addr, err := VerifyTrigger(body, sig, []common.Address{s.Address()})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	_, err = VerifyTrigger(body, sig, []common.Address{common.HexToAddress("0x1")})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = VerifyTrigger([]byte(`{"question":"tampered"}`), sig, []common.Address{s.Address()})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = VerifyTrigger(body, "0xzz", []common.Address{s.Address()})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSealOpenKey(t *testing.T) {
	blob, err := SealKey(testKeyHex, "correct horse")
	require.NoError(t, err)
	assert.Contains(t, string(blob), "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	key, err := OpenKey(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), ethcrypto.PubkeyToAddress(key.PublicKey))

	_, err = OpenKey(blob, "wrong")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	loaded, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, key.D, loaded.D)
}

func TestLoadKey(t *testing.T) {
	_, err := LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKeySource)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "not-hex"})
	assert.Error(t, err)

	key, err := LoadKey(KeyConfig{RawPrivateKey: testKeyHex})
	require.NoError(t, err)
	assert.NotNil(t, key)
}
