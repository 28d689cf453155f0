package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/crypto"
)

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, path := range [][]string{
		{"run"}, {"create-market"}, {"settle"}, {"finalize-sessions"}, {"export-ledger"},
		{"keys", "encrypt"}, {"keys", "sign-trigger"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	cfgFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfgFlag)
	assert.Equal(t, "config.toml", cfgFlag.DefValue)
}

func TestSettleRequiresFlags(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"settle", "--market-id", "7"})
	cmd.SetOut(new(bytes.Buffer))
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question")
}

func TestExportWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	from, to, err := exportWindow("", "", now)
	require.NoError(t, err)
	assert.Equal(t, now, to)
	assert.Equal(t, now.Add(-24*time.Hour), from)

	from, to, err = exportWindow("2024-04-01T00:00:00Z", "2024-04-02T00:00:00+02:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 4, 1, 22, 0, 0, 0, time.UTC), to)

	_, _, err = exportWindow("2024-04-03T00:00:00Z", "2024-04-02T00:00:00Z", now)
	require.Error(t, err)
	_, _, err = exportWindow("yesterday", "", now)
	require.Error(t, err)
}

func TestEncryptKeyWritesOpenableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	var out bytes.Buffer

	const key = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	require.NoError(t, encryptKey(&out, path, key, "pw"))
	assert.Contains(t, out.String(), "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = crypto.OpenKey(blob, "pw")
	require.NoError(t, err)

	require.Error(t, encryptKey(&out, path, "", "pw"))
	require.Error(t, encryptKey(&out, path, key, ""))
}

func TestSignTriggerMatchesServerCheck(t *testing.T) {
	const key = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	body := []byte(`{"question":"Will the Lisbon marathon be held this year?"}`)

	var out bytes.Buffer
	require.NoError(t, signTrigger(&out, body, key))
	sig, ok := strings.CutPrefix(strings.TrimSpace(out.String()), "X-Signature: ")
	require.True(t, ok, out.String())

	signer := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	addr, err := crypto.VerifyTrigger(body, sig, []common.Address{signer})
	require.NoError(t, err)
	assert.Equal(t, signer, addr)

	require.Error(t, signTrigger(&out, body, ""))
}

func TestSignTriggerCommandReadsStdin(t *testing.T) {
	t.Setenv("RETROPICK_CHAIN_PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(`{"marketId":"7","question":"q"}`))
	cmd.SetArgs([]string{"keys", "sign-trigger"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "X-Signature: 0x"), out.String())
}

func TestPrintResultFailsOnErrorStatus(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printResult(&out, "0xabc", nil))
	require.Error(t, printResult(&out, "Error: Question is required", nil))
	require.Error(t, printResult(&out, "Missing creatorAddress", nil))
	assert.Equal(t, "0xabc\nError: Question is required\nMissing creatorAddress\n", out.String())
}
