package hyperliquid

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat development account #0.
const (
	testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress    = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
)

func TestPrivateKeySignerAddress(t *testing.T) {
	s, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, testAddress, s.Address())

	_, err = NewPrivateKeySigner("  ")
	require.Error(t, err)
	_, err = NewPrivateKeySigner("0xzz")
	require.Error(t, err)
}

func TestSignL1ActionRecoversSigner(t *testing.T) {
	s, err := NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)

	action := updateLeverageAction{Type: "updateLeverage", Asset: 0, IsCross: true, Leverage: 5}
	req, err := signL1Action(action, s, 1700000000000, "", true)
	require.NoError(t, err)
	assert.Nil(t, req.VaultAddress)
	assert.Contains(t, []int{27, 28}, req.Signature.V)

	digest, err := l1Digest(action, 1700000000000, "", true)
	require.NoError(t, err)

	rs, err := hex.DecodeString(strings.TrimPrefix(req.Signature.R, "0x") + strings.TrimPrefix(req.Signature.S, "0x"))
	require.NoError(t, err)
	sig := append(rs, byte(req.Signature.V-27))
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()))
}

func TestActionHashDependsOnVaultAndNetwork(t *testing.T) {
	action := orderAction{Type: "order", Grouping: groupingNone}
	plain, err := actionHash(action, 1, "")
	require.NoError(t, err)
	vault, err := actionHash(action, 1, "0x0000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.NotEqual(t, plain, vault)

	_, err = actionHash(action, 1, "not-an-address")
	require.Error(t, err)

	mainnet, err := l1Digest(action, 1, "", true)
	require.NoError(t, err)
	testnet, err := l1Digest(action, 1, "", false)
	require.NoError(t, err)
	assert.NotEqual(t, mainnet, testnet)

	_, err = l1Digest(action, 0, "", true)
	require.Error(t, err)
}
