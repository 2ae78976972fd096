package txlistener

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiptGasCost(t *testing.T) {
	r := &Receipt{
		GasUsed:           "21000",
		EffectiveGasPrice: "50000000000",
	}
	cost, err := r.GasCost()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(21000*50000000000), cost)
}

func TestReceiptGasCostInvalid(t *testing.T) {
	r := &Receipt{GasUsed: "not-a-number", EffectiveGasPrice: "1"}
	_, err := r.GasCost()
	assert.Error(t, err)
}

func TestReceiptSuccess(t *testing.T) {
	ok := &Receipt{Status: types.ReceiptStatusSuccessful}
	assert.True(t, ok.Success())

	reverted := &Receipt{Status: types.ReceiptStatusFailed}
	assert.False(t, reverted.Success())
}

func TestToReceipt(t *testing.T) {
	raw := &types.Receipt{
		TxHash:            common.HexToHash("0xabc"),
		BlockNumber:       big.NewInt(100),
		Status:            types.ReceiptStatusSuccessful,
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(7),
	}
	r := toReceipt(raw)
	assert.Equal(t, uint64(100), r.BlockNumber)
	assert.Equal(t, "21000", r.GasUsed)
	assert.Equal(t, "7", r.EffectiveGasPrice)
	assert.True(t, r.Success())
}
