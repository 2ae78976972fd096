package poolgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrageur-go/engine/internal/domain"
)

func TestLoadCSVMissingFile(t *testing.T) {
	pools, present, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), domain.ChainEthereum)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Nil(t, pools)
}

func TestSaveThenLoadCSVRoundTrip(t *testing.T) {
	pools := []*domain.Pool{samplePool(9), samplePool(10)}
	pools[1].Protocol = domain.ProtocolV3

	path := filepath.Join(t.TempDir(), "pools.csv")
	require.NoError(t, SaveCSV(path, pools))

	loaded, present, err := LoadCSV(path, domain.ChainEthereum)
	require.NoError(t, err)
	assert.True(t, present)
	require.Len(t, loaded, 2)

	assert.Equal(t, domain.ProtocolV2, loaded[0].Protocol)
	assert.Equal(t, domain.ProtocolV3, loaded[1].Protocol)
	assert.Equal(t, pools[0].Token0, loaded[0].Token0)
	assert.Equal(t, uint8(18), loaded[0].Decimals0)
}

func TestLoadCSVRejectsBadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.csv")
	contents := "address,version,token0,token1,decimals0,decimals1,fee\n0xaa,9,0x01,0x02,18,18,30\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, _, err := LoadCSV(path, domain.ChainEthereum)
	assert.Error(t, err)
}
