package node

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/evm"
	"github.com/emberchain/ember/miner"
	"github.com/emberchain/ember/types"
)

func TestParseComplexity(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(miner.DefaultComplexity(), parseComplexity(""))
	assert.Equal(miner.DefaultComplexity(), parseComplexity("not-hex"))

	c := parseComplexity("00ff")
	assert.Equal(byte(0x00), c[30])
	assert.Equal(byte(0xff), c[31])
}

func TestParseGenesisAlloc(t *testing.T) {
	assert := assert.New(t)

	addr := types.Address{1, 2, 3}
	alloc, err := parseGenesisAlloc(map[string]string{addr.String(): "5000"})
	assert.NoError(err)
	assert.Equal(types.NewBalance(5000), alloc[addr])

	_, err = parseGenesisAlloc(map[string]string{"bad": "1"})
	assert.Error(err)

	_, err = parseGenesisAlloc(map[string]string{addr.String(): "not-a-number"})
	assert.Error(err)

	empty, err := parseGenesisAlloc(nil)
	assert.NoError(err)
	assert.Nil(empty)
}

func TestNewNodeBootsFromConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := viper.New()
	cfg.Set("keys.directory", t.TempDir())
	cfg.Set("net.listen_addr", "127.0.0.1:0")
	cfg.Set("rpc.address", "127.0.0.1:0")

	n, err := New(cfg, evm.UnavailableVM{})
	require.NoError(t, err)
	assert.Equal(uint64(0), n.Core().TopBlock().Depth())
	assert.False(n.Core().NodeAddress().IsNull())
}
