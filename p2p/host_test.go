package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/core"
	"github.com/emberchain/ember/evm"
	"github.com/emberchain/ember/types"
)

func TestSessionFraming(t *testing.T) {
	assert := assert.New(t)

	a, b := net.Pipe()
	left := newSession(a)
	right := newSession(b)
	defer left.Close()
	defer right.Close()

	go func() {
		_ = left.Send([]byte("hello"))
		_ = left.Send([]byte{})
	}()

	payload, err := right.readFrame()
	assert.NoError(err)
	assert.Equal([]byte("hello"), payload)

	payload, err = right.readFrame()
	assert.NoError(err)
	assert.Empty(payload)

	// Close is idempotent and fails further sends.
	right.Close()
	right.Close()
	assert.Error(right.Send([]byte("x")))
}

func newTestHost(t *testing.T, alloc map[types.Address]types.Balance) (*core.Core, *Host) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	nodeAddr := types.AddressFromPublicKey(priv.PubKey())

	c, err := core.New(memdb.New(), evm.UnavailableVM{}, nodeAddr, alloc)
	require.NoError(t, err)

	h := NewHost(Config{ListenAddr: "127.0.0.1:0", PingFrequency: time.Minute}, c)
	require.NoError(t, h.Run())
	t.Cleanup(h.Stop)
	return c, h
}

func TestTransactionGossip(t *testing.T) {
	assert := assert.New(t)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	sender := types.AddressFromPublicKey(priv.PubKey())
	alloc := map[types.Address]types.Balance{sender: types.NewBalance(1000)}

	coreX, hostX := newTestHost(t, alloc)
	coreY, hostY := newTestHost(t, alloc)
	coreZ, hostZ := newTestHost(t, alloc)

	hostY.Connect(hostX.ListenAddr())
	hostZ.Connect(hostX.ListenAddr())
	require.Eventually(t, func() bool { return hostX.PeersCount() == 2 }, 5*time.Second, 20*time.Millisecond)

	tx, err := chain.NewTransaction(sender, types.Address{9}, types.NewBalance(10), types.NewBalance(1), 1700000000, nil, types.Sign{})
	require.NoError(t, err)
	signed := tx.WithSign(priv)
	require.True(t, coreX.AddPending(signed).OK())

	// The transaction reaches both of X's peers...
	assert.Eventually(func() bool {
		return coreY.PendingSize() == 1 && coreZ.PendingSize() == 1
	}, 5*time.Second, 20*time.Millisecond)

	// ...without bouncing back into X's pool or killing its sessions.
	assert.Equal(1, coreX.PendingSize())
	assert.Equal(2, hostX.PeersCount())
	assert.NotNil(coreY.FindTransaction(signed.Hash()))
}

func TestLateJoinerSyncsChain(t *testing.T) {
	assert := assert.New(t)

	coreX, hostX := newTestHost(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, coreX.TryAddBlock(coreX.BlockTemplate()))
	}
	require.Equal(t, uint64(3), coreX.TopBlock().Depth())

	coreY, hostY := newTestHost(t, nil)
	hostY.Connect(hostX.ListenAddr())

	// The handshake advertises X's top; Y walks the parents and applies
	// the backlog oldest-first.
	assert.Eventually(func() bool {
		return coreY.TopBlock().Depth() == 3
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(coreX.TopBlock().Hash(), coreY.TopBlock().Hash())
}

func TestBlockGossip(t *testing.T) {
	assert := assert.New(t)

	coreX, hostX := newTestHost(t, nil)
	coreY, hostY := newTestHost(t, nil)
	hostY.Connect(hostX.ListenAddr())
	require.Eventually(t, func() bool { return hostX.PeersCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, coreX.TryAddBlock(coreX.BlockTemplate()))
	assert.Eventually(func() bool {
		return coreY.TopBlock().Depth() == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(coreX.TopBlock().Hash(), coreY.TopBlock().Hash())
}

func TestEndpointBookAndLookup(t *testing.T) {
	assert := assert.New(t)

	coreX, hostX := newTestHost(t, nil)
	_, hostY := newTestHost(t, nil)

	yPort, err := ParseEndpoint(hostY.ListenAddr())
	require.NoError(t, err)
	hostY.cfg.PublicPort = yPort.Port

	hostY.Connect(hostX.ListenAddr())
	require.Eventually(t, func() bool { return hostX.PeersCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	// X learned Y's announced endpoint from the handshake.
	assert.Eventually(func() bool {
		return len(hostX.closestPeers(coreX.NodeAddress(), 8)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	peers := hostY.Lookup(coreX.NodeAddress(), 8)
	assert.NotNil(peers)
}
