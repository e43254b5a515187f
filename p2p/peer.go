package p2p

import (
	"sync"

	"github.com/ava-labs/avalanchego/cache"
	log "github.com/inconshreveable/log15"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/chain/store"
	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/core"
	"github.com/emberchain/ember/types"
)

// Peer protocol states.
type peerState int

const (
	justEstablished peerState = iota
	requestedBlocks
	synchronised
)

const (
	knownCacheSize = 4096
	// maxSyncBacklog bounds the per-peer buffer of out-of-order blocks.
	maxSyncBacklog = 8192
)

// Peer drives the protocol for one session. All message handling runs on
// the session's read goroutine; fields shared with the host (identity,
// known sets) sit behind their own lock.
type Peer struct {
	session *Session
	host    *Host
	core    *core.Core

	state peerState
	// syncBlocks buffers blocks ahead of our top, newest first, until the
	// gap to our chain closes.
	syncBlocks []*chain.Block

	mu             sync.Mutex
	address        types.Address
	serverEndpoint Endpoint

	knownTxs    cache.Cacher
	knownBlocks cache.Cacher
}

func newPeer(session *Session, host *Host, c *core.Core) *Peer {
	return &Peer{
		session:     session,
		host:        host,
		core:        c,
		knownTxs:    &cache.LRU{Size: knownCacheSize},
		knownBlocks: &cache.LRU{Size: knownCacheSize},
	}
}

// Info returns the peer's identity, valid after the handshake.
func (p *Peer) Info() (PeerInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.serverEndpoint.IsZero() {
		return PeerInfo{}, false
	}
	return PeerInfo{Address: p.address, Endpoint: p.serverEndpoint}, true
}

func (p *Peer) markTxKnown(h types.Hash)    { p.knownTxs.Put(h, struct{}{}) }
func (p *Peer) markBlockKnown(h types.Hash) { p.knownBlocks.Put(h, struct{}{}) }

func (p *Peer) knowsTx(h types.Hash) bool {
	_, ok := p.knownTxs.Get(h)
	return ok
}

func (p *Peer) knowsBlock(h types.Hash) bool {
	_, ok := p.knownBlocks.Get(h)
	return ok
}

// run owns the session: handshake first, then the read loop until the
// session dies. Failures are isolated to this peer.
func (p *Peer) run() {
	defer p.host.removePeer(p)
	defer p.session.Close()

	p.sendHandshake()
	for {
		payload, err := p.session.readFrame()
		if err != nil {
			return
		}
		if err := p.handle(payload); err != nil {
			log.Debug("dropping peer", "remote", p.session.RemoteHost(), "err", err)
			return
		}
	}
}

func (p *Peer) sendHandshake() {
	top := p.core.TopBlock()
	p.markBlockKnown(top.Hash())
	_ = p.session.Send(encodeHandshake(handshakeMsg{
		TopBlock:   top,
		Address:    p.core.NodeAddress(),
		ListenPort: p.host.publicPort(),
	}))
}

// handle dispatches one inbound frame. A malformed frame is an error and
// closes the session.
func (p *Peer) handle(payload []byte) error {
	r := codec.NewReader(payload)
	tag, err := r.ReadUint8()
	if err != nil {
		return err
	}
	switch tag {
	case msgHandshake:
		m, err := decodeHandshake(r)
		if err != nil {
			return err
		}
		return p.onHandshake(m)
	case msgPing:
		return p.session.Send(encodePong())
	case msgPong:
		return nil
	case msgTransaction:
		tx, err := chain.DecodeTransaction(r)
		if err != nil {
			return err
		}
		p.onTransaction(tx)
		return nil
	case msgBlock:
		b, err := chain.DecodeBlock(r)
		if err != nil {
			return err
		}
		return p.onBlock(b)
	case msgGetBlock:
		h, err := decodeHash(r)
		if err != nil {
			return err
		}
		return p.onGetBlock(h)
	case msgBlockNotFound:
		h, err := decodeHash(r)
		if err != nil {
			return err
		}
		return p.onBlockNotFound(h)
	case msgGetInfo:
		return p.session.Send(encodeInfo(infoMsg{
			TopHash: p.core.TopBlock().Hash(),
			Peers:   p.host.PeerInfos(),
		}))
	case msgInfo:
		m, err := decodeInfo(r)
		if err != nil {
			return err
		}
		p.host.learnAll(m.Peers)
		return nil
	case msgLookup:
		m, err := decodeLookup(r)
		if err != nil {
			return err
		}
		return p.session.Send(encodeLookupResult(lookupResultMsg{
			Target: m.Target,
			Peers:  p.host.closestPeers(m.Target, int(m.Alpha)),
		}))
	case msgLookupResult:
		m, err := decodeLookupResult(r)
		if err != nil {
			return err
		}
		p.host.lookups.deliver(m)
		return nil
	default:
		return ErrUnknownMessage
	}
}

func (p *Peer) onHandshake(m handshakeMsg) error {
	p.mu.Lock()
	p.address = m.Address
	if m.ListenPort != 0 {
		p.serverEndpoint = Endpoint{Host: p.session.RemoteHost(), Port: m.ListenPort}
	}
	endpoint := p.serverEndpoint
	p.mu.Unlock()
	if !endpoint.IsZero() {
		p.host.learn(PeerInfo{Address: m.Address, Endpoint: endpoint})
	}

	// Ask for the peer set right away; the reply feeds the endpoint book.
	_ = p.session.Send(encodeGetInfo())

	theirTop := m.TopBlock
	p.markBlockKnown(theirTop.Hash())
	ourTop := p.core.TopBlock()
	switch {
	case theirTop.Depth() <= ourTop.Depth():
		p.state = synchronised
		return nil
	case theirTop.Depth() == ourTop.Depth()+1:
		p.state = synchronised
		return p.applyDirect(theirTop)
	default:
		p.state = requestedBlocks
		p.syncBlocks = append(p.syncBlocks, theirTop)
		return p.session.Send(encodeGetBlock(theirTop.PrevHash()))
	}
}

func (p *Peer) onTransaction(tx *chain.Transaction) {
	p.markTxKnown(tx.Hash())
	// A rejection here is the transaction's fault, never the peer's.
	status := p.core.AddPending(tx)
	if !status.OK() {
		log.Debug("peer transaction not admitted", "hash", tx.Hash(), "status", status.Status)
	}
}

func (p *Peer) onBlock(b *chain.Block) error {
	h := b.Hash()
	p.markBlockKnown(h)

	if p.state == requestedBlocks {
		return p.onSyncBlock(b)
	}

	ourTop := p.core.TopBlock()
	switch {
	case b.Depth() == ourTop.Depth()+1:
		return p.applyDirect(b)
	case b.Depth() > ourTop.Depth():
		p.state = requestedBlocks
		p.syncBlocks = append(p.syncBlocks, b)
		return p.session.Send(encodeGetBlock(b.PrevHash()))
	default:
		// Lower or duplicate: ignored.
		return nil
	}
}

// applyDirect feeds one in-order block to the engine. Structural rejection
// of a gossiped block is tolerated (we may have applied it concurrently);
// a semantically invalid block is a peer fault.
func (p *Peer) applyDirect(b *chain.Block) error {
	switch err := p.core.TryAddBlock(b); err {
	case nil, store.ErrBlockKnown, store.ErrCannotLink:
		return nil
	default:
		return err
	}
}

// onSyncBlock buffers parents, newest first, until one links onto our
// chain, then applies the backlog oldest-first.
func (p *Peer) onSyncBlock(b *chain.Block) error {
	if len(p.syncBlocks) >= maxSyncBacklog {
		return ErrUnknownMessage
	}
	newest := p.syncBlocks[len(p.syncBlocks)-1]
	if b.Hash() != newest.PrevHash() {
		// Unsolicited block during sync; remember it is known, nothing more.
		return nil
	}
	p.syncBlocks = append(p.syncBlocks, b)

	ourTop := p.core.TopBlock()
	if b.PrevHash() != ourTop.Hash() {
		if b.Depth() == 0 || p.core.FindBlock(b.PrevHash()) != nil {
			// The gap closed onto a block that is not our top: the peer's
			// chain cannot extend ours.
			return store.ErrCannotLink
		}
		return p.session.Send(encodeGetBlock(b.PrevHash()))
	}

	// Gap closed: apply oldest-first.
	for i := len(p.syncBlocks) - 1; i >= 0; i-- {
		if err := p.core.TryAddBlock(p.syncBlocks[i]); err != nil && err != store.ErrBlockKnown {
			return err
		}
	}
	p.syncBlocks = nil
	p.state = synchronised
	return nil
}

func (p *Peer) onGetBlock(h types.Hash) error {
	if b := p.core.FindBlock(h); b != nil {
		return p.session.Send(encodeBlock(b))
	}
	return p.session.Send(encodeBlockNotFound(h))
}

func (p *Peer) onBlockNotFound(h types.Hash) error {
	if p.state == requestedBlocks {
		// The peer advertised a chain it cannot serve.
		return store.ErrCannotLink
	}
	return nil
}
