package p2p

import (
	"net"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/core"
	"github.com/emberchain/ember/types"
)

// DefaultPingFrequency is the heartbeat interval. A peer whose last frame
// is older than this is a zombie and gets dropped.
const DefaultPingFrequency = 30 * time.Second

// Config carries the network host's options.
type Config struct {
	ListenAddr    string
	PublicPort    uint16
	Seeds         []string
	PingFrequency time.Duration
}

// Host runs the peer network: it accepts and dials sessions, gossips
// blocks and transactions from the engine's events, keeps an endpoint
// book, and drives heartbeats. It borrows the engine and never owns it.
type Host struct {
	cfg  Config
	core *core.Core

	listener net.Listener

	mu    sync.RWMutex
	peers map[*Peer]struct{}
	book  map[types.Address]Endpoint

	lookups *lookupTable

	quit     chan struct{}
	stopOnce sync.Once
	unsubs   []func()
	wg       sync.WaitGroup
}

// NewHost builds a host over [c].
func NewHost(cfg Config, c *core.Core) *Host {
	if cfg.PingFrequency == 0 {
		cfg.PingFrequency = DefaultPingFrequency
	}
	return &Host{
		cfg:     cfg,
		core:    c,
		peers:   make(map[*Peer]struct{}),
		book:    make(map[types.Address]Endpoint),
		lookups: newLookupTable(),
		quit:    make(chan struct{}),
	}
}

// Run starts listening, dials the seed peers and launches the heartbeat.
func (h *Host) Run() error {
	listener, err := net.Listen("tcp", h.cfg.ListenAddr)
	if err != nil {
		return err
	}
	h.listener = listener
	log.Info("p2p listening", "addr", h.cfg.ListenAddr, "public_port", h.cfg.PublicPort)

	// Engine callbacks run inside its locks and must not block; the actual
	// socket writes happen off the callback goroutine.
	h.unsubs = append(h.unsubs,
		h.core.SubscribeBlockAdded(func(b *chain.Block) { go h.broadcastBlock(b) }),
		h.core.SubscribePendingTransaction(func(tx *chain.Transaction) { go h.broadcastTransaction(tx) }),
	)

	h.wg.Add(2)
	go h.acceptLoop()
	go h.heartbeatLoop()

	for _, seed := range h.cfg.Seeds {
		go h.Connect(seed)
	}
	return nil
}

// Stop closes the listener and every session.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		if h.listener != nil {
			_ = h.listener.Close()
		}
		for _, unsub := range h.unsubs {
			unsub()
		}
		h.mu.RLock()
		for p := range h.peers {
			p.session.Close()
		}
		h.mu.RUnlock()
		h.lookups.cancelAll()
	})
	h.wg.Wait()
}

// Connect dials [addr] and runs a session over the connection.
func (h *Host) Connect(addr string) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		log.Debug("dial failed", "addr", addr, "err", err)
		return
	}
	h.startSession(conn)
}

func (h *Host) acceptLoop() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.quit:
				return
			default:
				log.Debug("accept failed", "err", err)
				continue
			}
		}
		h.startSession(conn)
	}
}

func (h *Host) startSession(conn net.Conn) {
	p := newPeer(newSession(conn), h, h.core)
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	go p.run()
}

func (h *Host) removePeer(p *Peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
}

// heartbeatLoop pings every peer and drops the ones that have gone quiet.
func (h *Host) heartbeatLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PingFrequency / 2)
	defer ticker.Stop()
	for {
		select {
		case <-h.quit:
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-h.cfg.PingFrequency)
		for _, p := range h.peerList() {
			if p.session.LastSeen().Before(cutoff) {
				log.Debug("dropping zombie peer", "remote", p.session.RemoteHost())
				p.session.Close()
				continue
			}
			_ = p.session.Send(encodePing())
		}
	}
}

func (h *Host) peerList() []*Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		out = append(out, p)
	}
	return out
}

// ListenAddr reports the bound listen address, valid after Run.
func (h *Host) ListenAddr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// PeersCount reports the live session count.
func (h *Host) PeersCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// PeerInfos returns the identities of handshaked peers.
func (h *Host) PeerInfos() []PeerInfo {
	out := make([]PeerInfo, 0)
	for _, p := range h.peerList() {
		if info, ok := p.Info(); ok {
			out = append(out, info)
		}
	}
	return out
}

func (h *Host) publicPort() uint16 {
	return h.cfg.PublicPort
}

// learn records one endpoint in the book.
func (h *Host) learn(info PeerInfo) {
	if info.Address.IsNull() || info.Endpoint.IsZero() {
		return
	}
	h.mu.Lock()
	h.book[info.Address] = info.Endpoint
	h.mu.Unlock()
}

func (h *Host) learnAll(infos []PeerInfo) {
	for _, info := range infos {
		h.learn(info)
	}
}

// closestPeers returns up to [alpha] book entries closest to [target] by
// XOR distance over the address bytes.
func (h *Host) closestPeers(target types.Address, alpha int) []PeerInfo {
	h.mu.RLock()
	all := make([]PeerInfo, 0, len(h.book))
	for addr, ep := range h.book {
		all = append(all, PeerInfo{Address: addr, Endpoint: ep})
	}
	h.mu.RUnlock()
	return closestTo(target, all, alpha)
}

// broadcastBlock gossips [b] to every peer that has not seen it yet.
func (h *Host) broadcastBlock(b *chain.Block) {
	hash := b.Hash()
	for _, p := range h.peerList() {
		if p.knowsBlock(hash) {
			continue
		}
		p.markBlockKnown(hash)
		_ = p.session.Send(encodeBlock(b))
	}
}

// broadcastTransaction gossips [tx], skipping the peer it came from and
// anyone else who already has it.
func (h *Host) broadcastTransaction(tx *chain.Transaction) {
	hash := tx.Hash()
	for _, p := range h.peerList() {
		if p.knowsTx(hash) {
			continue
		}
		p.markTxKnown(hash)
		_ = p.session.Send(encodeTransaction(tx))
	}
}
