package p2p

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/emberchain/ember/types"
)

// DefaultLookupAlpha is how many peers each lookup hop asks for.
const DefaultLookupAlpha = 8

const lookupHops = 3

// xorDistance orders addresses by closeness to a target.
func xorDistance(a, b types.Address) (d [types.AddressLen]byte) {
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// closestTo sorts [infos] by XOR distance to [target] and keeps the first
// [k]. Duplicate addresses collapse to the first occurrence.
func closestTo(target types.Address, infos []PeerInfo, k int) []PeerInfo {
	seen := make(map[types.Address]bool, len(infos))
	unique := make([]PeerInfo, 0, len(infos))
	for _, info := range infos {
		if seen[info.Address] {
			continue
		}
		seen[info.Address] = true
		unique = append(unique, info)
	}
	sort.Slice(unique, func(i, j int) bool {
		di := xorDistance(unique[i].Address, target)
		dj := xorDistance(unique[j].Address, target)
		return bytes.Compare(di[:], dj[:]) < 0
	})
	if k > 0 && len(unique) > k {
		unique = unique[:k]
	}
	return unique
}

// lookupCall is one in-flight iterative lookup. Concurrent lookups for
// the same target coalesce onto one call.
type lookupCall struct {
	target    types.Address
	responses chan lookupResultMsg

	finishOnce sync.Once
	done       chan struct{}

	mu   sync.Mutex
	best []PeerInfo
}

func (c *lookupCall) merge(peers []PeerInfo, target types.Address, k int) {
	c.mu.Lock()
	c.best = closestTo(target, append(c.best, peers...), k)
	c.mu.Unlock()
}

func (c *lookupCall) results() []PeerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerInfo, len(c.best))
	copy(out, c.best)
	return out
}

func (c *lookupCall) finish() {
	c.finishOnce.Do(func() { close(c.done) })
}

// lookupTable keys in-flight lookups by target.
type lookupTable struct {
	mu    sync.Mutex
	calls map[types.Address]*lookupCall
}

func newLookupTable() *lookupTable {
	return &lookupTable{calls: make(map[types.Address]*lookupCall)}
}

// join returns the call for [target], reporting whether the caller is the
// one who started it and must drive it.
func (t *lookupTable) join(target types.Address) (*lookupCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if call, ok := t.calls[target]; ok {
		return call, false
	}
	call := &lookupCall{
		target:    target,
		responses: make(chan lookupResultMsg, 64),
		done:      make(chan struct{}),
	}
	t.calls[target] = call
	return call, true
}

func (t *lookupTable) remove(target types.Address) {
	t.mu.Lock()
	delete(t.calls, target)
	t.mu.Unlock()
}

// deliver routes one response to its call; responses for finished or
// unknown lookups are dropped.
func (t *lookupTable) deliver(m lookupResultMsg) {
	t.mu.Lock()
	call, ok := t.calls[m.Target]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case call.responses <- m:
	default:
	}
}

func (t *lookupTable) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for target, call := range t.calls {
		call.finish()
		delete(t.calls, target)
	}
}

// Lookup runs a Kademlia-style iterative address lookup: each hop asks the
// currently known peers for up to [alpha] entries closest to [target],
// dials the closest strangers, and asks again. Concurrent lookups for the
// same target share one call and one result.
func (h *Host) Lookup(target types.Address, alpha int) []PeerInfo {
	if alpha <= 0 {
		alpha = DefaultLookupAlpha
	}
	call, started := h.lookups.join(target)
	if started {
		go h.runLookup(call, alpha)
	}
	<-call.done
	return call.results()
}

func (h *Host) runLookup(call *lookupCall, alpha int) {
	defer func() {
		call.finish()
		h.lookups.remove(call.target)
	}()

	dialed := make(map[types.Address]bool)
	hopWindow := time.Second

	for hop := 0; hop < lookupHops; hop++ {
		msg := encodeLookup(lookupMsg{Target: call.target, Alpha: uint8(alpha)})
		asked := 0
		for _, p := range h.peerList() {
			if err := p.session.Send(msg); err == nil {
				asked++
			}
		}
		if asked == 0 {
			call.merge(h.closestPeers(call.target, alpha), call.target, alpha)
			return
		}

		timer := time.NewTimer(hopWindow)
	collect:
		for received := 0; received < asked; {
			select {
			case m := <-call.responses:
				call.merge(m.Peers, call.target, alpha)
				h.learnAll(m.Peers)
				received++
			case <-timer.C:
				break collect
			case <-h.quit:
				timer.Stop()
				return
			}
		}
		timer.Stop()

		// Dial the closest strangers so the next hop reaches further.
		for _, info := range call.results() {
			if dialed[info.Address] || info.Address == h.core.NodeAddress() {
				continue
			}
			dialed[info.Address] = true
			go h.Connect(info.Endpoint.String())
		}
	}
}
