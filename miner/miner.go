// Package miner searches block nonces. It is a black box to the engine:
// it takes a template and a difficulty target, and hands back a block
// whose hash meets the target.
package miner

import (
	"bytes"
	"runtime"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/emberchain/ember/chain"
)

// Complexity is the difficulty target: a block qualifies when its hash,
// compared as a big-endian byte string, is not above the target.
type Complexity [32]byte

// DefaultComplexity accepts roughly one hash in 256.
func DefaultComplexity() Complexity {
	var c Complexity
	c[0] = 0x00
	for i := 1; i < len(c); i++ {
		c[i] = 0xff
	}
	return c
}

// Meets reports whether [h] satisfies the target.
func (c Complexity) Meets(h [32]byte) bool {
	return bytes.Compare(h[:], c[:]) <= 0
}

// Miner runs nonce searches on background workers. FindNonce replaces any
// running job; DropJob cancels without replacement. Found blocks go to the
// callback handed to New.
type Miner struct {
	found func(*chain.Block)

	mu         sync.Mutex
	generation uint64
}

// New returns a miner delivering mined blocks to [found].
func New(found func(*chain.Block)) *Miner {
	return &Miner{found: found}
}

// FindNonce starts searching [template] for a nonce meeting [target],
// cancelling any previous job.
func (m *Miner) FindNonce(template *chain.Block, target Complexity) {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	workers := runtime.NumCPU()
	log.Debug("mining job started", "depth", template.Depth(), "workers", workers)
	for i := 0; i < workers; i++ {
		go m.work(template, target, gen, uint64(i), uint64(workers))
	}
}

// DropJob cancels the running search, if any.
func (m *Miner) DropJob() {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()
}

func (m *Miner) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Miner) work(template *chain.Block, target Complexity, gen, start, stride uint64) {
	for nonce := start; ; nonce += stride {
		// Re-check cancellation every so often, not on every hash.
		if nonce/stride%1024 == 0 && m.currentGeneration() != gen {
			return
		}
		candidate := template.WithNonce(nonce)
		if target.Meets(candidate.Hash()) {
			m.mu.Lock()
			stillOurs := m.generation == gen
			if stillOurs {
				m.generation++
			}
			m.mu.Unlock()
			if stillOurs {
				log.Debug("nonce found", "depth", candidate.Depth(), "nonce", nonce)
				m.found(candidate)
			}
			return
		}
	}
}
