// Package node wires the engine, the peer network, the RPC server and the
// miner into one runnable process.
package node

import (
	"context"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/manager"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/avalanchego/version"
	log "github.com/inconshreveable/log15"
	"github.com/spf13/viper"

	"github.com/emberchain/ember/api"
	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/core"
	"github.com/emberchain/ember/evm"
	"github.com/emberchain/ember/keys"
	"github.com/emberchain/ember/miner"
	"github.com/emberchain/ember/p2p"
	"github.com/emberchain/ember/types"
)

var dbVersion = version.NewDefaultVersion(1, 0, 0)

// Node is the composition root.
type Node struct {
	cfg *viper.Viper

	core  *core.Core
	host  *p2p.Host
	miner *miner.Miner

	rpcServer  *http.Server
	complexity miner.Complexity

	kick     chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	unsubs   []func()
}

// New builds a node from configuration. The interpreter comes from the
// caller; the engine only knows its host contract.
func New(cfg *viper.Viper, vmImpl evm.VM) (*Node, error) {
	vault := keys.NewVault(cfg.GetString("keys.directory"))
	priv, err := vault.LoadOrCreate(cfg.GetString("keys.passphrase"))
	if err != nil {
		return nil, err
	}
	nodeAddress := types.AddressFromPublicKey(priv.PubKey())
	log.Info("node identity", "address", nodeAddress)

	db, err := openDatabase(cfg.GetString("db.path"))
	if err != nil {
		return nil, err
	}
	alloc, err := parseGenesisAlloc(cfg.GetStringMapString("genesis.alloc"))
	if err != nil {
		return nil, err
	}
	engine, err := core.New(db, vmImpl, nodeAddress, alloc)
	if err != nil {
		return nil, err
	}

	host := p2p.NewHost(p2p.Config{
		ListenAddr: cfg.GetString("net.listen_addr"),
		PublicPort: uint16(cfg.GetUint("net.public_port")),
		Seeds:      cfg.GetStringSlice("net.nodes"),
	}, engine)

	n := &Node{
		cfg:        cfg,
		core:       engine,
		host:       host,
		complexity: parseComplexity(cfg.GetString("miner.complexity")),
		kick:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}
	n.miner = miner.New(n.onBlockMined)
	return n, nil
}

// Core exposes the engine for embedding and tests.
func (n *Node) Core() *core.Core {
	return n.core
}

// Run starts networking, the RPC server and the mining loop, then blocks
// until Stop.
func (n *Node) Run() error {
	if err := n.host.Run(); err != nil {
		return err
	}

	service := api.NewService(n.core, n.host)
	handler, err := api.NewHandler(service)
	if err != nil {
		return err
	}
	n.rpcServer = &http.Server{Addr: n.cfg.GetString("rpc.address"), Handler: handler}
	go func() {
		log.Info("rpc listening", "addr", n.rpcServer.Addr)
		if err := n.rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("rpc server stopped", "err", err)
		}
	}()

	// Both chain growth and pool growth retarget the miner. Callbacks must
	// not block inside the engine's locks, so they only poke the worker.
	n.unsubs = append(n.unsubs,
		n.core.SubscribeBlockAdded(func(*chain.Block) { n.pokeMiner() }),
		n.core.SubscribePendingTransaction(func(*chain.Transaction) { n.pokeMiner() }),
	)
	n.wg.Add(1)
	go n.minerLoop()

	<-n.quit
	return nil
}

// Stop shuts everything down in dependency order.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.quit)
		for _, unsub := range n.unsubs {
			unsub()
		}
		n.miner.DropJob()
		if n.rpcServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = n.rpcServer.Shutdown(ctx)
			cancel()
		}
		n.host.Stop()
	})
	n.wg.Wait()
}

func (n *Node) pokeMiner() {
	select {
	case n.kick <- struct{}{}:
	default:
	}
}

func (n *Node) minerLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.quit:
			return
		case <-n.kick:
		}
		template := n.core.BlockTemplate()
		if template.Transactions().IsEmpty() {
			n.miner.DropJob()
			continue
		}
		n.miner.FindNonce(template, n.complexity)
	}
}

func (n *Node) onBlockMined(b *chain.Block) {
	if err := n.core.TryAddBlock(b); err != nil {
		log.Debug("mined block not applied", "depth", b.Depth(), "err", err)
	}
}

// openDatabase returns the backing key-value store: on-disk under [path],
// in-memory when no path is configured.
func openDatabase(path string) (database.Database, error) {
	if path == "" {
		log.Warn("db.path not set, state will not be persisted")
		return memdb.New(), nil
	}
	dbManager, err := manager.NewLevelDB(path, nil, logging.NoLog{}, dbVersion)
	if err != nil {
		return nil, err
	}
	return dbManager.Current().Database, nil
}

// parseGenesisAlloc reads the genesis balance table: Base58 address to
// decimal amount. It must be identical on every node of the network.
func parseGenesisAlloc(raw map[string]string) (map[types.Address]types.Balance, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	alloc := make(map[types.Address]types.Balance, len(raw))
	for addrStr, amountStr := range raw {
		addr, err := types.AddressFromBase58(addrStr)
		if err != nil {
			return nil, err
		}
		amount, err := types.BalanceFromString(amountStr)
		if err != nil {
			return nil, err
		}
		alloc[addr] = amount
	}
	return alloc, nil
}

// parseComplexity reads the difficulty target as big-endian hex; short
// values are left-padded, an empty value selects the default.
func parseComplexity(s string) miner.Complexity {
	if s == "" {
		return miner.DefaultComplexity()
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) > 32 {
		log.Warn("bad miner.complexity, using default", "value", s)
		return miner.DefaultComplexity()
	}
	var c miner.Complexity
	copy(c[32-len(raw):], raw)
	return c
}
