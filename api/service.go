// Package api carries the RPC surface. The transport is a plain JSON-RPC
// HTTP server; subscription feeds (block_added, account_changed) are
// exposed by the engine's observables for richer transports to bridge.
package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	cjson "github.com/ava-labs/avalanchego/utils/json"
	"github.com/gorilla/rpc/v2"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/core"
	"github.com/emberchain/ember/p2p"
	"github.com/emberchain/ember/types"
)

// Version identifies the RPC surface.
const Version = 1

var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
)

// Service is the RPC service. Every method is idempotent.
type Service struct {
	core *core.Core
	host *p2p.Host
}

// NewService returns the service over [c] and [host].
func NewService(c *core.Core, host *p2p.Host) *Service {
	return &Service{core: c, host: host}
}

// NewHandler wraps the service in a JSON-RPC HTTP handler registered under
// the "ember" namespace.
func NewHandler(s *Service) (http.Handler, error) {
	server := rpc.NewServer()
	jsonCodec := cjson.NewCodec()
	server.RegisterCodec(jsonCodec, "application/json")
	server.RegisterCodec(jsonCodec, "application/json;charset=UTF-8")
	if err := server.RegisterService(s, "ember"); err != nil {
		return nil, err
	}
	return server, nil
}

// NodeInfoReply mirrors get_node_info.
type NodeInfoReply struct {
	TopBlockHash   string      `json:"topBlockHash"`
	TopBlockNumber cjson.Uint64 `json:"topBlockNumber"`
	APIVersion     cjson.Uint32 `json:"apiVersion"`
	PeersCount     cjson.Uint32 `json:"peersCount"`
}

// GetNodeInfo reports the chain tip and peer count.
func (s *Service) GetNodeInfo(_ *http.Request, _ *struct{}, reply *NodeInfoReply) error {
	top := s.core.TopBlock()
	reply.TopBlockHash = top.Hash().String()
	reply.TopBlockNumber = cjson.Uint64(top.Depth())
	reply.APIVersion = cjson.Uint32(Version)
	reply.PeersCount = cjson.Uint32(s.host.PeersCount())
	return nil
}

// GetAccountArgs names one account.
type GetAccountArgs struct {
	Address string `json:"address"`
}

// AccountReply mirrors the Account variant.
type AccountReply struct {
	Type     string       `json:"type"`
	Address  string       `json:"address"`
	Balance  string       `json:"balance"`
	Nonce    cjson.Uint64 `json:"nonce"`
	TxHashes []string     `json:"txHashes,omitempty"`
	Code     string       `json:"code,omitempty"`
	ABI      string       `json:"abi,omitempty"`
}

// GetAccount returns the account record for an address.
func (s *Service) GetAccount(_ *http.Request, args *GetAccountArgs, reply *AccountReply) error {
	addr, err := types.AddressFromBase58(args.Address)
	if err != nil {
		return ErrBadRequest
	}
	acc, err := s.core.GetAccount(addr)
	if err != nil {
		return ErrNotFound
	}
	reply.Type = acc.Type.String()
	reply.Address = acc.Address.String()
	reply.Balance = acc.Balance.String()
	reply.Nonce = cjson.Uint64(acc.Nonce)
	for _, h := range acc.TxHashes {
		reply.TxHashes = append(reply.TxHashes, h.String())
	}
	if acc.Type == chain.ContractAccount {
		reply.Code = base64.StdEncoding.EncodeToString(acc.Code)
		reply.ABI = base64.StdEncoding.EncodeToString(acc.ABI)
	}
	return nil
}

// GetBlockArgs names a block by hash or by number; hash wins when both are
// set.
type GetBlockArgs struct {
	Hash   string        `json:"hash,omitempty"`
	Number *cjson.Uint64 `json:"number,omitempty"`
}

// TransactionReply mirrors one transaction.
type TransactionReply struct {
	From      string       `json:"from"`
	To        string       `json:"to"`
	Amount    string       `json:"amount"`
	Fee       string       `json:"fee"`
	Timestamp cjson.Uint64 `json:"timestamp"`
	Data      string       `json:"data,omitempty"`
	Sign      string       `json:"sign,omitempty"`
	Hash      string       `json:"hash"`
}

// BlockReply mirrors one block.
type BlockReply struct {
	Depth        cjson.Uint64       `json:"depth"`
	Nonce        cjson.Uint64       `json:"nonce"`
	Timestamp    cjson.Uint64       `json:"timestamp"`
	PrevHash     string             `json:"previousBlockHash"`
	Coinbase     string             `json:"coinbase"`
	Hash         string             `json:"hash"`
	Transactions []TransactionReply `json:"transactions"`
}

// GetBlock returns a block by hash or number.
func (s *Service) GetBlock(_ *http.Request, args *GetBlockArgs, reply *BlockReply) error {
	var b *chain.Block
	switch {
	case args.Hash != "":
		h, err := types.HashFromHex(args.Hash)
		if err != nil {
			return ErrBadRequest
		}
		b = s.core.FindBlock(h)
	case args.Number != nil:
		h, ok := s.core.FindBlockHash(uint64(*args.Number))
		if !ok {
			return ErrNotFound
		}
		b = s.core.FindBlock(h)
	default:
		return ErrBadRequest
	}
	if b == nil {
		return ErrNotFound
	}
	*reply = blockReply(b)
	return nil
}

// GetTransactionArgs names one transaction.
type GetTransactionArgs struct {
	Hash string `json:"hash"`
}

// GetTransaction returns a committed or pending transaction.
func (s *Service) GetTransaction(_ *http.Request, args *GetTransactionArgs, reply *TransactionReply) error {
	h, err := types.HashFromHex(args.Hash)
	if err != nil {
		return ErrBadRequest
	}
	tx := s.core.FindTransaction(h)
	if tx == nil {
		return ErrNotFound
	}
	*reply = transactionReply(tx)
	return nil
}

// StatusReply mirrors one recorded transaction status.
type StatusReply struct {
	Status  string `json:"status"`
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	FeeLeft string `json:"feeLeft"`
}

// GetTransactionStatus returns the recorded outcome for a transaction.
func (s *Service) GetTransactionStatus(_ *http.Request, args *GetTransactionArgs, reply *StatusReply) error {
	h, err := types.HashFromHex(args.Hash)
	if err != nil {
		return ErrBadRequest
	}
	status, ok := s.core.TransactionOutput(h)
	if !ok {
		return ErrNotFound
	}
	*reply = statusReply(status)
	return nil
}

// PushTransactionArgs carries one signed transaction.
type PushTransactionArgs struct {
	From      string       `json:"from"`
	To        string       `json:"to,omitempty"` // empty means contract creation
	Amount    string       `json:"amount"`
	Fee       string       `json:"fee"`
	Timestamp cjson.Uint64 `json:"timestamp"`
	Data      string       `json:"data,omitempty"` // base64
	Sign      string       `json:"sign"`           // base64
}

// PushTransaction submits a transaction and returns the synchronous
// admission result.
func (s *Service) PushTransaction(_ *http.Request, args *PushTransactionArgs, reply *StatusReply) error {
	tx, err := parseTransaction(args)
	if err != nil {
		return ErrBadRequest
	}
	*reply = statusReply(s.core.AddPending(tx))
	return nil
}

// CallViewArgs describes a view invocation.
type CallViewArgs struct {
	From string `json:"from"`
	To   string `json:"to"`
	Data string `json:"data,omitempty"` // base64
	Sign string `json:"sign,omitempty"` // base64, optional
}

// CallViewReply carries the VM's return bytes.
type CallViewReply struct {
	Result string `json:"result"` // base64
}

// CallView executes a free, read-only contract call against the top state.
func (s *Service) CallView(_ *http.Request, args *CallViewArgs, reply *CallViewReply) error {
	from, err := types.AddressFromBase58(args.From)
	if err != nil {
		return ErrBadRequest
	}
	to, err := types.AddressFromBase58(args.To)
	if err != nil {
		return ErrBadRequest
	}
	data, err := base64.StdEncoding.DecodeString(args.Data)
	if err != nil {
		return ErrBadRequest
	}
	call := core.NewViewCall(from, to, uint64(0), data)
	if args.Sign != "" {
		sign, err := types.SignFromBase64(args.Sign)
		if err != nil {
			return ErrBadRequest
		}
		call = call.WithRawSign(sign)
	}
	out, err := s.core.CallView(call)
	if err != nil {
		return err
	}
	reply.Result = base64.StdEncoding.EncodeToString(out)
	return nil
}

func parseTransaction(args *PushTransactionArgs) (*chain.Transaction, error) {
	from, err := types.AddressFromBase58(args.From)
	if err != nil {
		return nil, err
	}
	to := types.NullAddress
	if args.To != "" {
		if to, err = types.AddressFromBase58(args.To); err != nil {
			return nil, err
		}
	}
	amount, err := types.BalanceFromString(args.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := types.BalanceFromString(args.Fee)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(args.Data)
	if err != nil {
		return nil, err
	}
	sign, err := types.SignFromBase64(args.Sign)
	if err != nil {
		return nil, err
	}
	return chain.NewTransaction(from, to, amount, fee, uint64(args.Timestamp), data, sign)
}

func transactionReply(tx *chain.Transaction) TransactionReply {
	reply := TransactionReply{
		From:      tx.From().String(),
		Amount:    tx.Amount().String(),
		Fee:       tx.Fee().String(),
		Timestamp: cjson.Uint64(tx.Timestamp()),
		Hash:      tx.Hash().String(),
	}
	if !tx.To().IsNull() {
		reply.To = tx.To().String()
	}
	if data := tx.Data(); len(data) > 0 {
		reply.Data = base64.StdEncoding.EncodeToString(data)
	}
	if !tx.Sign().IsNull() {
		reply.Sign = tx.Sign().ToBase64()
	}
	return reply
}

func blockReply(b *chain.Block) BlockReply {
	reply := BlockReply{
		Depth:     cjson.Uint64(b.Depth()),
		Nonce:     cjson.Uint64(b.Nonce()),
		Timestamp: cjson.Uint64(b.Timestamp()),
		PrevHash:  b.PrevHash().String(),
		Coinbase:  b.Coinbase().String(),
		Hash:      b.Hash().String(),
	}
	for _, tx := range b.Transactions().List() {
		reply.Transactions = append(reply.Transactions, transactionReply(tx))
	}
	return reply
}

func statusReply(status core.TransactionStatus) StatusReply {
	return StatusReply{
		Status:  status.Status.String(),
		Action:  status.Action.String(),
		Message: status.Message,
		FeeLeft: status.FeeLeft.String(),
	}
}
