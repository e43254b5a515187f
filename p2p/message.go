package p2p

import (
	"errors"

	"github.com/emberchain/ember/chain"
	"github.com/emberchain/ember/codec"
	"github.com/emberchain/ember/types"
)

// Message kinds. Every payload is the canonical serialization of a tagged
// variant: one discriminator byte, then the variant body.
const (
	msgHandshake byte = iota + 1
	msgPing
	msgPong
	msgTransaction
	msgBlock
	msgGetBlock
	msgBlockNotFound
	msgGetInfo
	msgInfo
	msgLookup
	msgLookupResult
)

var ErrUnknownMessage = errors.New("unknown message tag")

// PeerInfo pairs a peer's account address with its dialable endpoint.
// Lookups measure XOR distance over the address bytes.
type PeerInfo struct {
	Address  types.Address
	Endpoint Endpoint
}

func (p PeerInfo) encodeTo(w *codec.Writer) {
	w.WriteFixed(p.Address.Bytes())
	p.Endpoint.encodeTo(w)
}

func decodePeerInfo(r *codec.Reader) (PeerInfo, error) {
	rawAddr, err := r.ReadFixed(types.AddressLen)
	if err != nil {
		return PeerInfo{}, err
	}
	addr, _ := types.AddressFromBytes(rawAddr)
	ep, err := decodeEndpoint(r)
	if err != nil {
		return PeerInfo{}, err
	}
	return PeerInfo{Address: addr, Endpoint: ep}, nil
}

// handshakeMsg opens every session, in both directions.
type handshakeMsg struct {
	TopBlock   *chain.Block
	Address    types.Address
	ListenPort uint16 // zero when the peer does not accept connections
}

// infoMsg answers getInfo with the chain tip and the peer set.
type infoMsg struct {
	TopHash types.Hash
	Peers   []PeerInfo
}

// lookupMsg asks for up to Alpha known peers closest to Target.
type lookupMsg struct {
	Target types.Address
	Alpha  uint8
}

// lookupResultMsg carries the responder's closest peers to Target.
type lookupResultMsg struct {
	Target types.Address
	Peers  []PeerInfo
}

func encodeHandshake(m handshakeMsg) []byte {
	w := codec.NewWriter()
	w.WriteUint8(msgHandshake)
	m.TopBlock.EncodeTo(w)
	w.WriteFixed(m.Address.Bytes())
	w.WriteUint16(m.ListenPort)
	return w.Bytes()
}

func encodePing() []byte { return []byte{msgPing} }
func encodePong() []byte { return []byte{msgPong} }

func encodeTransaction(tx *chain.Transaction) []byte {
	w := codec.NewWriter()
	w.WriteUint8(msgTransaction)
	tx.EncodeTo(w)
	return w.Bytes()
}

func encodeBlock(b *chain.Block) []byte {
	w := codec.NewWriter()
	w.WriteUint8(msgBlock)
	b.EncodeTo(w)
	return w.Bytes()
}

func encodeGetBlock(h types.Hash) []byte {
	w := codec.NewWriter()
	w.WriteUint8(msgGetBlock)
	w.WriteFixed(h.Bytes())
	return w.Bytes()
}

func encodeBlockNotFound(h types.Hash) []byte {
	w := codec.NewWriter()
	w.WriteUint8(msgBlockNotFound)
	w.WriteFixed(h.Bytes())
	return w.Bytes()
}

func encodeGetInfo() []byte { return []byte{msgGetInfo} }

func encodeInfo(m infoMsg) []byte {
	w := codec.NewWriter()
	w.WriteUint8(msgInfo)
	w.WriteFixed(m.TopHash.Bytes())
	w.WriteUint32(uint32(len(m.Peers)))
	for _, p := range m.Peers {
		p.encodeTo(w)
	}
	return w.Bytes()
}

func encodeLookup(m lookupMsg) []byte {
	w := codec.NewWriter()
	w.WriteUint8(msgLookup)
	w.WriteFixed(m.Target.Bytes())
	w.WriteUint8(m.Alpha)
	return w.Bytes()
}

func encodeLookupResult(m lookupResultMsg) []byte {
	w := codec.NewWriter()
	w.WriteUint8(msgLookupResult)
	w.WriteFixed(m.Target.Bytes())
	w.WriteUint32(uint32(len(m.Peers)))
	for _, p := range m.Peers {
		p.encodeTo(w)
	}
	return w.Bytes()
}

func decodeHandshake(r *codec.Reader) (handshakeMsg, error) {
	b, err := chain.DecodeBlock(r)
	if err != nil {
		return handshakeMsg{}, err
	}
	rawAddr, err := r.ReadFixed(types.AddressLen)
	if err != nil {
		return handshakeMsg{}, err
	}
	addr, _ := types.AddressFromBytes(rawAddr)
	port, err := r.ReadUint16()
	if err != nil {
		return handshakeMsg{}, err
	}
	return handshakeMsg{TopBlock: b, Address: addr, ListenPort: port}, nil
}

func decodeHash(r *codec.Reader) (types.Hash, error) {
	raw, err := r.ReadFixed(types.HashLen)
	if err != nil {
		return types.NullHash, err
	}
	return types.HashFromBytes(raw)
}

func decodeInfo(r *codec.Reader) (infoMsg, error) {
	topHash, err := decodeHash(r)
	if err != nil {
		return infoMsg{}, err
	}
	count, err := r.ReadUint32()
	if err != nil {
		return infoMsg{}, err
	}
	peers := make([]PeerInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := decodePeerInfo(r)
		if err != nil {
			return infoMsg{}, err
		}
		peers = append(peers, p)
	}
	return infoMsg{TopHash: topHash, Peers: peers}, nil
}

func decodeLookup(r *codec.Reader) (lookupMsg, error) {
	rawTarget, err := r.ReadFixed(types.AddressLen)
	if err != nil {
		return lookupMsg{}, err
	}
	target, _ := types.AddressFromBytes(rawTarget)
	alpha, err := r.ReadUint8()
	if err != nil {
		return lookupMsg{}, err
	}
	return lookupMsg{Target: target, Alpha: alpha}, nil
}

func decodeLookupResult(r *codec.Reader) (lookupResultMsg, error) {
	rawTarget, err := r.ReadFixed(types.AddressLen)
	if err != nil {
		return lookupResultMsg{}, err
	}
	target, _ := types.AddressFromBytes(rawTarget)
	count, err := r.ReadUint32()
	if err != nil {
		return lookupResultMsg{}, err
	}
	peers := make([]PeerInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := decodePeerInfo(r)
		if err != nil {
			return lookupResultMsg{}, err
		}
		peers = append(peers, p)
	}
	return lookupResultMsg{Target: target, Peers: peers}, nil
}
