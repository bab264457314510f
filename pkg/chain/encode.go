package chain

import (
	"encoding/binary"
)

// Blocks is the wire payload of a receive_chain_blocks message: a signed
// batch of observed blocks for one chain.
type Blocks struct {
	ChainID ID
	Blocks  []Block
}

// EncodeBlocks produces the canonical binary encoding of a Blocks payload.
// Validator signatures are computed over it (§6). The store and the memoize
// cache do not use it: they persist blocks as JSON.
func EncodeBlocks(b Blocks) []byte {
	buf := make([]byte, 0, 64*len(b.Blocks)+9)
	buf = append(buf, byte(b.ChainID))
	buf = appendUint64(buf, uint64(len(b.Blocks)))
	for _, blk := range b.Blocks {
		buf = encodeBlock(buf, blk)
	}
	return buf
}

// EncodeReorg produces the canonical binary encoding of a Reorg payload.
func EncodeReorg(r Reorg) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, byte(r.ChainID))
	buf = append(buf, r.FromHash.Bytes()...)
	buf = append(buf, r.ToHash.Bytes()...)
	buf = appendUint64(buf, uint64(len(r.ReverseBlocks)))
	for _, blk := range r.ReverseBlocks {
		buf = encodeBlock(buf, blk)
	}
	buf = appendUint64(buf, uint64(len(r.ForwardBlocks)))
	for _, blk := range r.ForwardBlocks {
		buf = encodeBlock(buf, blk)
	}
	return buf
}

func encodeBlock(buf []byte, blk Block) []byte {
	buf = append(buf, byte(blk.ChainID))
	buf = appendUint64(buf, blk.Number)
	buf = append(buf, blk.BlockHash.Bytes()...)
	buf = append(buf, blk.ParentHash.Bytes()...)
	buf = appendUint64(buf, uint64(len(blk.Events)))
	for _, ev := range blk.Events {
		buf = encodeEvent(buf, ev)
	}
	return buf
}

func encodeEvent(buf []byte, ev BlockEvent) []byte {
	buf = append(buf, byte(ev.ChainID))
	buf = appendUint64(buf, ev.BlockNumber)
	buf = append(buf, byte(ev.Kind))
	switch ev.Kind {
	case Lock:
		if ev.Lock != nil {
			buf = append(buf, ev.Lock.Asset.Bytes()...)
			buf = append(buf, ev.Lock.Recipient.Bytes()...)
			buf = appendUint64(buf, ev.Lock.Amount)
		}
	case LockCash:
		if ev.LockCash != nil {
			buf = append(buf, ev.LockCash.Recipient.Bytes()...)
			buf = appendUint64(buf, ev.LockCash.Principal)
		}
	case ExecuteProposal:
		if ev.Proposal != nil {
			buf = appendUint64(buf, ev.Proposal.ProposalID)
			buf = appendUint64(buf, uint64(len(ev.Proposal.Payload)))
			buf = append(buf, ev.Proposal.Payload...)
		}
	}
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
