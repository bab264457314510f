// Package chain holds the tagged-variant block, event, hash and reorg types
// shared by every component of the ingestion core. New chains are added as
// one new ChainId variant plus one new EthEvent/ChainBlock case at each site;
// there is no dynamic dispatch over chain kinds.
package chain

import (
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
)

// ID identifies the external chain a block, event, or reorg belongs to.
// Closed enum, extensible: two variants today.
type ID uint8

const (
	Eth ID = iota + 1
	Matic
)

// String renders the chain tag for logging and metric labels.
func (c ID) String() string {
	switch c {
	case Eth:
		return "eth"
	case Matic:
		return "matic"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// IsValid reports whether c is one of the two currently supported chains.
func (c ID) IsValid() bool {
	switch c {
	case Eth, Matic:
		return true
	default:
		return false
	}
}

// ParseID parses a chain tag string ("eth"/"matic") into an ID.
func ParseID(s string) (ID, error) {
	switch s {
	case "eth":
		return Eth, nil
	case "matic":
		return Matic, nil
	default:
		return 0, fmt.Errorf("unknown chain id: %q", s)
	}
}

// Hash is the 32-byte block hash type, reusing go-ethereum's common.Hash
// rather than a hand-rolled byte array.
type Hash = common.Hash

// Address is the 20-byte account/contract address type.
type Address = common.Address

// Block is a tagged-variant external chain block: {number, hash, parent_hash,
// events}. Two blocks are equal iff all four fields match (see Equal).
type Block struct {
	ChainID    ID
	Number     uint64
	BlockHash  Hash
	ParentHash Hash
	Events     []BlockEvent
}

// Equal reports whether two blocks carry the same chain, number, hash,
// parent hash and event list (events compared in order, field by field).
func (b Block) Equal(o Block) bool {
	if b.ChainID != o.ChainID || b.Number != o.Number ||
		b.BlockHash != o.BlockHash || b.ParentHash != o.ParentHash ||
		len(b.Events) != len(o.Events) {
		return false
	}
	for i := range b.Events {
		if !reflect.DeepEqual(b.Events[i], o.Events[i]) {
			return false
		}
	}
	return true
}

// EventKind tags the variant of a BlockEvent.
type EventKind uint8

const (
	// Reserved is a placeholder variant carrying zero risk value.
	Reserved EventKind = iota
	// Lock is an asset lock event: an amount of some asset moved to the
	// external chain's lock contract, to be credited on the ledger.
	Lock
	// LockCash is a cash-principal lock event.
	LockCash
	// ExecuteProposal is a governance proposal execution event.
	ExecuteProposal
	// Ignored covers every other on-chain event this core observes but
	// does not act on; it always contributes zero risk value.
	Ignored
)

// BlockEvent is a tagged-variant chain event: {Reserved | Eth(number, EthEvent)
// | Matic(number, EthEvent)}. BlockNumber is carried alongside the event so
// that ingression can compute Δ = last_block.number − event.block_number even
// after the event has been copied out of its originating Block.
type BlockEvent struct {
	ChainID     ID
	BlockNumber uint64
	Kind        EventKind
	Lock        *LockEvent
	LockCash    *LockCashEvent
	Proposal    *ExecuteProposalEvent
}

// LockEvent carries an asset lock: amount of asset moved to recipient.
type LockEvent struct {
	Asset     Address
	Recipient Address
	Amount    uint64
}

// LockCashEvent carries a cash-principal lock.
type LockCashEvent struct {
	Recipient Address
	Principal uint64
}

// ExecuteProposalEvent carries a governance proposal execution marker; the
// proposal payload itself is opaque to this core.
type ExecuteProposalEvent struct {
	ProposalID uint64
	Payload    []byte
}

// Reorg is a claim that the chain now rooted at ToHash supersedes the chain
// rooted at FromHash. ReverseBlocks are the blocks currently applied,
// newest→oldest (walk top-down to revert). ForwardBlocks are the new path,
// oldest→newest.
type Reorg struct {
	ChainID       ID
	FromHash      Hash
	ToHash        Hash
	ReverseBlocks []Block
	ForwardBlocks []Block
}

// Equal reports structural equality of a reorg claim: same chain, endpoints,
// and both block sequences (by block identity, see Block.Equal). Identity of
// a ChainReorgTally is this equality on its Reorg field.
func (r Reorg) Equal(o Reorg) bool {
	if r.ChainID != o.ChainID || r.FromHash != o.FromHash || r.ToHash != o.ToHash {
		return false
	}
	if len(r.ReverseBlocks) != len(o.ReverseBlocks) || len(r.ForwardBlocks) != len(o.ForwardBlocks) {
		return false
	}
	for i := range r.ReverseBlocks {
		if !r.ReverseBlocks[i].Equal(o.ReverseBlocks[i]) {
			return false
		}
	}
	for i := range r.ForwardBlocks {
		if !r.ForwardBlocks[i].Equal(o.ForwardBlocks[i]) {
			return false
		}
	}
	return true
}
