// Package store persists the per-chain singletons of §3: FirstBlock,
// LastProcessedBlock, PendingChainBlocks, PendingChainReorgs, and the
// ingression queue. One SQLite database backs every configured chain,
// partitioned by chain_id.
package store

import (
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/validator"
)

// ChainBlockTally is one entry of PendingChainBlocks: an observed block
// together with the validators that have voted for (Support) or against
// (Dissent) it.
type ChainBlockTally struct {
	Block   chain.Block
	Support map[validator.ID]struct{}
	Dissent map[validator.ID]struct{}
}

// ChainReorgTally is one entry of PendingChainReorgs: a claimed reorg
// together with the validators that have voted for it.
type ChainReorgTally struct {
	Reorg   chain.Reorg
	Support map[validator.ID]struct{}
}

// QueuedEvent is one row of the ingression queue: an event awaiting
// maturity, tagged with the chain height it was queued at. ingress_queue
// computes Δ from Event.BlockNumber, not from QueuedAtBlock.
type QueuedEvent struct {
	Position      int64
	Event         chain.BlockEvent
	QueuedAtBlock uint64
}

// IngressionOutcome is one row of the queryable outcome log: the recorded
// result of a single apply_chain_event/unapply_chain_event invocation made
// by internal/applydriver.
type IngressionOutcome struct {
	Position    int64
	ChainID     chain.ID
	BlockNumber uint64
	Kind        chain.EventKind
	Direction   string // "apply" or "unapply"
	Outcome     string // "processed" or "failed"
	USDValue    uint64
	Error       string
}

func newVoteSet() map[validator.ID]struct{} {
	return make(map[validator.ID]struct{})
}

func cloneVoteSet(in map[validator.ID]struct{}) map[validator.ID]struct{} {
	out := make(map[validator.ID]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
