// Package blocktally implements the on-chain receiver of §4.3:
// receive_chain_blocks. It is the strictly-sequential, single-threaded
// mutator of one chain's (last_block, pending_blocks) pair (§5).
package blocktally

import (
	"context"
	"fmt"

	"github.com/gateway-validator/ingestion-core/internal/ingestion"
	"github.com/gateway-validator/ingestion-core/internal/logger"
	"github.com/gateway-validator/ingestion-core/internal/metrics"
	"github.com/gateway-validator/ingestion-core/internal/store"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/reason"
	"github.com/gateway-validator/ingestion-core/pkg/validator"
)

// Receiver processes signed ChainBlocks messages for one chain.
type Receiver struct {
	store      *store.Store
	validators validator.Set
	recoverer  validator.Recoverer
	ingress    *ingestion.Queue
	log        *logger.Logger
}

// New constructs a Receiver.
func New(
	st *store.Store,
	validators validator.Set,
	recoverer validator.Recoverer,
	ingress *ingestion.Queue,
	log *logger.Logger,
) *Receiver {
	return &Receiver{
		store:      st,
		validators: validators,
		recoverer:  recoverer,
		ingress:    ingress,
		log:        log.WithComponent("block-tally"),
	}
}

// Receive validates and tallies a signed ChainBlocks message, then
// advances as far as quorum allows (§4.3).
func (r *Receiver) Receive(ctx context.Context, id chain.ID, blocks []chain.Block, signature []byte) error {
	payload := chain.EncodeBlocks(chain.Blocks{ChainID: id, Blocks: blocks})

	signer, err := r.recoverer.Recover(payload, signature)
	if err != nil {
		return err
	}
	if !r.validators.Contains(signer) {
		return reason.New(reason.UnknownValidator, "signer %s", signer.Hex())
	}

	lastBlock, ok, err := r.store.GetLastProcessedBlock(ctx, id)
	if err != nil {
		return fmt.Errorf("load last processed block: %w", err)
	}
	if !ok {
		return reason.New(reason.Unreachable, "chain %s has no LastProcessedBlock", id)
	}

	pending, err := r.store.ListPendingBlocks(ctx, id)
	if err != nil {
		return fmt.Errorf("load pending blocks: %w", err)
	}

	for _, b := range blocks {
		pending, lastBlock, err = r.processOne(ctx, id, b, signer, pending, lastBlock)
		if err != nil {
			return err
		}
	}

	pending, lastBlock, err = r.advance(ctx, id, pending, lastBlock)
	if err != nil {
		return err
	}

	metrics.PendingBlocksDepthSet(id.String(), len(pending))

	return nil
}

// processOne applies the offset-based matching/appending rule of §4.3 for
// one block in the message.
func (r *Receiver) processOne(
	ctx context.Context,
	id chain.ID,
	b chain.Block,
	signer validator.ID,
	pending []store.ChainBlockTally,
	lastBlock chain.Block,
) ([]store.ChainBlockTally, chain.Block, error) {
	if b.Number <= lastBlock.Number {
		r.log.Debugf("ignoring stale block %d (last processed %d)", b.Number, lastBlock.Number)
		return pending, lastBlock, nil
	}

	offset := int(b.Number - lastBlock.Number - 1)

	switch {
	case offset < len(pending):
		existing := pending[offset]
		if b.Equal(existing.Block) {
			addVote(existing.Support, signer)
			delete(existing.Dissent, signer)
		} else {
			addVote(existing.Dissent, signer)
			delete(existing.Support, signer)
		}
		pending[offset] = existing
		if err := r.store.UpdatePendingBlockVotes(ctx, id, existing.Block.Number, existing.Support, existing.Dissent); err != nil {
			return pending, lastBlock, fmt.Errorf("persist tally votes: %w", err)
		}

	case offset == len(pending) && offset == 0:
		if b.ParentHash != lastBlock.BlockHash {
			r.log.Debugf("ignoring disconnected block %d: parent_hash mismatch", b.Number)
			return pending, lastBlock, nil
		}
		tally := store.ChainBlockTally{Block: b, Support: voteSetOf(signer), Dissent: map[validator.ID]struct{}{}}
		if err := r.store.AppendPendingBlock(ctx, id, tally); err != nil {
			return pending, lastBlock, fmt.Errorf("append pending block: %w", err)
		}
		pending = append(pending, tally)

	case offset == len(pending) && offset > 0:
		if b.ParentHash != pending[offset-1].Block.BlockHash {
			r.log.Debugf("ignoring disconnected block %d: parent_hash mismatch", b.Number)
			return pending, lastBlock, nil
		}
		tally := store.ChainBlockTally{Block: b, Support: voteSetOf(signer), Dissent: map[validator.ID]struct{}{}}
		if err := r.store.AppendPendingBlock(ctx, id, tally); err != nil {
			return pending, lastBlock, fmt.Errorf("append pending block: %w", err)
		}
		pending = append(pending, tally)

	default:
		r.log.Debugf("ignoring disconnected block %d: offset %d > pending length %d", b.Number, offset, len(pending))
	}

	return pending, lastBlock, nil
}

// advance pops quorum-supported blocks from the head of pending, pushing
// their events to the ingression queue and running one ingress_queue round
// per advance, until it hits a block without quorum or purges on dissent.
func (r *Receiver) advance(
	ctx context.Context, id chain.ID, pending []store.ChainBlockTally, lastBlock chain.Block,
) ([]store.ChainBlockTally, chain.Block, error) {
	for len(pending) > 0 {
		head := pending[0]

		if r.validators.HasEnoughSupport(head.Support) {
			pending = pending[1:]
			lastBlock = head.Block
			if err := r.store.SetLastProcessedBlock(ctx, id, lastBlock); err != nil {
				return pending, lastBlock, fmt.Errorf("advance last processed block: %w", err)
			}
			if err := r.store.AdvancePendingBlocks(ctx, id, lastBlock.Number); err != nil {
				return pending, lastBlock, fmt.Errorf("drop advanced pending block: %w", err)
			}
			metrics.BlocksAdvancedInc(id.String())

			for _, ev := range head.Block.Events {
				if err := r.store.EnqueueEvent(ctx, id, ev, lastBlock.Number); err != nil {
					return pending, lastBlock, fmt.Errorf("enqueue event: %w", err)
				}
			}

			if err := r.ingress.Run(ctx, id, lastBlock.Number); err != nil {
				return pending, lastBlock, fmt.Errorf("ingress_queue round: %w", err)
			}
			continue
		}

		if r.validators.HasEnoughDissent(head.Dissent) {
			purged := len(pending)
			pending = nil
			if err := r.store.ClearPendingBlocks(ctx, id); err != nil {
				return pending, lastBlock, fmt.Errorf("purge pending blocks: %w", err)
			}
			metrics.BlocksPurgedInc(id.String(), purged)
			return pending, lastBlock, nil
		}

		break
	}

	return pending, lastBlock, nil
}

func addVote(set map[validator.ID]struct{}, id validator.ID) {
	set[id] = struct{}{}
}

func voteSetOf(id validator.ID) map[validator.ID]struct{} {
	return map[validator.ID]struct{}{id: {}}
}
