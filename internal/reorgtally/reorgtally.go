// Package reorgtally implements the on-chain receiver of §4.4:
// receive_chain_reorg. Like blocktally, it is the strictly-sequential,
// single-threaded mutator of one chain's (last_block, pending_reorgs) pair.
package reorgtally

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gateway-validator/ingestion-core/internal/applydriver"
	"github.com/gateway-validator/ingestion-core/internal/ingestion"
	"github.com/gateway-validator/ingestion-core/internal/logger"
	"github.com/gateway-validator/ingestion-core/internal/metrics"
	"github.com/gateway-validator/ingestion-core/internal/store"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/reason"
	"github.com/gateway-validator/ingestion-core/pkg/validator"
)

// Receiver processes signed ChainReorg messages for one chain.
type Receiver struct {
	store      *store.Store
	validators validator.Set
	recoverer  validator.Recoverer
	ingress    *ingestion.Queue
	driver     *applydriver.Driver
	log        *logger.Logger
}

// New constructs a Receiver.
func New(
	st *store.Store,
	validators validator.Set,
	recoverer validator.Recoverer,
	ingress *ingestion.Queue,
	driver *applydriver.Driver,
	log *logger.Logger,
) *Receiver {
	return &Receiver{
		store:      st,
		validators: validators,
		recoverer:  recoverer,
		ingress:    ingress,
		driver:     driver,
		log:        log.WithComponent("reorg-tally"),
	}
}

// Receive validates and tallies a signed ChainReorg message, reverting and
// replaying state once quorum_support is reached (§4.4).
func (r *Receiver) Receive(ctx context.Context, id chain.ID, reorg chain.Reorg, signature []byte) error {
	payload := chain.EncodeReorg(reorg)

	signer, err := r.recoverer.Recover(payload, signature)
	if err != nil {
		return err
	}
	if !r.validators.Contains(signer) {
		return reason.New(reason.UnknownValidator, "signer %s", signer.Hex())
	}

	// A reorg claim naming a different chain than the one it arrived on is
	// rejected outright rather than permissively accepted (§1 cross-chain
	// mixing is never valid, regardless of how ChainID happens to be wire
	// encoded per-chain).
	if reorg.ChainID != id {
		return reason.New(reason.BadOrigin, "reorg for chain %s received on chain %s", reorg.ChainID, id)
	}

	lastBlock, ok, err := r.store.GetLastProcessedBlock(ctx, id)
	if err != nil {
		return fmt.Errorf("load last processed block: %w", err)
	}
	if !ok {
		return reason.New(reason.Unreachable, "chain %s has no LastProcessedBlock", id)
	}
	if reorg.FromHash != lastBlock.BlockHash {
		return reason.New(reason.HashMismatch, "reorg from_hash %s, last processed hash %s",
			reorg.FromHash.Hex(), lastBlock.BlockHash.Hex())
	}

	tally, err := r.findOrCreateTally(ctx, id, reorg, signer)
	if err != nil {
		return err
	}

	if !r.validators.HasEnoughSupport(tally.Support) {
		return nil
	}

	if err := r.revert(ctx, id, reorg); err != nil {
		return err
	}

	lastBlock, err = r.replay(ctx, id, reorg, lastBlock)
	if err != nil {
		return err
	}

	if err := r.store.ResetPending(ctx, id); err != nil {
		return fmt.Errorf("reset pending state: %w", err)
	}

	metrics.ReorgsAppliedInc(id.String())
	r.log.Infow("reorg applied", "chain", id, "from", reorg.FromHash.Hex(),
		"to", reorg.ToHash.Hex(), "new_last_block", lastBlock.Number)

	return nil
}

// findOrCreateTally locates an existing ChainReorgTally by structural
// equality on reorg, or seeds a new one, adds signer's vote, and persists
// it either way (§4.4).
func (r *Receiver) findOrCreateTally(
	ctx context.Context, id chain.ID, reorg chain.Reorg, signer validator.ID,
) (store.ChainReorgTally, error) {
	tallies, err := r.store.ListPendingReorgs(ctx, id)
	if err != nil {
		return store.ChainReorgTally{}, fmt.Errorf("load pending reorgs: %w", err)
	}

	for _, t := range tallies {
		if t.Reorg.Equal(reorg) {
			t.Support[signer] = struct{}{}
			if err := r.store.UpsertPendingReorg(ctx, id, t); err != nil {
				return store.ChainReorgTally{}, fmt.Errorf("persist reorg tally: %w", err)
			}
			return t, nil
		}
	}

	t := store.ChainReorgTally{Reorg: reorg, Support: map[validator.ID]struct{}{signer: {}}}
	if err := r.store.UpsertPendingReorg(ctx, id, t); err != nil {
		return store.ChainReorgTally{}, fmt.Errorf("persist new reorg tally: %w", err)
	}
	return t, nil
}

// revert walks reorg.ReverseBlocks in the order given (newest→oldest) and,
// for each event, removes the first matching queued occurrence or, failing
// that, unapplies it from the ledger. A ledger Unapply error is fatal to the
// whole message (§4.4, §7).
func (r *Receiver) revert(ctx context.Context, id chain.ID, reorg chain.Reorg) error {
	for _, b := range reorg.ReverseBlocks {
		for _, ev := range b.Events {
			removed, err := r.removeFirstMatchingQueued(ctx, id, ev)
			if err != nil {
				return fmt.Errorf("search ingestion queue: %w", err)
			}
			if removed {
				continue
			}
			if err := r.driver.Unapply(ctx, ev); err != nil {
				return reason.New(reason.Unreachable, "unapply event at block %d: %v", ev.BlockNumber, err)
			}
		}
	}
	return nil
}

// replay walks reorg.ForwardBlocks oldest→newest, pushing events and
// running one ingress_queue round per block, advancing last_block.
func (r *Receiver) replay(
	ctx context.Context, id chain.ID, reorg chain.Reorg, lastBlock chain.Block,
) (chain.Block, error) {
	for _, b := range reorg.ForwardBlocks {
		for _, ev := range b.Events {
			if err := r.store.EnqueueEvent(ctx, id, ev, b.Number); err != nil {
				return lastBlock, fmt.Errorf("enqueue replayed event: %w", err)
			}
		}

		lastBlock = b
		if err := r.store.SetLastProcessedBlock(ctx, id, lastBlock); err != nil {
			return lastBlock, fmt.Errorf("advance last processed block: %w", err)
		}
		if err := r.ingress.Run(ctx, id, lastBlock.Number); err != nil {
			return lastBlock, fmt.Errorf("ingress_queue round: %w", err)
		}
	}
	return lastBlock, nil
}

// removeFirstMatchingQueued removes the earliest-position queued event
// structurally equal to ev, reporting whether one was found.
func (r *Receiver) removeFirstMatchingQueued(ctx context.Context, id chain.ID, ev chain.BlockEvent) (bool, error) {
	queued, err := r.store.ListQueuedEvents(ctx, id)
	if err != nil {
		return false, err
	}
	for _, qe := range queued {
		if reflect.DeepEqual(qe.Event, ev) {
			if err := r.store.RemoveQueuedEvents(ctx, id, []int64{qe.Position}); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}
