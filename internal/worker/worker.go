// Package worker implements §4.1's track_chain_events_on: the off-chain
// observer that polls one external chain, decides extend-vs-reorg, and
// submits signed messages to the on-chain receivers.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/gateway-validator/ingestion-core/internal/blocktally"
	"github.com/gateway-validator/ingestion-core/internal/cache"
	"github.com/gateway-validator/ingestion-core/internal/logger"
	"github.com/gateway-validator/ingestion-core/internal/metrics"
	"github.com/gateway-validator/ingestion-core/internal/reorgformulator"
	"github.com/gateway-validator/ingestion-core/internal/reorgtally"
	"github.com/gateway-validator/ingestion-core/internal/store"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/external"
	"github.com/gateway-validator/ingestion-core/pkg/reason"
	"github.com/gateway-validator/ingestion-core/pkg/validator"
)

// Chain bundles one observed chain's external collaborators and on-chain
// receivers for the worker.
type Chain struct {
	ID            chain.ID
	Starport      chain.Address
	RPC           external.ChainRPC
	BlockReceiver *blocktally.Receiver
	ReorgReceiver *reorgtally.Receiver
}

// Worker runs track_chain_events_on for every registered chain, one
// named time-bounded mutex per chain (§5).
type Worker struct {
	chains        map[chain.ID]*Chain
	cache         *cache.Memoize
	store         *store.Store
	signer        validator.Signer
	slack         int
	mutexDeadline time.Duration
	mutexes       map[chain.ID]*semaphore.Weighted
	log           *logger.Logger
}

// New constructs a Worker. slack is INGRESS_SLACK, mutexDeadline the named
// mutex's wall-clock deadline (120s per §6).
func New(
	st *store.Store,
	memoize *cache.Memoize,
	signer validator.Signer,
	slack int,
	mutexDeadline time.Duration,
	log *logger.Logger,
) *Worker {
	return &Worker{
		chains:        make(map[chain.ID]*Chain),
		cache:         memoize,
		store:         st,
		signer:        signer,
		slack:         slack,
		mutexDeadline: mutexDeadline,
		mutexes:       make(map[chain.ID]*semaphore.Weighted),
		log:           log.WithComponent("worker"),
	}
}

// Register adds a chain to observe.
func (w *Worker) Register(c *Chain) {
	w.chains[c.ID] = c
	w.mutexes[c.ID] = semaphore.NewWeighted(1)
}

// RunOnce ticks every registered chain concurrently, one goroutine each,
// and waits for all to finish. It returns the first tick error; that error
// also cancels the context of the other ticks.
func (w *Worker) RunOnce(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for id := range w.chains {
		id := id
		g.Go(func() error {
			if err := w.TrackChainEventsOn(ctx, id); err != nil {
				w.log.Warnw("track_chain_events_on failed", "chain", id, "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// TrackChainEventsOn runs one tick of §4.1 for id, guarded by that chain's
// named time-bounded mutex.
func (w *Worker) TrackChainEventsOn(ctx context.Context, id chain.ID) error {
	mu, ok := w.mutexes[id]
	if !ok {
		return reason.New(reason.Unreachable, "chain %s not registered", id)
	}

	lockCtx, cancel := context.WithTimeout(ctx, w.mutexDeadline)
	defer cancel()

	if err := mu.Acquire(lockCtx, 1); err != nil {
		metrics.WorkerBusyInc(id.String())
		return reason.Of(reason.WorkerBusy)
	}
	defer mu.Release(1)

	start := time.Now()
	err := w.tick(ctx, id)
	metrics.WorkerTickObserve(id.String(), time.Since(start))
	metrics.ComponentHealthSet("worker", err == nil)
	return err
}

func (w *Worker) tick(ctx context.Context, id chain.ID) error {
	c := w.chains[id]

	last, ok, err := w.store.GetLastProcessedBlock(ctx, id)
	if err != nil {
		return fmt.Errorf("load last processed block: %w", err)
	}
	if !ok {
		return reason.New(reason.Unreachable, "chain %s has no LastProcessedBlock", id)
	}

	next, err := c.RPC.BlockByNumber(ctx, id, last.Number+1, c.Starport)
	if err != nil {
		// Chain tip has not advanced past last.Number this tick; nothing
		// to do until the next poll.
		w.log.Debugw("no new block yet", "chain", id, "want", last.Number+1, "error", err)
		return nil
	}

	if last.BlockHash == next.ParentHash {
		return w.extend(ctx, id, c, last, next)
	}
	return w.reorg(ctx, id, c, last)
}

// extend handles the chain-extends branch of §4.1 step 2.
func (w *Worker) extend(ctx context.Context, id chain.ID, c *Chain, last, next chain.Block) error {
	queued, err := w.store.ListQueuedEvents(ctx, id)
	if err != nil {
		return fmt.Errorf("list queued events: %w", err)
	}
	slack := queueSlack(w.slack, len(queued))

	blocks := []chain.Block{next}
	if slack > 0 {
		more, err := c.RPC.BlocksRange(ctx, id, next.Number+1, next.Number+uint64(slack), c.Starport)
		if err != nil {
			w.log.Debugw("successor range fetch failed, submitting single block", "chain", id, "error", err)
		} else {
			blocks = append(blocks, more...)
		}
	}

	pending, err := w.store.ListPendingBlocks(ctx, id)
	if err != nil {
		return fmt.Errorf("load pending blocks: %w", err)
	}
	blocks = w.filterAlreadyVoted(pending, blocks)
	if len(blocks) == 0 {
		return nil
	}

	for _, b := range blocks {
		if err := w.cache.Put(b); err != nil {
			return fmt.Errorf("memoize block %d: %w", b.Number, err)
		}
	}

	payload := chain.EncodeBlocks(chain.Blocks{ChainID: id, Blocks: blocks})
	sig, err := w.signer.Sign(payload)
	if err != nil {
		return reason.New(reason.CryptoError, "sign blocks message: %v", err)
	}

	return c.BlockReceiver.Receive(ctx, id, blocks, sig)
}

// filterAlreadyVoted drops blocks the local validator has already voted on
// for this fork, per the PendingChainBlocks snapshot (§4.1 step 2).
func (w *Worker) filterAlreadyVoted(pending []store.ChainBlockTally, blocks []chain.Block) []chain.Block {
	voted := make(map[uint64]bool, len(pending))
	for _, t := range pending {
		if _, ok := t.Support[w.signer.ID()]; ok {
			voted[t.Block.Number] = true
		}
	}
	out := make([]chain.Block, 0, len(blocks))
	for _, b := range blocks {
		if !voted[b.Number] {
			out = append(out, b)
		}
	}
	return out
}

// reorg handles the fork-detected branch of §4.1 step 3.
func (w *Worker) reorg(ctx context.Context, id chain.ID, c *Chain, last chain.Block) error {
	trueBlock, err := c.RPC.BlockByNumber(ctx, id, last.Number, c.Starport)
	if err != nil {
		return reason.New(reason.MissingBlock, "fetch true block %d: %v", last.Number, err)
	}

	firstBlock, ok, err := w.store.GetFirstBlock(ctx, id)
	if err != nil {
		return fmt.Errorf("load first block: %w", err)
	}
	if !ok {
		return reason.New(reason.Unreachable, "chain %s has no FirstBlock", id)
	}

	formulator := reorgformulator.New(w.cache, c.RPC)
	claim, err := formulator.Formulate(ctx, id, c.Starport, firstBlock, last, trueBlock)
	if err != nil {
		return err
	}

	alreadySigned, err := w.alreadySignedReorg(ctx, id, claim)
	if err != nil {
		return err
	}
	if alreadySigned {
		return nil
	}

	for _, b := range claim.ForwardBlocks {
		if err := w.cache.Put(b); err != nil {
			return fmt.Errorf("memoize forward block %d: %w", b.Number, err)
		}
	}

	payload := chain.EncodeReorg(claim)
	sig, err := w.signer.Sign(payload)
	if err != nil {
		return reason.New(reason.CryptoError, "sign reorg message: %v", err)
	}

	return c.ReorgReceiver.Receive(ctx, id, claim, sig)
}

// alreadySignedReorg reports whether the local validator has already
// voted for a structurally identical reorg claim (§4.1: workers are
// idempotent, duplicate submissions are dropped, but re-signing is wasted
// work worth skipping).
func (w *Worker) alreadySignedReorg(ctx context.Context, id chain.ID, claim chain.Reorg) (bool, error) {
	tallies, err := w.store.ListPendingReorgs(ctx, id)
	if err != nil {
		return false, fmt.Errorf("list pending reorgs: %w", err)
	}
	for _, t := range tallies {
		if t.Reorg.Equal(claim) {
			_, signed := t.Support[w.signer.ID()]
			return signed, nil
		}
	}
	return false, nil
}

// queueSlack computes queue_slack(queue) = max(INGRESS_SLACK - |queue|, 1).
func queueSlack(ingressSlack, queueLen int) int {
	remaining := ingressSlack - queueLen
	if remaining < 1 {
		return 1
	}
	return remaining
}
