// Package reorgformulator implements the dual backward walk of §4.2: given
// a trusted head and a newly observed head at the same height, it walks
// both chains back block-by-block until a common ancestor is found,
// producing the ChainReorg the caller should submit.
package reorgformulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gateway-validator/ingestion-core/internal/cache"
	"github.com/gateway-validator/ingestion-core/internal/metrics"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/external"
	"github.com/gateway-validator/ingestion-core/pkg/reason"
)

// Formulator walks the local memoize cache and, failing that, chain RPC to
// discover the common ancestor of two same-height chain heads.
type Formulator struct {
	cache *cache.Memoize
	rpc   external.ChainRPC
}

// New constructs a Formulator over the given memoize cache and chain RPC.
func New(memoize *cache.Memoize, rpc external.ChainRPC) *Formulator {
	return &Formulator{cache: memoize, rpc: rpc}
}

// Formulate runs the algorithm of §4.2. lastBlock is the current trusted
// head, trueBlock the newly observed head at the same height, firstBlock
// the chain's genesis (the walk refuses to cross it).
func (f *Formulator) Formulate(
	ctx context.Context,
	id chain.ID,
	starport chain.Address,
	firstBlock, lastBlock, trueBlock chain.Block,
) (chain.Reorg, error) {
	start := time.Now()

	rev := []chain.Block{lastBlock}
	fwd := []chain.Block{trueBlock}

	// Bounds the walk per testable property 7: it must terminate in at
	// most last_block.number - first_block.number + 1 iterations.
	maxIterations := int(lastBlock.Number-firstBlock.Number) + 1
	iterations := 0

	for {
		iterations++
		if iterations > maxIterations {
			return chain.Reorg{}, reason.New(reason.Unreachable,
				"reorg walk exceeded bound of %d iterations", maxIterations)
		}

		revTop := rev[len(rev)-1]
		fwdTop := fwd[len(fwd)-1]

		if revTop.Number != fwdTop.Number {
			return chain.Reorg{}, reason.New(reason.BlockMismatch,
				"reverse cursor at %d, forward cursor at %d", revTop.Number, fwdTop.Number)
		}

		revNext, err := f.recallBlock(ctx, id, starport, revTop.ParentHash)
		if err != nil {
			metrics.ReorgFormulationObserve(id.String(), time.Since(start), iterations)
			return chain.Reorg{}, err
		}

		fwdNext, err := f.rpc.BlockByNumber(ctx, id, fwdTop.Number-1, starport)
		if err != nil {
			metrics.ReorgFormulationObserve(id.String(), time.Since(start), iterations)
			return chain.Reorg{}, reason.New(reason.MissingBlock, "fetch forward block %d: %v", fwdTop.Number-1, err)
		}

		rev = append(rev, revNext)
		fwd = append(fwd, fwdNext)

		if revNext.ParentHash == fwdNext.ParentHash {
			break
		}
		if revNext.Number == firstBlock.Number {
			break
		}
	}

	metrics.ReorgFormulationObserve(id.String(), time.Since(start), iterations)

	forward := make([]chain.Block, len(fwd))
	for i, b := range fwd {
		forward[len(fwd)-1-i] = b
	}

	return chain.Reorg{
		ChainID:       id,
		FromHash:      lastBlock.BlockHash,
		ToHash:        trueBlock.BlockHash,
		ReverseBlocks: rev,
		ForwardBlocks: forward,
	}, nil
}

// recallBlock looks up hash in the local memoize cache first, falling back
// to chain RPC and memoizing the result on success (§4.2: "local cache; RPC
// fallback").
func (f *Formulator) recallBlock(
	ctx context.Context, id chain.ID, starport chain.Address, hash chain.Hash,
) (chain.Block, error) {
	block, err := f.cache.Get(id, hash)
	if err == nil {
		return block, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return chain.Block{}, fmt.Errorf("memoize cache lookup: %w", err)
	}

	block, err = f.rpc.BlockByHash(ctx, id, hash, starport)
	if err != nil {
		return chain.Block{}, reason.New(reason.MissingBlock, "hash %s: %v", hash.Hex(), err)
	}

	if err := f.cache.Put(block); err != nil {
		return chain.Block{}, fmt.Errorf("memoize recalled block: %w", err)
	}

	return block, nil
}
