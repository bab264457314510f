// Package ingestion implements §4.5 ingress_queue: the per-round admission
// of matured, risk-weighted events from the durable ingestion queue onto
// the ledger.
package ingestion

import (
	"context"
	"fmt"

	"github.com/gateway-validator/ingestion-core/internal/applydriver"
	"github.com/gateway-validator/ingestion-core/internal/logger"
	"github.com/gateway-validator/ingestion-core/internal/metrics"
	"github.com/gateway-validator/ingestion-core/internal/store"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/config"
	"github.com/gateway-validator/ingestion-core/pkg/external"
)

// Queue runs ingress_queue rounds against the durable queue of one chain.
type Queue struct {
	store  *store.Store
	oracle external.PriceOracle
	driver *applydriver.Driver
	cfg    config.IngressConfig
	decay  DecayFunc
	log    *logger.Logger
}

// New constructs a Queue. decay may be nil, in which case LinearDecay(cfg.MaxEventBlocks)
// is used.
func New(
	st *store.Store,
	oracle external.PriceOracle,
	driver *applydriver.Driver,
	cfg config.IngressConfig,
	decay DecayFunc,
	log *logger.Logger,
) *Queue {
	if decay == nil {
		decay = LinearDecay(cfg.MaxEventBlocks)
	}
	return &Queue{
		store:  st,
		oracle: oracle,
		driver: driver,
		cfg:    cfg,
		decay:  decay,
		log:    log.WithComponent("ingress-queue"),
	}
}

// Run executes one ingress_queue round for id, now that lastBlockNumber has
// been finalized (§4.5). It iterates the queue in insertion order, admitting
// events against a per-round USD quota and leaving the rest retained for a
// future round.
func (q *Queue) Run(ctx context.Context, id chain.ID, lastBlockNumber uint64) error {
	queued, err := q.store.ListQueuedEvents(ctx, id)
	if err != nil {
		return fmt.Errorf("list queued events: %w", err)
	}

	available := q.cfg.QuotaUSD
	var drained []int64

	for _, qe := range queued {
		delta := saturatingSub(lastBlockNumber, qe.Event.BlockNumber)

		if delta < q.cfg.MinEventBlocks {
			continue
		}

		var value uint64
		if delta > q.cfg.MaxEventBlocks {
			value = 0
		} else {
			v, err := q.riskAdjustedValue(ctx, qe.Event, delta)
			if err != nil {
				q.log.Debugw("retaining event after oracle error", "chain", id, "error", err)
				continue
			}
			value = v
		}

		if value > available {
			continue
		}
		available -= value

		outcome := "processed"
		if err := q.driver.Apply(ctx, qe.Event, value); err != nil {
			outcome = "failed"
		}

		metrics.EventIngressedInc(id.String(), kindLabel(qe.Event.Kind), outcome)
		metrics.IngressedUSDAdd(id.String(), value)
		drained = append(drained, qe.Position)
	}

	if err := q.store.RemoveQueuedEvents(ctx, id, drained); err != nil {
		return fmt.Errorf("drain ingress queue: %w", err)
	}

	remaining, err := q.store.ListQueuedEvents(ctx, id)
	if err != nil {
		return fmt.Errorf("recount queue depth: %w", err)
	}
	metrics.QueueDepthSet(id.String(), len(remaining))

	return nil
}

// riskAdjustedValue computes value per §4.5's per-kind rule, decayed by Δ.
func (q *Queue) riskAdjustedValue(ctx context.Context, event chain.BlockEvent, delta uint64) (uint64, error) {
	switch event.Kind {
	case chain.Lock:
		if event.Lock == nil {
			return 0, nil
		}
		usd, err := q.oracle.USDValue(ctx, event.Lock.Asset, event.Lock.Amount)
		if err != nil {
			return 0, fmt.Errorf("price oracle: %w", err)
		}
		return q.decay(usd, delta), nil

	case chain.LockCash:
		if event.LockCash == nil {
			return 0, nil
		}
		usd, err := q.oracle.CashUSDValue(ctx, event.LockCash.Principal)
		if err != nil {
			return 0, fmt.Errorf("price oracle: %w", err)
		}
		return q.decay(usd, delta), nil

	case chain.ExecuteProposal:
		return q.decay(q.cfg.LargeUSD, delta), nil

	default:
		return 0, nil
	}
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func kindLabel(k chain.EventKind) string {
	switch k {
	case chain.Lock:
		return "lock"
	case chain.LockCash:
		return "lock_cash"
	case chain.ExecuteProposal:
		return "execute_proposal"
	case chain.Ignored:
		return "ignored"
	default:
		return "reserved"
	}
}
