// Package applydriver wraps every apply_chain_event/unapply_chain_event
// invocation made against the ledger (§4): it emits the named
// ProcessedChainBlockEvent/FailedProcessingChainBlockEvent log lines and
// persists a matching entry to the queryable ingression outcome log, so
// blocktally/reorgtally/ingestion never touch external.Ledger directly.
package applydriver

import (
	"context"

	"github.com/gateway-validator/ingestion-core/internal/logger"
	"github.com/gateway-validator/ingestion-core/internal/store"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
	"github.com/gateway-validator/ingestion-core/pkg/external"
)

const (
	directionApply   = "apply"
	directionUnapply = "unapply"

	outcomeProcessed = "processed"
	outcomeFailed    = "failed"
)

// Driver is the sole caller of external.Ledger in this core.
type Driver struct {
	ledger external.Ledger
	store  *store.Store
	log    *logger.Logger
}

// New constructs a Driver around ledger, recording outcomes to st.
func New(ledger external.Ledger, st *store.Store, log *logger.Logger) *Driver {
	return &Driver{
		ledger: ledger,
		store:  st,
		log:    log.WithComponent("apply-driver"),
	}
}

// Apply invokes ledger.Apply and records the outcome. usdValue is the
// risk-adjusted value ingress_queue admitted the event for; it is carried
// through only for logging/the outcome log, never re-derived here. A
// non-nil return is the caller's to handle per §7 (aborts only this one
// event inside ingress_queue).
func (d *Driver) Apply(ctx context.Context, event chain.BlockEvent, usdValue uint64) error {
	err := d.ledger.Apply(ctx, event)
	d.record(ctx, directionApply, event, usdValue, err)
	return err
}

// Unapply invokes ledger.Unapply and records the outcome. A non-nil return
// is fatal to the whole reorg message per §7; the caller aborts.
func (d *Driver) Unapply(ctx context.Context, event chain.BlockEvent) error {
	err := d.ledger.Unapply(ctx, event)
	d.record(ctx, directionUnapply, event, 0, err)
	return err
}

func (d *Driver) record(ctx context.Context, direction string, event chain.BlockEvent, usdValue uint64, applyErr error) {
	outcome := outcomeProcessed
	errDetail := ""
	if applyErr != nil {
		outcome = outcomeFailed
		errDetail = applyErr.Error()
	}

	fields := []interface{}{
		"chain", event.ChainID, "direction", direction,
		"kind", event.Kind, "block", event.BlockNumber,
	}
	if outcome == outcomeFailed {
		d.log.Warnw("FailedProcessingChainBlockEvent", append(fields, "error", applyErr)...)
	} else {
		d.log.Infow("ProcessedChainBlockEvent", append(fields, "usd", usdValue)...)
	}

	rec := store.IngressionOutcome{
		ChainID:     event.ChainID,
		BlockNumber: event.BlockNumber,
		Kind:        event.Kind,
		Direction:   direction,
		Outcome:     outcome,
		USDValue:    usdValue,
		Error:       errDetail,
	}
	if err := d.store.RecordIngressionOutcome(ctx, rec); err != nil {
		d.log.Warnw("failed to persist ingression outcome", "chain", event.ChainID, "error", err)
	}
}
