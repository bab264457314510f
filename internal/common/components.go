package common

// Component names used for structured logging fields and metric labels
// across the ingestion core.
const (
	ComponentWorker          = "worker"
	ComponentReorgFormulator = "reorg-formulator"
	ComponentBlockTally      = "block-tally"
	ComponentReorgTally      = "reorg-tally"
	ComponentIngestion       = "ingestion-queue"
	ComponentApplyDriver     = "apply-driver"
	ComponentStore           = "store"
)

// AllComponents enumerates every component name.
var AllComponents = map[string]struct{}{
	ComponentWorker:          {},
	ComponentReorgFormulator: {},
	ComponentBlockTally:      {},
	ComponentReorgTally:      {},
	ComponentIngestion:       {},
	ComponentApplyDriver:     {},
	ComponentStore:           {},
}
