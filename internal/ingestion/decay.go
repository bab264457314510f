package ingestion

// DecayFunc computes the risk-adjusted USD value of an event worth value
// USD at admission time, Δ blocks after it queued. It must be monotonically
// non-increasing in Δ, with DecayFunc(v, 0) == v and DecayFunc(v, d) == 0
// for any d >= maxEventBlocks (§4.5).
type DecayFunc func(value, delta uint64) uint64

// LinearDecay returns a DecayFunc that decays value linearly to zero over
// [0, maxEventBlocks), the simplest curve satisfying the boundary
// conditions of §4.5. The decay curve itself is a parameter of ingress_queue;
// callers needing a different shape supply their own DecayFunc.
func LinearDecay(maxEventBlocks uint64) DecayFunc {
	return func(value, delta uint64) uint64 {
		if maxEventBlocks == 0 || delta >= maxEventBlocks {
			return 0
		}
		remaining := maxEventBlocks - delta
		return value * remaining / maxEventBlocks
	}
}
