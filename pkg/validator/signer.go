package validator

// Signer is the consumed local-validator signing capability (§6): the
// worker observer signs outgoing receive_chain_blocks/receive_chain_reorg
// payloads with it before submitting them. Key material, custody, and the
// signing scheme itself are out of scope for this core; only this boundary
// is defined here, symmetric to Recoverer.
type Signer interface {
	// ID returns the identity this Signer signs as.
	ID() ID
	// Sign signs payload, producing a signature recoverable by Recoverer.
	Sign(payload []byte) ([]byte, error)
}
