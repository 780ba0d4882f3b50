package domain

// SwapArtifact is one computed, ready-to-sign swap for an ActiveSwapRequest.
// Every recomputation produces a new artifact.
type SwapArtifact struct {
	Request           ActiveSwapRequest
	TransactionBase64 string // serialized transaction, all signature slots zeroed
	HasFee            bool   // transaction carries a fee transfer instruction
	FeeAmount         uint64 // fee in SellMint base units, 0 when HasFee is false
	AmountOut         uint64 // quoted output in BuyMint base units
	MinAmountOut      uint64 // AmountOut after slippage
	ComputedAt        int64  // Unix timestamp in milliseconds
}

// SignedSwapArtifact is a user-signed artifact co-signed by the fee payer.
// It is terminal and never mutated.
type SignedSwapArtifact struct {
	Artifact          SwapArtifact // artifact as issued; its transaction is unsigned
	Owner             string
	TransactionBase64 string // transaction with user and fee payer signatures
	FeePayerSignature string // base58
	Fingerprint       string // idempotency key the signature was recorded under
	Cached            bool   // served from the idempotency cache
	SignedAt          int64  // Unix timestamp in milliseconds
}

// SwapEvent is one item on a subscription stream: either an artifact or the
// error of a failed recomputation.
type SwapEvent struct {
	Generation uint64 // subscription generation that produced the event
	Artifact   *SwapArtifact
	Err        error
}
