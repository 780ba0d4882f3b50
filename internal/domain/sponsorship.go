package domain

// SponsorshipRecord is a ledger entry for every fresh fee payer co-signature.
// Corresponds to sponsorships table in PostgreSQL.
type SponsorshipRecord struct {
	ID                string // uuid
	Fingerprint       string // idempotency key, unique
	Owner             string // base58 wallet public key
	FeePayer          string // base58 fee payer public key
	FeePayerSignature string // base58
	HasFee            bool
	FeeAmount         uint64 // fee in base units of FeeMint
	FeeMint           string
	RecentBlockhash   string
	CreatedAt         int64 // Unix timestamp in milliseconds
}

// QuoteEvent records the outcome of one artifact computation.
// Corresponds to quote_events table in ClickHouse.
type QuoteEvent struct {
	Owner        string
	BuyMint      string
	SellMint     string
	SellQuantity uint64
	AmountOut    uint64
	HasFee       bool
	Attempts     int
	LatencyMs    int64
	ErrorCode    string // empty on success
	Timestamp    int64  // Unix timestamp in milliseconds
}
