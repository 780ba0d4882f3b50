package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"swap-relay/internal/domain"
)

// maxBodyBytes bounds request bodies. A v0 transaction is at most 1232 bytes.
const maxBodyBytes = 64 << 10

// IntentPayload is the wire form of a SwapIntent. Amounts are strings so
// JavaScript clients keep full uint64 precision.
type IntentPayload struct {
	BuyMint      string `json:"buy_mint"`
	SellMint     string `json:"sell_mint"`
	SellQuantity uint64 `json:"sell_quantity,string"`
	SlippageBps  uint16 `json:"slippage_bps,omitempty"`
}

func (p IntentPayload) intent() domain.SwapIntent {
	return domain.SwapIntent{
		BuyMint:      p.BuyMint,
		SellMint:     p.SellMint,
		SellQuantity: p.SellQuantity,
		SlippageBps:  p.SlippageBps,
	}
}

// ArtifactPayload is the wire form of a SwapArtifact.
type ArtifactPayload struct {
	Owner            string        `json:"owner"`
	Intent           IntentPayload `json:"intent"`
	BuyTokenAccount  string        `json:"buy_token_account"`
	SellTokenAccount string        `json:"sell_token_account"`
	Transaction      string        `json:"transaction"`
	HasFee           bool          `json:"has_fee"`
	FeeAmount        uint64        `json:"fee_amount,string"`
	AmountOut        uint64        `json:"amount_out,string"`
	MinAmountOut     uint64        `json:"min_amount_out,string"`
	ComputedAt       int64         `json:"computed_at"`
}

func newArtifactPayload(a *domain.SwapArtifact) *ArtifactPayload {
	req := a.Request
	return &ArtifactPayload{
		Owner: req.Owner,
		Intent: IntentPayload{
			BuyMint:      req.Intent.BuyMint,
			SellMint:     req.Intent.SellMint,
			SellQuantity: req.Intent.SellQuantity,
			SlippageBps:  req.Intent.EffectiveSlippageBps(),
		},
		BuyTokenAccount:  req.BuyTokenAccount,
		SellTokenAccount: req.SellTokenAccount,
		Transaction:      a.TransactionBase64,
		HasFee:           a.HasFee,
		FeeAmount:        a.FeeAmount,
		AmountOut:        a.AmountOut,
		MinAmountOut:     a.MinAmountOut,
		ComputedAt:       a.ComputedAt,
	}
}

// TransactionRequest carries a base64 encoded transaction.
type TransactionRequest struct {
	Transaction string `json:"transaction"`
}

// SponsorResponse is the wire form of a SignedSwapArtifact. Artifact is
// the quote as issued; Transaction carries both signatures.
type SponsorResponse struct {
	Artifact          *ArtifactPayload `json:"artifact"`
	Transaction       string           `json:"transaction"`
	FeePayerSignature string           `json:"fee_payer_signature"`
	Fingerprint       string           `json:"fingerprint"`
	Cached            bool             `json:"cached"`
	SignedAt          int64            `json:"signed_at"`
}

// SubmitResponse reports a confirmed broadcast.
type SubmitResponse struct {
	Signature string `json:"signature"`
	Slot      int64  `json:"slot"`
}

// SponsorshipPayload is one ledger entry.
type SponsorshipPayload struct {
	ID                string `json:"id"`
	Fingerprint       string `json:"fingerprint"`
	FeePayerSignature string `json:"fee_payer_signature"`
	HasFee            bool   `json:"has_fee"`
	FeeAmount         uint64 `json:"fee_amount,string"`
	FeeMint           string `json:"fee_mint,omitempty"`
	RecentBlockhash   string `json:"recent_blockhash"`
	CreatedAt         int64  `json:"created_at"`
}

func newSponsorshipPayload(r *domain.SponsorshipRecord) SponsorshipPayload {
	return SponsorshipPayload{
		ID:                r.ID,
		Fingerprint:       r.Fingerprint,
		FeePayerSignature: r.FeePayerSignature,
		HasFee:            r.HasFee,
		FeeAmount:         r.FeeAmount,
		FeeMint:           r.FeeMint,
		RecentBlockhash:   r.RecentBlockhash,
		CreatedAt:         r.CreatedAt,
	}
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: trailing data after body", errBadRequest)
	}
	return nil
}
