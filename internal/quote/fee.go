package quote

import (
	"fmt"
	"math/bits"

	"github.com/shopspring/decimal"

	"swap-relay/internal/domain"
	"swap-relay/internal/solana"
)

const bpsDenominator = 10000

// FeeConfig is the operator facing fee configuration. USD amounts are
// decimal strings converted to base units of the fee mints.
type FeeConfig struct {
	Recipient    string   // token account receiving fees
	Mints        []string // sell mints that carry a fee
	FeeBps       uint16
	MinFeeUSD    string // e.g. "0.25"
	MinTradeUSD  string // e.g. "1"
	MintDecimals int32  // decimals of the fee mints, 6 for USDC
}

// FeePolicy decides the fee embedded in a swap. A zero value charges nothing.
type FeePolicy struct {
	Recipient    solana.PublicKey
	Mints        map[string]struct{}
	FeeBps       uint64
	MinFee       uint64 // base units
	MinTradeSize uint64 // base units
}

// Fee is the fee decision for one intent.
type Fee struct {
	Amount      uint64 // 0 when no fee applies
	RouteAmount uint64 // quantity left for the swap route
}

// Applies reports whether a fee transfer is embedded.
func (f Fee) Applies() bool { return f.Amount > 0 }

// NewFeePolicy converts cfg into a FeePolicy.
func NewFeePolicy(cfg FeeConfig) (*FeePolicy, error) {
	p := &FeePolicy{
		Mints:  make(map[string]struct{}, len(cfg.Mints)),
		FeeBps: uint64(cfg.FeeBps),
	}
	if p.FeeBps > bpsDenominator {
		return nil, fmt.Errorf("fee bps %d exceeds %d", p.FeeBps, bpsDenominator)
	}
	for _, m := range cfg.Mints {
		if _, err := solana.ParsePublicKey(m); err != nil {
			return nil, fmt.Errorf("fee mint %q: %w", m, err)
		}
		p.Mints[m] = struct{}{}
	}

	if len(p.Mints) == 0 {
		return p, nil
	}

	recipient, err := solana.ParsePublicKey(cfg.Recipient)
	if err != nil {
		return nil, fmt.Errorf("fee recipient: %w", err)
	}
	p.Recipient = recipient

	if p.MinFee, err = usdToBaseUnits(cfg.MinFeeUSD, cfg.MintDecimals); err != nil {
		return nil, fmt.Errorf("min fee: %w", err)
	}
	if p.MinTradeSize, err = usdToBaseUnits(cfg.MinTradeUSD, cfg.MintDecimals); err != nil {
		return nil, fmt.Errorf("min trade size: %w", err)
	}
	return p, nil
}

// usdToBaseUnits converts a decimal USD amount into integer base units of a
// dollar pegged mint. Sub-unit precision is truncated.
func usdToBaseUnits(s string, decimals int32) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", s)
	}
	units := d.Shift(decimals).Truncate(0)
	if !units.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", s)
	}
	return units.BigInt().Uint64(), nil
}

// Compute returns the fee for selling qty of sellMint. Intents below the
// minimum trade size, or whose fee would consume the whole quantity, are
// rejected with domain.ErrInvalidIntent.
func (p *FeePolicy) Compute(sellMint string, qty uint64) (Fee, error) {
	if !p.AppliesTo(sellMint) {
		return Fee{RouteAmount: qty}, nil
	}

	if qty < p.MinTradeSize {
		return Fee{}, fmt.Errorf("%w: quantity %d below minimum trade size %d",
			domain.ErrInvalidIntent, qty, p.MinTradeSize)
	}

	fee := mulDiv(qty, p.FeeBps, bpsDenominator)
	if fee < p.MinFee {
		fee = p.MinFee
	}
	if fee >= qty {
		return Fee{}, fmt.Errorf("%w: fee %d leaves nothing of quantity %d to swap",
			domain.ErrInvalidIntent, fee, qty)
	}
	return Fee{Amount: fee, RouteAmount: qty - fee}, nil
}

// AppliesTo reports whether sellMint carries a fee.
func (p *FeePolicy) AppliesTo(sellMint string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Mints[sellMint]
	return ok
}

// MinAmountOut applies slippageBps to out: out * (10000 - bps) / 10000.
func MinAmountOut(out uint64, slippageBps uint16) uint64 {
	bps := uint64(slippageBps)
	if bps >= bpsDenominator {
		return 0
	}
	return mulDiv(out, bpsDenominator-bps, bpsDenominator)
}

// mulDiv returns a*b/d without intermediate overflow. b must not exceed d.
func mulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, d)
	return q
}
