package quote

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-relay/internal/domain"
	"swap-relay/internal/solana"
)

func usdcFeePolicy(t *testing.T) *FeePolicy {
	t.Helper()
	p, err := NewFeePolicy(FeeConfig{
		Recipient:    "2immgwYNHBbyVQKVGCEkgWpi53bLwWNRMB5G2nbgYV17",
		Mints:        []string{solana.USDCMainnetMint.String(), solana.USDCDevnetMint.String()},
		FeeBps:       100,
		MinFeeUSD:    "0.25",
		MinTradeUSD:  "1",
		MintDecimals: 6,
	})
	require.NoError(t, err)
	return p
}

func TestNewFeePolicy_ConvertsUSD(t *testing.T) {
	p := usdcFeePolicy(t)

	assert.Equal(t, uint64(250_000), p.MinFee)
	assert.Equal(t, uint64(1_000_000), p.MinTradeSize)
	assert.Equal(t, uint64(100), p.FeeBps)
	assert.True(t, p.AppliesTo(solana.USDCDevnetMint.String()))
	assert.False(t, p.AppliesTo(solana.WrappedSOLMint.String()))
}

func TestNewFeePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  FeeConfig
	}{
		{"bps above 100%", FeeConfig{FeeBps: 10001}},
		{"bad mint", FeeConfig{Mints: []string{"not-a-key"}}},
		{"bad recipient", FeeConfig{Mints: []string{solana.USDCMainnetMint.String()}, Recipient: "x"}},
		{"negative min fee", FeeConfig{
			Mints:     []string{solana.USDCMainnetMint.String()},
			Recipient: "2immgwYNHBbyVQKVGCEkgWpi53bLwWNRMB5G2nbgYV17",
			MinFeeUSD: "-1",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFeePolicy(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestFeePolicy_Compute(t *testing.T) {
	p := usdcFeePolicy(t)
	usdc := solana.USDCMainnetMint.String()

	tests := []struct {
		name      string
		mint      string
		qty       uint64
		wantFee   uint64
		wantRoute uint64
		wantErr   bool
	}{
		{"non fee mint passes through", solana.WrappedSOLMint.String(), 5, 0, 5, false},
		{"min fee floor", usdc, 10_000_000, 250_000, 9_750_000, false},
		{"bps fee above floor", usdc, 100_000_000, 1_000_000, 99_000_000, false},
		{"below min trade size", usdc, 999_999, 0, 0, true},
		{"exactly min trade size", usdc, 1_000_000, 250_000, 750_000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := p.Compute(tt.mint, tt.qty)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidIntent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFee, fee.Amount)
			assert.Equal(t, tt.wantRoute, fee.RouteAmount)
			assert.Equal(t, tt.wantFee > 0, fee.Applies())
		})
	}
}

func TestFeePolicy_FeeConsumesQuantity(t *testing.T) {
	p := &FeePolicy{
		Mints:  map[string]struct{}{"m": {}},
		MinFee: 100,
	}
	_, err := p.Compute("m", 100)
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
}

func TestFeePolicy_Nil(t *testing.T) {
	var p *FeePolicy
	fee, err := p.Compute("any", 42)
	require.NoError(t, err)
	assert.False(t, fee.Applies())
	assert.Equal(t, uint64(42), fee.RouteAmount)
}

func TestMinAmountOut(t *testing.T) {
	assert.Equal(t, uint64(995), MinAmountOut(1000, 50))
	assert.Equal(t, uint64(1000), MinAmountOut(1000, 0))
	assert.Equal(t, uint64(0), MinAmountOut(1000, 10000))
	// 999 * 9950 / 10000 = 994.005, floored
	assert.Equal(t, uint64(994), MinAmountOut(999, 50))
	// No overflow near the top of the range
	assert.Equal(t, uint64(18354510353341003856), MinAmountOut(math.MaxUint64, 50))
}
