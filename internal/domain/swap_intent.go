package domain

import "fmt"

// DefaultSlippageBps is applied when a SwapIntent carries no slippage.
const DefaultSlippageBps = 50

// MaxSlippageBps bounds slippage to 100%.
const MaxSlippageBps = 10000

// SwapIntent is what a user asks to trade: sell SellQuantity base units of
// SellMint for BuyMint.
type SwapIntent struct {
	BuyMint      string // base58 mint address
	SellMint     string // base58 mint address
	SellQuantity uint64 // integer base units of SellMint
	SlippageBps  uint16 // 0 means DefaultSlippageBps
}

// EffectiveSlippageBps returns the slippage to apply for the intent.
func (i SwapIntent) EffectiveSlippageBps() uint16 {
	if i.SlippageBps == 0 {
		return DefaultSlippageBps
	}
	return i.SlippageBps
}

// Validate checks the intent for obvious errors.
// Mint address syntax is checked later by the token account resolver.
func (i SwapIntent) Validate() error {
	if i.BuyMint == "" || i.SellMint == "" {
		return fmt.Errorf("%w: missing mint", ErrInvalidIntent)
	}
	if i.SellQuantity == 0 {
		return fmt.Errorf("%w: sell quantity must be positive", ErrInvalidIntent)
	}
	if i.BuyMint == i.SellMint {
		return fmt.Errorf("%w: buy and sell token are identical", ErrInvalidIntent)
	}
	if i.SlippageBps > MaxSlippageBps {
		return fmt.Errorf("%w: slippage %d bps exceeds %d", ErrInvalidIntent, i.SlippageBps, MaxSlippageBps)
	}
	return nil
}

// ActiveSwapRequest is a SwapIntent bound to an owner and the owner's
// associated token accounts. It is never mutated; a parameter change
// produces a new request and a new subscription.
type ActiveSwapRequest struct {
	Intent           SwapIntent
	Owner            string // base58 wallet public key
	BuyTokenAccount  string // owner's associated token account for BuyMint
	SellTokenAccount string // owner's associated token account for SellMint
}
