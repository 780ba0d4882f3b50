// Package quote computes ready-to-sign swap artifacts from a route provider.
package quote

import (
	"context"

	"swap-relay/internal/domain"
)

// Provider builds an unsigned swap transaction for a request.
// Errors wrapping a domain validation error are final; any other error is
// treated as transient.
type Provider interface {
	GetRoute(ctx context.Context, req domain.ActiveSwapRequest) (*Route, error)
}

// Route is a provider's answer for one request.
type Route struct {
	TransactionBase64 string // unsigned, fee payer first
	FeeEmbedded       bool
	FeeAmount         uint64
	AmountOut         uint64
	MinAmountOut      uint64
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req domain.ActiveSwapRequest) (*Route, error)

// GetRoute calls f.
func (f ProviderFunc) GetRoute(ctx context.Context, req domain.ActiveSwapRequest) (*Route, error) {
	return f(ctx, req)
}
