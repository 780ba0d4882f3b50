package domain

import "errors"

// Errors surfaced by the quote registry and sponsorship relay.
var (
	// ErrInvalidIdentity is returned for malformed owner or mint addresses.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidIntent is returned for unusable swap parameters.
	ErrInvalidIntent = errors.New("invalid swap intent")

	// ErrQuoteUnavailable is returned once the quote provider kept failing
	// after all retry attempts.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrInstructionMismatch is returned when a transaction submitted for
	// sponsorship is not the one the service would have built.
	ErrInstructionMismatch = errors.New("transaction instruction mismatch")

	// ErrSponsorshipUnavailable is returned when co-signing kept failing
	// after all retry attempts.
	ErrSponsorshipUnavailable = errors.New("sponsorship unavailable")

	// ErrUnauthorized is returned when a caller token cannot be verified.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSignerUnavailable is returned by signers for transient failures.
	ErrSignerUnavailable = errors.New("signer unavailable")

	// ErrNoSubscription is returned when an owner has no live subscription.
	ErrNoSubscription = errors.New("no active subscription")
)

// Error codes exposed on the wire.
const (
	CodeInvalidIdentity        = "INVALID_IDENTITY"
	CodeInvalidIntent          = "INVALID_INTENT"
	CodeQuoteUnavailable       = "QUOTE_UNAVAILABLE"
	CodeInstructionMismatch    = "INSTRUCTION_MISMATCH"
	CodeSponsorshipUnavailable = "SPONSORSHIP_UNAVAILABLE"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeNoSubscription         = "NO_SUBSCRIPTION"
	CodeInternal               = "INTERNAL"
)

// ErrorCode maps err to its wire code. Unknown errors map to CodeInternal.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidIdentity):
		return CodeInvalidIdentity
	case errors.Is(err, ErrInvalidIntent):
		return CodeInvalidIntent
	case errors.Is(err, ErrQuoteUnavailable):
		return CodeQuoteUnavailable
	case errors.Is(err, ErrInstructionMismatch):
		return CodeInstructionMismatch
	case errors.Is(err, ErrSponsorshipUnavailable), errors.Is(err, ErrSignerUnavailable):
		return CodeSponsorshipUnavailable
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrNoSubscription):
		return CodeNoSubscription
	default:
		return CodeInternal
	}
}

// IsValidation reports whether err is a validation failure that must never
// be retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidIdentity) ||
		errors.Is(err, ErrInvalidIntent) ||
		errors.Is(err, ErrInstructionMismatch) ||
		errors.Is(err, ErrUnauthorized)
}
