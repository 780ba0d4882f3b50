package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"swap-relay/internal/domain"
	"swap-relay/internal/relay"
)

// Wire codes for failures that only exist at the HTTP layer.
const (
	CodeBadRequest           = "BAD_REQUEST"
	CodeRateLimited          = "RATE_LIMITED"
	CodeSimulationFailed     = "SIMULATION_FAILED"
	CodeTransactionFailed    = "TRANSACTION_FAILED"
	CodeNotConfirmed         = "NOT_CONFIRMED"
	CodeIncompleteSignatures = "INCOMPLETE_SIGNATURES"
	CodeTimeout              = "TIMEOUT"
)

var errBadRequest = errors.New("bad request")

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable code and a human readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps err to an HTTP status and wire code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, relay.ErrIncompleteSignatures):
		return http.StatusBadRequest, CodeIncompleteSignatures
	case errors.Is(err, relay.ErrSimulationFailed):
		return http.StatusUnprocessableEntity, CodeSimulationFailed
	case errors.Is(err, relay.ErrTransactionFailed):
		return http.StatusUnprocessableEntity, CodeTransactionFailed
	case errors.Is(err, relay.ErrNotConfirmed):
		return http.StatusGatewayTimeout, CodeNotConfirmed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	}

	code := domain.ErrorCode(err)
	switch code {
	case domain.CodeInvalidIdentity, domain.CodeInvalidIntent:
		return http.StatusBadRequest, code
	case domain.CodeInstructionMismatch:
		return http.StatusUnprocessableEntity, code
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized, code
	case domain.CodeNoSubscription:
		return http.StatusNotFound, code
	case domain.CodeQuoteUnavailable, domain.CodeSponsorshipUnavailable:
		return http.StatusServiceUnavailable, code
	default:
		return http.StatusInternalServerError, domain.CodeInternal
	}
}

// errorDetail builds the wire form of err. Internal errors are not echoed.
func errorDetail(err error) (int, ErrorDetail) {
	status, code := classify(err)
	msg := err.Error()
	if code == domain.CodeInternal {
		msg = "internal error"
	}
	return status, ErrorDetail{Code: code, Message: msg}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorDetail(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("route", r.URL.Path),
			zap.String("code", detail.Code),
			zap.Error(err),
		)
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}
