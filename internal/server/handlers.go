package server

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"swap-relay/internal/relay"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	if err := s.subs.RefreshNow(r.Context(), owner); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	s.subs.Unsubscribe(owner)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSponsor(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	var req TransactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Transaction == "" {
		s.writeError(w, r, fmt.Errorf("%w: transaction is required", errBadRequest))
		return
	}

	signed, err := s.relay.Sponsor(r.Context(), relay.SponsorRequest{
		Owner:             owner,
		TransactionBase64: req.Transaction,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SponsorResponse{
		Artifact:          newArtifactPayload(&signed.Artifact),
		Transaction:       signed.TransactionBase64,
		FeePayerSignature: signed.FeePayerSignature,
		Fingerprint:       signed.Fingerprint,
		Cached:            signed.Cached,
		SignedAt:          signed.SignedAt,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	var req TransactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Transaction == "" {
		s.writeError(w, r, fmt.Errorf("%w: transaction is required", errBadRequest))
		return
	}

	res, err := s.submitter.Submit(r.Context(), owner, req.Transaction)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("transaction submitted",
		zap.String("owner", owner),
		zap.String("signature", res.Signature),
		zap.Int64("slot", res.Slot),
	)
	writeJSON(w, http.StatusOK, SubmitResponse{Signature: res.Signature, Slot: res.Slot})
}

func (s *Server) handleSponsorships(w http.ResponseWriter, r *http.Request) {
	owner, _ := OwnerFromContext(r.Context())
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.ledger.GetByOwner(r.Context(), owner, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]SponsorshipPayload, 0, len(records))
	for _, rec := range records {
		out = append(out, newSponsorshipPayload(rec))
	}
	writeJSON(w, http.StatusOK, out)
}
