package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"swap-relay/internal/auth"
	"swap-relay/internal/domain"
)

type ctxKey int

const ownerKey ctxKey = iota

// accessTokenParam carries the token on websocket upgrades, where browsers
// cannot set an Authorization header.
const accessTokenParam = "access_token"

// authenticate resolves the bearer token to an owner and stores it in the
// request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get(accessTokenParam)
		}
		owner, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			s.logger.Debug("authentication failed", zap.Error(err))
			s.writeError(w, r, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withOwner(r.Context(), owner)))
	})
}

func withOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext returns the authenticated owner of a request.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok && owner != ""
}
