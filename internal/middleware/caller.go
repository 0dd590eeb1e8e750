package middleware

import (
	"context"
	"errors"
	"net/http"

	"ticket-ledger/internal/auth"
	"ticket-ledger/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// TokenVerifier resolves a bearer token to the caller's address
type TokenVerifier interface {
	Verify(token string) (common.Address, error)
}

// CallerMiddleware authenticates ledger callers from bearer tokens
type CallerMiddleware struct {
	tokens TokenVerifier
	logger zerolog.Logger
}

// NewCallerMiddleware creates a new caller middleware
func NewCallerMiddleware(tokens TokenVerifier, logger zerolog.Logger) *CallerMiddleware {
	return &CallerMiddleware{tokens: tokens, logger: logger}
}

// LoadCaller resolves the caller when an Authorization header is present.
// Requests without one continue anonymously; a bad token is rejected.
func (m *CallerMiddleware) LoadCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := auth.BearerToken(header)
		if err == nil {
			var caller common.Address
			caller, err = m.tokens.Verify(token)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(SetCallerContext(r.Context(), caller)))
				return
			}
		}

		m.logger.Debug().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("rejected bearer token")
		message := "Invalid bearer token"
		if errors.Is(err, auth.ErrTokenExpired) {
			message = "Bearer token expired"
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="ticket-ledger"`)
		WriteJSONError(w, r, http.StatusUnauthorized, "Unauthenticated", message)
	})
}

// RequireCaller rejects requests that LoadCaller did not authenticate
func (m *CallerMiddleware) RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetCallerFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="ticket-ledger"`)
			WriteJSONError(w, r, http.StatusUnauthorized, "Unauthenticated", "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetCallerFromContext retrieves the authenticated caller from context
func GetCallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey).(common.Address)
	if !ok || caller == models.ZeroAddress {
		return models.ZeroAddress, false
	}
	return caller, true
}

// SetCallerContext sets the caller in context and on the access log line
func SetCallerContext(ctx context.Context, caller common.Address) context.Context {
	if entry, ok := ctx.Value(requestLogKey).(*requestLog); ok {
		entry.caller = caller
	}
	return context.WithValue(ctx, callerKey, caller)
}
