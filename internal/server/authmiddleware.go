package server

import (
	"context"
	"net/http"

	"github.com/tjfontaine/feedfilter/internal/auth"
)

type keyContextKey struct{}

// AuthMiddleware rejects requests without a valid room key and stores the
// matched key in the request context.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				AddError(r.Context(), err)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			key, err := authenticator.Validate(apiKey)
			if err != nil {
				AddError(r.Context(), err)
				writeError(w, http.StatusUnauthorized, "invalid room key")
				return
			}
			AddLogField(r.Context(), "key", key.Description)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keyContextKey{}, key)))
		})
	}
}

// GetKey returns the room key that authenticated the request.
func GetKey(ctx context.Context) (auth.Key, bool) {
	k, ok := ctx.Value(keyContextKey{}).(auth.Key)
	return k, ok
}
