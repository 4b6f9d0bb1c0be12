package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stockdash/backend/internal/auth"
	"github.com/stockdash/backend/internal/models"
	"github.com/stockdash/backend/internal/store"
)

// UserReader is the slice of the credential store the gate needs: a live
// read of the subject's verification state.
type UserReader interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// RequireVerified guards protected routes. It is a two-stage check: first
// the token's signature and expiry, then a live read of the user's
// verification flag, because verification state can change after a token was
// issued. On success the authenticated user id is placed in the request
// context for downstream handlers.
func RequireVerified(tokens *auth.TokenIssuer, users UserReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				deny(w, http.StatusUnauthorized, "Unauthorized: no token provided")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				deny(w, http.StatusUnauthorized, "Unauthorized: invalid token format")
				return
			}

			userID, _, err := tokens.Verify(token)
			if err != nil {
				deny(w, http.StatusUnauthorized, "Unauthorized: token invalid or expired")
				return
			}

			user, err := users.GetUserByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					deny(w, http.StatusForbidden, "Forbidden: account not verified")
					return
				}
				deny(w, http.StatusInternalServerError, "Internal error")
				return
			}
			if !user.IsVerified {
				deny(w, http.StatusForbidden, "Forbidden: account not verified")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.Response{Success: false, Message: message})
}
