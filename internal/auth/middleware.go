package auth

import (
	"context"
	"net/http"

	"licensehub/internal/apperr"
)

// Authenticator resolves a credential to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) (*Identity, error)
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Authenticate rejects requests without a resolvable credential and stores
// the Identity in the request context otherwise.
func Authenticate(a Authenticator, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, err := ExtractCredential(r)
			if err != nil {
				fail(w, r, err)
				return
			}
			id, err := a.Authenticate(r.Context(), cred)
			if err != nil {
				fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func RequireAdmin(fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := FromContext(r.Context())
			if !id.IsAdmin() {
				fail(w, r, apperr.ErrForbidden.WithMessage("administrator access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
