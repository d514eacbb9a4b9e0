package auth

import (
	"net/http"
	"strings"

	"licensehub/internal/apperr"
)

const (
	HeaderAPIKey   = "X-API-KEY"
	HeaderUserKey  = "X-USER-KEY"
	HeaderDeviceID = "X-DEVICE-ID"
)

// Credential is either a BearerToken or a HybridKeySet.
type Credential interface {
	credential()
}

type BearerToken struct {
	Token    string
	DeviceID string
}

// HybridKeySet authenticates with the user id and that user's client secret.
type HybridKeySet struct {
	APIKey   string
	UserKey  string
	DeviceID string
}

func (BearerToken) credential()  {}
func (HybridKeySet) credential() {}

// ExtractCredential picks the scheme from the request headers. A bearer
// token wins when both are present.
func ExtractCredential(r *http.Request) (Credential, error) {
	device := strings.TrimSpace(r.Header.Get(HeaderDeviceID))

	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			return nil, apperr.ErrMissingCredentials.WithMessage("authorization header must use the Bearer scheme")
		}
		tok := strings.TrimSpace(h[len(prefix):])
		if tok == "" {
			return nil, apperr.ErrMissingCredentials
		}
		return BearerToken{Token: tok, DeviceID: device}, nil
	}

	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	userKey := strings.TrimSpace(r.Header.Get(HeaderUserKey))
	if apiKey != "" && userKey != "" {
		return HybridKeySet{APIKey: apiKey, UserKey: userKey, DeviceID: device}, nil
	}
	return nil, apperr.ErrMissingCredentials
}
