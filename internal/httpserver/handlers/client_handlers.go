package handlers

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"licensehub/internal/apperr"
	"licensehub/internal/session"
	"licensehub/internal/token"
)

// tokenReq accepts both form-encoded and JSON bodies.
type tokenReq struct {
	GrantType    string `json:"grant_type" form:"grant_type" validate:"required"`
	ClientID     string `json:"client_id" form:"client_id"`
	ClientSecret string `json:"client_secret" form:"client_secret"`
	Username     string `json:"username" form:"username"`
	Password     string `json:"password" form:"password"`
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

type tokenResp struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func newTokenResp(p *token.Pair, now int64) tokenResp {
	return tokenResp{
		AccessToken:  p.AccessToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.AccessTokenExpiresAt.Unix() - now,
		RefreshToken: p.RefreshToken,
	}
}

// OAuthToken serves the password and refresh_token grants. Client
// credentials come from HTTP basic auth or the body.
func OAuthToken(c *session.Controller, tokens *token.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenReq
		if err := render.Decode(r, &req); err != nil {
			writeError(w, r, lg, apperr.Validation("invalid token request body"))
			return
		}
		if err := validate.Struct(&req); err != nil {
			writeError(w, r, lg, formatValidationError(err))
			return
		}
		if id, secret, ok := r.BasicAuth(); ok {
			req.ClientID, req.ClientSecret = id, secret
		}

		var (
			pair *token.Pair
			err  error
		)
		switch req.GrantType {
		case session.GrantTypePassword:
			pair, err = c.PasswordGrant(r.Context(), req.ClientID, req.ClientSecret, req.Username, req.Password)
		case session.GrantTypeRefreshToken:
			pair, err = c.RefreshGrant(r.Context(), req.ClientID, req.ClientSecret, req.RefreshToken)
		default:
			err = apperr.ErrUnsupportedGrant.WithMessage("unsupported grant_type %q", req.GrantType)
		}
		if err != nil {
			writeError(w, r, lg, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		respondJSON(w, r, http.StatusOK, newTokenResp(pair, tokens.Now().Unix()))
	}
}
