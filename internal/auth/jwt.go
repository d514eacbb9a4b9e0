package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"licensehub/internal/apperr"
)

// ScopeAll is the only scope handed out.
const ScopeAll = "all"

// Claims is the payload carried by access and refresh tokens. Scope is
// empty on refresh tokens.
type Claims struct {
	Subject   string
	ClientID  string
	Scope     string
	ID        string
	ExpiresAt time.Time
}

// Signer signs and verifies HS256 tokens with one secret. Access and
// refresh tokens use separate Signers.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Configured() bool {
	return s != nil && len(s.secret) > 0
}

// Sign mints a token for c valid for ttl from now. c.ID and c.ExpiresAt are
// filled in on the returned copy.
func (s *Signer) Sign(c Claims, ttl time.Duration, now time.Time) (string, Claims, error) {
	if !s.Configured() {
		return "", Claims{}, apperr.ErrMissingSigningSecret
	}
	c.ID = uuid.NewString()
	c.ExpiresAt = now.Add(ttl)
	mc := jwt.MapClaims{
		"sub":       c.Subject,
		"client_id": c.ClientID,
		"jti":       c.ID,
		"iat":       now.Unix(),
		"exp":       c.ExpiresAt.Unix(),
	}
	if c.Scope != "" {
		mc["scope"] = c.Scope
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mc)
	str, err := token.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return str, c, nil
}

func (s *Signer) Verify(tokenStr string) (Claims, error) {
	if !s.Configured() {
		return Claims{}, apperr.ErrMissingSigningSecret
	}
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return Claims{}, errors.New("invalid token")
	}
	mapc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("invalid claims")
	}
	var c Claims
	c.Subject, _ = mapc["sub"].(string)
	c.ClientID, _ = mapc["client_id"].(string)
	c.Scope, _ = mapc["scope"].(string)
	c.ID, _ = mapc["jti"].(string)
	if exp, err := mapc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}
