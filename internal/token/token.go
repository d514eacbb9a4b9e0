// Package token issues, resolves and revokes persisted access/refresh token
// pairs. A signed token is only honored while its row exists.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"licensehub/internal/apperr"
	"licensehub/internal/auth"
	"licensehub/internal/metrics"
	"licensehub/internal/models"
	"licensehub/internal/store"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Pair is what callers receive after a login or refresh.
type Pair struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	TokenType             string    `json:"token_type"`
	ClientID              string    `json:"client_id"`
	UserID                string    `json:"user_id"`
}

// Resolved is a token row that passed the revocation and expiry checks.
type Resolved struct {
	User      *models.User
	Client    *models.Client
	Grants    []string
	ExpiresAt time.Time
	PairID    string
}

type Service struct {
	st      *store.Store
	access  *auth.Signer
	refresh *auth.Signer
	cfg     Config
	lg      *zap.SugaredLogger
	m       *metrics.Metrics
	now     func() time.Time
}

func NewService(st *store.Store, access, refresh *auth.Signer, cfg Config, lg *zap.SugaredLogger, m *metrics.Metrics) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &Service{st: st, access: access, refresh: refresh, cfg: cfg, lg: lg, m: m, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Now() time.Time {
	return s.now()
}

// IssueTokenPair mints and persists a pair in its own transaction.
func (s *Service) IssueTokenPair(ctx context.Context, user *models.User, client *models.Client) (*Pair, error) {
	var pair *Pair
	err := s.st.Transaction(ctx, func(tx *store.Store) error {
		var err error
		pair, err = s.IssueTokenPairTx(ctx, tx, user, client)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// IssueTokenPairTx mints and persists a pair using tx. The client is
// re-read by its public id so a client deleted since verification is caught.
func (s *Service) IssueTokenPairTx(ctx context.Context, tx *store.Store, user *models.User, client *models.Client) (*Pair, error) {
	if !s.access.Configured() || !s.refresh.Configured() {
		return nil, apperr.ErrMissingSigningSecret
	}

	current, err := tx.ClientByOAuthID(ctx, client.OAuthClientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	accessStr, accessClaims, err := s.access.Sign(auth.Claims{
		Subject: user.ID, ClientID: current.OAuthClientID, Scope: auth.ScopeAll,
	}, s.cfg.AccessTTL, now)
	if err != nil {
		return nil, err
	}
	refreshStr, refreshClaims, err := s.refresh.Sign(auth.Claims{
		Subject: user.ID, ClientID: current.OAuthClientID,
	}, s.cfg.RefreshTTL, now)
	if err != nil {
		return nil, err
	}

	pairID := uuid.NewString()
	if err := tx.CreateAccessToken(ctx, &models.AccessToken{
		Token:         accessStr,
		ExpiresAt:     accessClaims.ExpiresAt,
		ClientID:      current.ID,
		OAuthClientID: current.OAuthClientID,
		UserID:        user.ID,
		PairID:        pairID,
	}); err != nil {
		return nil, err
	}
	if err := tx.CreateRefreshToken(ctx, &models.RefreshToken{
		Token:         refreshStr,
		ExpiresAt:     refreshClaims.ExpiresAt,
		ClientID:      current.ID,
		OAuthClientID: current.OAuthClientID,
		UserID:        user.ID,
		PairID:        pairID,
	}); err != nil {
		return nil, err
	}

	s.m.TokenPairIssued()
	return &Pair{
		AccessToken:           accessStr,
		AccessTokenExpiresAt:  accessClaims.ExpiresAt,
		RefreshToken:          refreshStr,
		RefreshTokenExpiresAt: refreshClaims.ExpiresAt,
		TokenType:             "Bearer",
		ClientID:              current.OAuthClientID,
		UserID:                user.ID,
	}, nil
}

// ResolveAccessToken checks the signature, then the persisted row. The row
// is authoritative: a well-signed token with no row is rejected.
func (s *Service) ResolveAccessToken(ctx context.Context, tokenStr string) (*Resolved, error) {
	claims, verr := s.access.Verify(tokenStr)
	if errors.Is(verr, apperr.ErrMissingSigningSecret) {
		return nil, verr
	}
	if verr != nil {
		s.lg.Debugw("access token signature check failed", "error", verr)
	}

	row, err := s.st.AccessTokenByValue(ctx, tokenStr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if row.Client == nil || row.User == nil {
		return nil, apperr.ErrInvalidToken
	}
	if verr == nil && claims.Subject != row.UserID {
		s.lg.Warnw("access token subject does not match its row", "row_user_id", row.UserID)
		return nil, apperr.ErrInvalidToken
	}
	if !s.now().Before(row.ExpiresAt) {
		return nil, apperr.ErrInvalidToken.WithMessage("token expired")
	}
	return &Resolved{
		User:      row.User,
		Client:    row.Client,
		Grants:    row.Client.Grants,
		ExpiresAt: row.ExpiresAt,
		PairID:    row.PairID,
	}, nil
}

// ResolveRefreshToken mirrors ResolveAccessToken against refresh rows. An
// expired row yields ErrRefreshTokenExpired so callers can tell it apart.
func (s *Service) ResolveRefreshToken(ctx context.Context, tokenStr string) (*Resolved, error) {
	claims, verr := s.refresh.Verify(tokenStr)
	if errors.Is(verr, apperr.ErrMissingSigningSecret) {
		return nil, verr
	}
	if verr != nil {
		s.lg.Debugw("refresh token signature check failed", "error", verr)
	}

	row, err := s.st.RefreshTokenByValue(ctx, tokenStr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}
	if row.Client == nil || row.User == nil {
		return nil, apperr.ErrInvalidRefreshToken
	}
	if verr == nil && claims.Subject != row.UserID {
		s.lg.Warnw("refresh token subject does not match its row", "row_user_id", row.UserID)
		return nil, apperr.ErrInvalidRefreshToken
	}
	if !s.now().Before(row.ExpiresAt) {
		return nil, apperr.ErrRefreshTokenExpired
	}
	return &Resolved{
		User:      row.User,
		Client:    row.Client,
		Grants:    row.Client.Grants,
		ExpiresAt: row.ExpiresAt,
		PairID:    row.PairID,
	}, nil
}

// Revoke deletes the refresh row. false means nothing matched.
func (s *Service) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	n, err := s.st.DeleteRefreshToken(ctx, refreshToken)
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.m.Revocation()
	}
	return n > 0, nil
}
