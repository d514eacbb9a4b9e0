// Package session drives login, token rotation and logout, and the account
// flows around them.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"licensehub/internal/apperr"
	"licensehub/internal/auth"
	"licensehub/internal/licensing"
	"licensehub/internal/mailer"
	"licensehub/internal/metrics"
	"licensehub/internal/models"
	"licensehub/internal/store"
	"licensehub/internal/token"
)

const (
	RedirectLicense = "/license"
	RedirectIndex   = "/index"
)

type Options struct {
	// BaseURL prefixes links sent by email.
	BaseURL  string
	ResetTTL time.Duration
}

type Controller struct {
	st       *store.Store
	tokens   *token.Service
	binder   *licensing.Binder
	mail     mailer.Sender
	opts     Options
	validate *validator.Validate
	lg       *zap.SugaredLogger
	m        *metrics.Metrics
}

func New(st *store.Store, tokens *token.Service, binder *licensing.Binder, mail mailer.Sender, opts Options, lg *zap.SugaredLogger, m *metrics.Metrics) *Controller {
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Controller{
		st: st, tokens: tokens, binder: binder, mail: mail, opts: opts,
		validate: validator.New(), lg: lg, m: m,
	}
}

type LoginResult struct {
	User       *models.User   `json:"user"`
	Client     *models.Client `json:"-"`
	Tokens     *token.Pair    `json:"token"`
	RedirectTo string         `json:"redirect_to"`
}

// Login verifies the user, issues a token pair and, when deviceID is set,
// picks a redirect hint from whether that device already holds an active
// license of the user.
func (c *Controller) Login(ctx context.Context, email, password, deviceID string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	u, err := c.st.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		c.m.Login("user_not_found")
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !u.EmailConfirmed {
		c.m.Login("email_not_confirmed")
		return nil, apperr.ErrEmailNotConfirmed
	}

	verified, err := c.st.VerifyUserCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if verified == nil {
		c.m.Login("invalid_credentials")
		return nil, apperr.ErrInvalidCredentials
	}

	client, err := c.st.ClientByUserID(ctx, verified.ID)
	if errors.Is(err, store.ErrNotFound) {
		c.lg.Errorw("user has no oauth client", "user_id", verified.ID)
		c.m.Login("no_client")
		return nil, apperr.ErrNoClientForUser
	}
	if err != nil {
		return nil, err
	}

	pair, err := c.tokens.IssueTokenPair(ctx, verified, client)
	if err != nil {
		return nil, err
	}

	redirect := RedirectLicense
	if deviceID != "" {
		ok, err := c.binder.HasActiveDevice(ctx, verified.ID, deviceID)
		if err != nil {
			c.lg.Warnw("device lookup for redirect hint failed", "user_id", verified.ID, "error", err)
		} else if ok {
			redirect = RedirectIndex
		}
	}

	c.audit(ctx, "user.login", verified.ID, map[string]interface{}{"device_id": deviceID})
	c.m.Login("success")
	c.lg.Infow("user logged in", "user_id", verified.ID, "redirect_to", redirect)
	return &LoginResult{User: verified, Client: client, Tokens: pair, RedirectTo: redirect}, nil
}

// Refresh rotates a refresh token. The old token is unusable afterwards.
func (c *Controller) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperr.Validation("refresh token is required")
	}
	res, err := c.tokens.ResolveRefreshToken(ctx, refreshToken)
	if err != nil {
		c.m.Refresh("rejected")
		return nil, err
	}
	return c.rotate(ctx, refreshToken, res)
}

// rotate deletes the presented refresh row and its paired access token,
// then issues a new pair, all in one transaction. Losing the delete to a
// concurrent rotation fails the call.
func (c *Controller) rotate(ctx context.Context, refreshToken string, res *token.Resolved) (*token.Pair, error) {
	var pair *token.Pair
	err := c.st.Transaction(ctx, func(tx *store.Store) error {
		n, err := tx.DeleteRefreshToken(ctx, refreshToken)
		if err != nil {
			return err
		}
		if n != 1 {
			return apperr.ErrInvalidRefreshToken
		}
		if _, err := tx.DeleteAccessTokensByPair(ctx, res.PairID); err != nil {
			return err
		}
		pair, err = c.tokens.IssueTokenPairTx(ctx, tx, res.User, res.Client)
		return err
	})
	if err != nil {
		c.m.Refresh("rejected")
		return nil, err
	}
	c.m.Refresh("success")
	c.lg.Debugw("refresh token rotated", "user_id", res.User.ID)
	return pair, nil
}

// Logout revokes refreshToken and its paired access token. When userID is
// set the token must belong to that user.
func (c *Controller) Logout(ctx context.Context, userID, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return apperr.Validation("refresh token is required")
	}
	row, err := c.st.RefreshTokenByValue(ctx, refreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrInvalidToken
	}
	if err != nil {
		return err
	}
	if row.Client == nil || row.User == nil ||
		row.Client.OAuthClientID == "" || len(row.Client.Grants) == 0 || row.User.ID == "" {
		return apperr.ErrInvalidToken
	}
	if userID != "" && row.UserID != userID {
		return apperr.ErrInvalidToken
	}

	ok, err := c.tokens.Revoke(ctx, refreshToken)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrRevocationFailed
	}
	if _, err := c.st.DeleteAccessTokensByPair(ctx, row.PairID); err != nil {
		return err
	}

	c.audit(ctx, "user.logout", row.UserID, nil)
	c.lg.Infow("user logged out", "user_id", row.UserID)
	return nil
}

// Authenticate implements auth.Authenticator for both credential schemes.
func (c *Controller) Authenticate(ctx context.Context, cred auth.Credential) (*auth.Identity, error) {
	switch cr := cred.(type) {
	case auth.BearerToken:
		res, err := c.tokens.ResolveAccessToken(ctx, cr.Token)
		if err != nil {
			return nil, err
		}
		return &auth.Identity{User: res.User, Client: res.Client, Grants: res.Grants, DeviceID: cr.DeviceID}, nil

	case auth.HybridKeySet:
		u, err := c.st.UserByID(ctx, cr.UserKey)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrInvalidClient
		}
		if err != nil {
			return nil, err
		}
		client, err := c.st.ClientByUserID(ctx, u.ID)
		if errors.Is(err, store.ErrNotFound) {
			c.lg.Errorw("user has no oauth client", "user_id", u.ID)
			return nil, apperr.ErrInvalidClient
		}
		if err != nil {
			return nil, err
		}
		if subtle.ConstantTimeCompare([]byte(client.ClientSecret), []byte(cr.APIKey)) != 1 {
			return nil, apperr.ErrInvalidClient
		}
		return &auth.Identity{User: u, Client: client, Grants: client.Grants, DeviceID: cr.DeviceID}, nil
	}
	return nil, apperr.ErrMissingCredentials
}

func (c *Controller) audit(ctx context.Context, action, userID string, meta map[string]interface{}) {
	if err := c.st.Audit(ctx, action, userID, "", meta); err != nil {
		c.lg.Warnw("audit write failed", "action", action, "error", err)
	}
}
