package session

import (
	"context"

	"licensehub/internal/apperr"
	"licensehub/internal/models"
	"licensehub/internal/token"
)

// Token endpoint grant types.
const (
	GrantTypePassword     = models.GrantPassword
	GrantTypeRefreshToken = models.GrantRefreshToken
)

func (c *Controller) client(ctx context.Context, clientID, clientSecret, grant string) (*models.Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, apperr.ErrInvalidClient
	}
	client, err := c.st.FindClientByCredentials(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, apperr.ErrInvalidClient
	}
	if !client.Grants.Has(grant) {
		return nil, apperr.ErrUnsupportedGrant
	}
	return client, nil
}

// PasswordGrant is the password grant of the token endpoint. The client
// must belong to the user whose credentials are presented.
func (c *Controller) PasswordGrant(ctx context.Context, clientID, clientSecret, email, password string) (*token.Pair, error) {
	client, err := c.client(ctx, clientID, clientSecret, GrantTypePassword)
	if err != nil {
		return nil, err
	}
	u, err := c.st.VerifyUserCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if u == nil {
		c.m.Login("invalid_credentials")
		return nil, apperr.ErrInvalidCredentials.WithMessage("invalid user credentials")
	}
	if client.UserID != u.ID {
		return nil, apperr.ErrInvalidClient
	}
	if !u.EmailConfirmed {
		return nil, apperr.ErrEmailNotConfirmed
	}
	pair, err := c.tokens.IssueTokenPair(ctx, u, client)
	if err != nil {
		return nil, err
	}
	c.m.Login("success")
	c.audit(ctx, "oauth.password_grant", u.ID, nil)
	return pair, nil
}

// RefreshGrant rotates a refresh token that was issued to the client.
func (c *Controller) RefreshGrant(ctx context.Context, clientID, clientSecret, refreshToken string) (*token.Pair, error) {
	client, err := c.client(ctx, clientID, clientSecret, GrantTypeRefreshToken)
	if err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, apperr.Validation("refresh token is required")
	}
	res, err := c.tokens.ResolveRefreshToken(ctx, refreshToken)
	if err != nil {
		c.m.Refresh("rejected")
		return nil, err
	}
	if res.Client.ID != client.ID {
		c.m.Refresh("rejected")
		return nil, apperr.ErrInvalidRefreshToken
	}
	return c.rotate(ctx, refreshToken, res)
}
