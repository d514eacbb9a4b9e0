package store

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"licensehub/internal/models"
)

func (s *Store) CreateClient(ctx context.Context, c *models.Client) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func (s *Store) ClientByID(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) ClientByOAuthID(ctx context.Context, oauthClientID string) (*models.Client, error) {
	var c models.Client
	if err := s.db.WithContext(ctx).First(&c, "oauth_client_id = ?", oauthClientID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ClientByUserID returns the user's oldest client.
func (s *Store) ClientByUserID(ctx context.Context, userID string) (*models.Client, error) {
	var c models.Client
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at asc").First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// FindClientByCredentials matches both the public id and the secret. No
// match returns nil with no error.
func (s *Store) FindClientByCredentials(ctx context.Context, oauthClientID, secret string) (*models.Client, error) {
	c, err := s.ClientByOAuthID(ctx, oauthClientID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(c.ClientSecret), []byte(secret)) != 1 {
		return nil, nil
	}
	return c, nil
}
