package store

import (
	"context"
	"fmt"
	"time"

	"licensehub/internal/models"
)

func (s *Store) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create access token: %w", err)
	}
	return nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// AccessTokenByValue loads the row with its Client and User. Either may be
// nil if the referenced row is gone.
func (s *Store) AccessTokenByValue(ctx context.Context, value string) (*models.AccessToken, error) {
	var t models.AccessToken
	err := s.db.WithContext(ctx).Preload("Client").Preload("User").First(&t, "token = ?", value).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) RefreshTokenByValue(ctx context.Context, value string) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := s.db.WithContext(ctx).Preload("Client").Preload("User").First(&t, "token = ?", value).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// DeleteRefreshToken returns the number of rows removed.
func (s *Store) DeleteRefreshToken(ctx context.Context, value string) (int64, error) {
	res := s.db.WithContext(ctx).Where("token = ?", value).Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete refresh token: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteAccessTokensByPair(ctx context.Context, pairID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("pair_id = ?", pairID).Delete(&models.AccessToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete access tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeExpiredTokens drops access and refresh rows that expired before now.
func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := s.Transaction(ctx, func(tx *Store) error {
		res := tx.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.AccessToken{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		res = tx.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.RefreshToken{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return total, nil
}
