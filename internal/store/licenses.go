package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"licensehub/internal/models"
)

func (s *Store) CreateLicense(ctx context.Context, l *models.License) error {
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

func (s *Store) LicenseByID(ctx context.Context, id string) (*models.License, error) {
	var l models.License
	if err := s.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *Store) LicenseByKey(ctx context.Context, key string) (*models.License, error) {
	var l models.License
	if err := s.db.WithContext(ctx).First(&l, "license_key = ?", key).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// LockLicenseByKey loads the license with SELECT ... FOR UPDATE. Only
// meaningful inside Transaction; sqlite drops the locking clause and relies
// on its single writer.
func (s *Store) LockLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	var l models.License
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&l, "license_key = ?", key).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *Store) LicensesByUser(ctx context.Context, userID string) ([]models.License, error) {
	var out []models.License
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return out, nil
}

// ActivateLicense flips an inactive license to active. It reports false when
// no inactive license carries key.
func (s *Store) ActivateLicense(ctx context.Context, key string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.License{}).
		Where("license_key = ? AND status = ?", key, models.StatusInactive).
		Update("status", models.StatusActive)
	if res.Error != nil {
		return false, fmt.Errorf("activate license: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) DeleteLicense(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.License{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete license: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
