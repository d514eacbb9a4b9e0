package store

import (
	"context"
	"fmt"

	"licensehub/internal/models"
)

func (s *Store) CreateDevice(ctx context.Context, d *models.Device) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

func (s *Store) DeviceByID(ctx context.Context, id string) (*models.Device, error) {
	var d models.Device
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *Store) DeviceByLicense(ctx context.Context, licenseID, deviceID string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).First(&d, "license_id = ? AND device_id = ?", licenseID, deviceID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// DevicesByLicense returns the license's devices ordered by slot.
func (s *Store) DevicesByLicense(ctx context.Context, licenseID string) ([]models.Device, error) {
	var out []models.Device
	if err := s.db.WithContext(ctx).Where("license_id = ?", licenseID).Order("slot asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Device{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete device: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HasActiveDevice reports whether deviceID is bound to an active license
// owned by userID.
func (s *Store) HasActiveDevice(ctx context.Context, userID, deviceID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Device{}).
		Joins("JOIN licenses ON licenses.id = devices.license_id").
		Where("devices.device_id = ? AND licenses.user_id = ? AND licenses.status = ?", deviceID, userID, models.StatusActive).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("lookup device: %w", err)
	}
	return n > 0, nil
}
