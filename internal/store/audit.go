package store

import (
	"context"
	"fmt"

	"licensehub/internal/models"
)

const maxAuditLogs = 200

func (s *Store) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// Audit records action. Empty ids are stored as NULL.
func (s *Store) Audit(ctx context.Context, action, userID, licenseID string, meta map[string]interface{}) error {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	entry := &models.AuditLog{Action: action, Metadata: models.MarshalJSONB(meta)}
	if userID != "" {
		entry.UserID = &userID
	}
	if licenseID != "" {
		entry.LicenseID = &licenseID
	}
	return s.CreateAuditLog(ctx, entry)
}

// AuditLogs returns the newest entries for userID, or for everyone when
// userID is empty.
func (s *Store) AuditLogs(ctx context.Context, userID string) ([]models.AuditLog, error) {
	q := s.db.WithContext(ctx).Order("created_at desc").Order("id desc").Limit(maxAuditLogs)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var logs []models.AuditLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}
