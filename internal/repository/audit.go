package repository

import (
	"context"
	"errors"

	"flagplane/internal/model"

	"gorm.io/gorm"
)

func (s *GormStore) ListAudits(ctx context.Context, namespace, env, key string) ([]model.AuditEntry, error) {
	var audits []model.AuditEntry
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND env = ? AND `key` = ?", namespace, env, key).
		Order("id DESC").
		Find(&audits).Error
	return audits, err
}

func (s *GormStore) FindAudit(ctx context.Context, id int64) (*model.AuditEntry, error) {
	var audit model.AuditEntry
	err := s.db.WithContext(ctx).First(&audit, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &audit, nil
}

func (t *gormTx) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	return t.db.WithContext(ctx).Create(entry).Error
}
