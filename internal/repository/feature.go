package repository

import (
	"context"
	"errors"

	"flagplane/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on MySQL through gorm. The database must be
// opened with TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetFlag(ctx context.Context, namespace, env, key string) (*model.FlagRecord, error) {
	return getFlag(s.db.WithContext(ctx), namespace, env, key)
}

func getFlag(db *gorm.DB, namespace, env, key string) (*model.FlagRecord, error) {
	var rec model.FlagRecord
	err := db.Where("namespace = ? AND env = ? AND `key` = ?", namespace, env, key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) ListFlags(ctx context.Context, q FlagQuery) ([]model.FlagRecord, error) {
	query := s.db.WithContext(ctx).Where("namespace = ? AND env = ?", q.Namespace, q.Env)
	if q.Search != "" {
		query = query.Where("`key` LIKE ?", "%"+q.Search+"%")
	}
	if q.After != "" {
		query = query.Where("`key` > ?", q.After)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var flags []model.FlagRecord
	err := query.Order("`key` ASC").Find(&flags).Error
	return flags, err
}

func (s *GormStore) ScanFlags(ctx context.Context, afterID uint64, limit int) ([]model.FlagRecord, error) {
	var flags []model.FlagRecord
	err := s.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&flags).Error
	return flags, err
}

// Atomic runs fn inside a database transaction.
func (s *GormStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type gormTx struct {
	db *gorm.DB
}

// GetFlag locks the row until the transaction ends so writers on other
// instances queue behind this one.
func (t *gormTx) GetFlag(ctx context.Context, namespace, env, key string) (*model.FlagRecord, error) {
	return getFlag(t.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), namespace, env, key)
}

func (t *gormTx) InsertFlag(ctx context.Context, rec *model.FlagRecord) error {
	err := t.db.WithContext(ctx).Create(rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

func (t *gormTx) UpdateFlag(ctx context.Context, rec *model.FlagRecord, prevVersion int64) error {
	res := t.db.WithContext(ctx).Model(&model.FlagRecord{}).
		Where("id = ? AND version = ?", rec.ID, prevVersion).
		Updates(map[string]any{
			"value":      rec.Value,
			"version":    rec.Version,
			"updated_at": rec.UpdatedAt,
			"updated_by": rec.UpdatedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (t *gormTx) EnqueueOutbox(ctx context.Context, task *model.OutboxTask) error {
	return t.db.WithContext(ctx).Create(task).Error
}
