package repository

import (
	"context"
	"errors"

	"flagplane/internal/model"

	"gorm.io/gorm"
)

// SDKRepository validates the API keys used by SDK streams.
type SDKRepository interface {
	ValidateAPIKey(ctx context.Context, apiKey, env string) (bool, error)
}

type SDKKeyRepository struct {
	db *gorm.DB
}

func NewSDKKeyRepository(db *gorm.DB) *SDKKeyRepository {
	return &SDKKeyRepository{db: db}
}

func (r *SDKKeyRepository) ValidateAPIKey(ctx context.Context, apiKey, env string) (bool, error) {
	var client model.SDKClient
	err := r.db.WithContext(ctx).
		Where("api_key = ? AND env = ? AND status = ?", apiKey, env, model.SDKClientActive).
		First(&client).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// StaticSDKKeys validates against a fixed key set, for the memory driver.
type StaticSDKKeys map[string]string

func (k StaticSDKKeys) ValidateAPIKey(_ context.Context, apiKey, env string) (bool, error) {
	keyEnv, ok := k[apiKey]
	return ok && (keyEnv == env || keyEnv == "*"), nil
}
