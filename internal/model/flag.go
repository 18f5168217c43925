package model

import "time"

// FlagRecord is the live value of one flag. (namespace, env, key) is unique.
type FlagRecord struct {
	ID        uint64    `json:"id" gorm:"primaryKey"`
	Namespace string    `json:"namespace" gorm:"size:64;not null;uniqueIndex:idx_flag_scope,priority:1"`
	Env       string    `json:"env" gorm:"size:32;not null;uniqueIndex:idx_flag_scope,priority:2"`
	Key       string    `json:"key" gorm:"type:varchar(128) COLLATE utf8mb4_bin;not null;uniqueIndex:idx_flag_scope,priority:3"`
	Type      string    `json:"type" gorm:"size:16;not null"`
	Value     string    `json:"value" gorm:"type:text"`
	Version   int64     `json:"version" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
	UpdatedBy string    `json:"updated_by" gorm:"size:64"`
}

func (FlagRecord) TableName() string { return "flags" }
