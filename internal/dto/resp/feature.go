package resp

import (
	"time"

	"flagplane/internal/model"
	v1 "flagplane/pkg/api/v1"
)

type WriteFeatureResponse struct {
	Version int64       `json:"version"`
	AuditID int64       `json:"audit_id"`
	Feature FeatureItem `json:"feature"`
}

type SnapshotResponse struct {
	Data []v1.FeatureFlag `json:"data"`
}

type EvaluateResponse struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Version int64  `json:"version"`
}

type FeatureItem struct {
	ID        uint64    `json:"id"`
	Namespace string    `json:"namespace"`
	Env       string    `json:"env"`
	Key       string    `json:"key"`
	Type      string    `json:"type"`
	Version   int64     `json:"version"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

func NewFeatureItem(rec *model.FlagRecord) FeatureItem {
	return FeatureItem{
		ID:        rec.ID,
		Namespace: rec.Namespace,
		Env:       rec.Env,
		Key:       rec.Key,
		Type:      rec.Type,
		Version:   rec.Version,
		Value:     rec.Value,
		UpdatedAt: rec.UpdatedAt,
		UpdatedBy: rec.UpdatedBy,
	}
}

type AuditLogItem struct {
	ID               int64     `json:"id"`
	Namespace        string    `json:"namespace"`
	Env              string    `json:"env"`
	Key              string    `json:"key"`
	OldValue         string    `json:"old_value"`
	NewValue         string    `json:"new_value"`
	Type             string    `json:"type"`
	FlagType         string    `json:"flag_type"`
	Operator         string    `json:"operator"`
	ResultingVersion int64     `json:"resulting_version"`
	RollbackOf       int64     `json:"rollback_of,omitempty"`
	TraceID          string    `json:"trace_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func NewAuditLogItem(a *model.AuditEntry) AuditLogItem {
	return AuditLogItem{
		ID:               a.ID,
		Namespace:        a.Namespace,
		Env:              a.Env,
		Key:              a.Key,
		OldValue:         a.OldValue,
		NewValue:         a.NewValue,
		Type:             a.Action,
		FlagType:         a.FlagType,
		Operator:         a.Operator,
		ResultingVersion: a.ResultingVersion,
		RollbackOf:       a.RollbackOf,
		TraceID:          a.TraceID,
		CreatedAt:        a.CreatedAt,
	}
}
