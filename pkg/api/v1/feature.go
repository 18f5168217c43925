package v1

import (
	"encoding/json"
	"time"
)

// FeatureFlag is the document published to etcd and served by the SDK snapshot.
type FeatureFlag struct {
	Namespace string    `json:"namespace"`
	Env       string    `json:"env"`
	Key       string    `json:"key"`
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (f *FeatureFlag) ToJSON() string {
	b, err := json.Marshal(f)
	if err != nil {
		panic("flagplane serialization failed: " + err.Error())
	}
	return string(b)
}

// StreamEvent is pushed to every matching subscriber once per successful
// mutation and mirrors the record right after that mutation.
type StreamEvent struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	Namespace string    `json:"namespace"`
	Env       string    `json:"env"`
	Version   int64     `json:"version"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScopeKey identifies the flag an event belongs to.
func (e StreamEvent) ScopeKey() string {
	return ScopeKey(e.Namespace, e.Env, e.Key)
}

// ScopeKey joins a flag identity into one string. NUL cannot appear in any of
// the parts once they pass validation.
func ScopeKey(namespace, env, key string) string {
	return namespace + "\x00" + env + "\x00" + key
}
