// Package strategy evaluates rollout strategies stored as the value of
// strategy-typed flags.
//
// A payload looks like
//
//	{"whitelist": ["user-1", "user-2"], "percentage": 25}
//
// Both fields are optional. A subject on the whitelist is always enabled.
// Otherwise, when a percentage is set, the subject is enabled if its bucket
// for the flag key falls below the percentage.
package strategy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

var ErrInvalidPayload = errors.New("invalid strategy payload")

// Payload is the decoded value of a strategy flag.
type Payload struct {
	Whitelist  []string `json:"whitelist,omitempty"`
	Percentage *int     `json:"percentage,omitempty"`
}

// Parse decodes and validates a raw strategy value. It is run at write time so
// that Evaluate never sees an out-of-range percentage.
func Parse(raw string) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return Payload{}, fmt.Errorf("%w: trailing data after object", ErrInvalidPayload)
	}
	if p.Percentage != nil && (*p.Percentage < 0 || *p.Percentage > 100) {
		return Payload{}, fmt.Errorf("%w: percentage %d out of range [0,100]", ErrInvalidPayload, *p.Percentage)
	}
	return p, nil
}

// Evaluate reports whether subjectID is enabled for the flag named key.
func Evaluate(key string, p Payload, subjectID string) bool {
	for _, id := range p.Whitelist {
		if id == subjectID {
			return true
		}
	}
	if p.Percentage == nil {
		return false
	}
	switch pct := *p.Percentage; {
	case pct <= 0:
		return false
	case pct >= 100:
		return true
	default:
		return Bucket(key, subjectID) < pct
	}
}

// Bucket maps (key, subjectID) to [0,100). The hash is seedless so the result
// is stable across processes and restarts.
func Bucket(key, subjectID string) int {
	d := xxhash.New()
	_, _ = d.WriteString(key)
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(subjectID)
	return int(d.Sum64() % 100)
}
