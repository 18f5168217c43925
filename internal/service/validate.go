package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"flagplane/pkg/constraints"
	"flagplane/pkg/strategy"
)

var (
	scopePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	// keys are dot separated segments, e.g. checkout.payment.new_flow
	keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)
)

func validateScope(namespace, env string) error {
	if len(namespace) == 0 || len(namespace) > constraints.MaxNamespaceLen || !scopePattern.MatchString(namespace) {
		return fmt.Errorf("%w: invalid namespace %q", ErrValidation, namespace)
	}
	if len(env) == 0 || len(env) > constraints.MaxEnvLen || !scopePattern.MatchString(env) {
		return fmt.Errorf("%w: invalid env %q", ErrValidation, env)
	}
	return nil
}

func validateKey(namespace, env, key string) error {
	if err := validateScope(namespace, env); err != nil {
		return err
	}
	if len(key) == 0 || len(key) > constraints.MaxKeyLen || !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: invalid key %q", ErrValidation, key)
	}
	return nil
}

// validateValue checks that value parses as flagType.
func validateValue(flagType, value string) error {
	switch flagType {
	case constraints.TypeBool:
		if value != "true" && value != "false" {
			return fmt.Errorf("%w: bool value must be true or false, got %q", ErrValidation, value)
		}
	case constraints.TypeNumber:
		if !isJSONNumber(value) {
			return fmt.Errorf("%w: invalid number %q", ErrValidation, value)
		}
	case constraints.TypeJSON:
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("%w: invalid json", ErrValidation)
		}
	case constraints.TypeStrategy:
		if _, err := strategy.Parse(value); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	case constraints.TypeString:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrValidation, flagType)
	}
	return nil
}

// isJSONNumber accepts exactly the JSON number grammar, finite in float64.
// NaN, Inf, hex floats and digit separators are rejected.
func isJSONNumber(value string) bool {
	if value == "" || strings.TrimSpace(value) != value || !json.Valid([]byte(value)) {
		return false
	}
	dec := json.NewDecoder(strings.NewReader(value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return false
	}
	n, ok := v.(json.Number)
	if !ok {
		return false
	}
	_, err := n.Float64()
	return err == nil
}
