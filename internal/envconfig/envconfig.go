// Package envconfig provides the small env-var-to-tunable helpers the
// capture stack uses for knobs that don't warrant a config file or CLI
// flag layer (both explicitly out of scope, spec.md section 1).
package envconfig

import (
	"os"
	"strconv"
	"strings"
)

// Bool reads name as a boolean, returning defaultValue if unset or
// unrecognized.
func Bool(name string, defaultValue bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return defaultValue
	}

	switch v {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	default:
		return defaultValue
	}
}

// IntClamped reads name as an int clamped to [minValue, maxValue],
// returning defaultValue if unset or unparsable.
func IntClamped(name string, defaultValue, minValue, maxValue int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}

	if minValue <= maxValue {
		if n < minValue {
			n = minValue
		}
		if n > maxValue {
			n = maxValue
		}
	}

	return n
}

// Float64Clamped reads name as a float64 clamped to [minValue, maxValue].
func Float64Clamped(name string, defaultValue, minValue, maxValue float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}

	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}

	if minValue <= maxValue {
		if n < minValue {
			n = minValue
		}
		if n > maxValue {
			n = maxValue
		}
	}

	return n
}
