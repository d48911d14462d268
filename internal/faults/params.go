// Package faults defines the vocabulary of injectable fault parameters and
// the per-service fault plan.
package faults

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fault parameter keys understood by the demo services. They surface as
// container environment variables on the target deployments.
const (
	KeyFailureRate      = "FAILURE_RATE"
	KeyFailureMode      = "FAILURE_MODE"
	KeySlowdownRate     = "SLOWDOWN_RATE"
	KeySlowdownDelay    = "SLOWDOWN_DELAY"
	KeyMsgSlowdownRate  = "MSG_SLOWDOWN_RATE"
	KeyMsgSlowdownDelay = "MSG_SLOWDOWN_DELAY"
	KeyDBSlowdownRate   = "DB_SLOWDOWN_RATE"
	KeyDBSlowdownDelay  = "DB_SLOWDOWN_DELAY"
	KeyDBQueryTimeout   = "DB_QUERY_TIMEOUT_MS"
)

// PrimaryKey is the parameter remediation probes to decide whether a target
// has chaos active.
const PrimaryKey = KeyFailureRate

var knownKeys = []string{
	KeyFailureRate,
	KeyFailureMode,
	KeySlowdownRate,
	KeySlowdownDelay,
	KeyMsgSlowdownRate,
	KeyMsgSlowdownDelay,
	KeyDBSlowdownRate,
	KeyDBSlowdownDelay,
	KeyDBQueryTimeout,
}

// KnownKeys returns the full fault vocabulary in stable order.
func KnownKeys() []string {
	out := make([]string, len(knownKeys))
	copy(out, knownKeys)
	return out
}

// IsKnownKey reports whether key belongs to the fault vocabulary.
func IsKnownKey(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ParseRate parses a percentage value. Valid rates are integers in [0,100].
func ParseRate(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("rate %q is not an integer", s)
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("rate %d out of range [0,100]", n)
	}
	return n, nil
}

// ParseDelayMs parses a millisecond duration value. Valid delays are
// non-negative integers.
func ParseDelayMs(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("delay %q is not an integer", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("delay %d is negative", n)
	}
	return n, nil
}

// ValidateValue checks a single parameter value against the rules for its
// key: rates are percentages, delays and timeouts are millisecond counts,
// FAILURE_MODE is a boolean flag.
func ValidateValue(key, value string) error {
	switch key {
	case KeyFailureRate, KeySlowdownRate, KeyMsgSlowdownRate, KeyDBSlowdownRate:
		_, err := ParseRate(value)
		return err
	case KeySlowdownDelay, KeyMsgSlowdownDelay, KeyDBSlowdownDelay, KeyDBQueryTimeout:
		_, err := ParseDelayMs(value)
		return err
	case KeyFailureMode:
		v := strings.ToLower(strings.TrimSpace(value))
		if v != "true" && v != "false" {
			return fmt.Errorf("mode %q is not a boolean", value)
		}
		return nil
	default:
		return fmt.Errorf("unknown fault parameter %q", key)
	}
}

// Normalize drops unknown keys and unparseable values from params, returning
// the cleaned copy plus the dropped keys in sorted order. Invalid entries
// are treated as absent rather than fatal; callers log the dropped keys at
// warning level.
func Normalize(params map[string]string) (map[string]string, []string) {
	clean := make(map[string]string, len(params))
	var dropped []string
	for k, v := range params {
		if err := ValidateValue(k, v); err != nil {
			dropped = append(dropped, k)
			continue
		}
		clean[k] = v
	}
	sort.Strings(dropped)
	return clean, dropped
}
