// Package anonymize transforms STIX objects before disclosure to a partner
// organization, removing or generalizing detail according to the trust level
// resolved between the source and the requester.
package anonymize

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Level names an anonymization strategy.
type Level string

const (
	LevelNone    Level = "none"
	LevelMinimal Level = "minimal"
	LevelPartial Level = "partial"
	LevelFull    Level = "full"
	LevelCustom  Level = "custom"
)

// ParseLevel validates a strategy name. Unknown names fail closed.
func ParseLevel(name string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(name))) {
	case LevelNone:
		return LevelNone, nil
	case LevelMinimal:
		return LevelMinimal, nil
	case LevelPartial:
		return LevelPartial, nil
	case LevelFull:
		return LevelFull, nil
	case LevelCustom:
		return LevelCustom, nil
	default:
		return "", fmt.Errorf("unknown anonymization strategy %q", name)
	}
}

// Thresholds map a resolved trust value in [0,1] to a strategy. The cutoffs
// are deployment tunables, not protocol constants.
type Thresholds struct {
	// NoneMin is the minimum trust for undisclosed pass-through.
	NoneMin float64
	// PartialMin is the minimum trust for the partial strategy; anything
	// below gets full anonymization.
	PartialMin float64
}

// DefaultThresholds returns the standard 0.8/0.4 ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{NoneMin: 0.8, PartialMin: 0.4}
}

// Policy drives the custom strategy: named fields are either dropped
// outright or replaced with a deterministic redaction token.
type Policy struct {
	RemoveFields    []string `json:"remove_fields"`
	AnonymizeFields []string `json:"anonymize_fields"`
}

// Strategy rewrites one STIX object. Implementations never mutate the input.
type Strategy interface {
	Name() Level
	Anonymize(object map[string]any) map[string]any
}

// Engine builds strategies sharing one redaction salt: the same source value
// redacts to the same token for the lifetime of the engine, without the token
// revealing the value.
type Engine struct {
	salt       []byte
	thresholds Thresholds
}

// NewEngine creates an engine with a fresh random salt.
func NewEngine(thresholds Thresholds) *Engine {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	return &Engine{salt: salt, thresholds: thresholds}
}

// ForName returns the strategy for a level name; custom requires an explicit
// policy and is rejected here.
func (e *Engine) ForName(level Level) (Strategy, error) {
	switch level {
	case LevelNone:
		return noneStrategy{}, nil
	case LevelMinimal:
		return minimalStrategy{engine: e}, nil
	case LevelPartial:
		return partialStrategy{engine: e}, nil
	case LevelFull:
		return fullStrategy{engine: e}, nil
	case LevelCustom:
		return nil, fmt.Errorf("custom strategy requires a field policy")
	default:
		return nil, fmt.Errorf("unknown anonymization strategy %q", level)
	}
}

// ForTrust selects a strategy from a resolved trust value in [0,1].
func (e *Engine) ForTrust(trust float64) Strategy {
	switch {
	case trust >= e.thresholds.NoneMin:
		return noneStrategy{}
	case trust >= e.thresholds.PartialMin:
		return partialStrategy{engine: e}
	default:
		return fullStrategy{engine: e}
	}
}

// Custom returns a strategy applying an explicit field policy.
func (e *Engine) Custom(policy Policy) Strategy {
	return customStrategy{engine: e, policy: policy}
}

// redact maps a source value to a stable opaque token.
func (e *Engine) redact(value string) string {
	sum := sha256.Sum256(append(append([]byte{}, e.salt...), []byte(value)...))
	return "REDACTED-" + hex.EncodeToString(sum[:6])
}

// deepCopy clones a decoded-JSON value tree.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

func copyObject(object map[string]any) map[string]any {
	out, _ := deepCopy(object).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
