// Package validation checks record payloads at the API boundary.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Rules constrains payloads accepted for insert and update. Zero value
// accepts any valid JSON object.
type Rules struct {
	// Required lists dotted paths that must exist in the payload.
	Required []string
	// MaxPayloadBytes rejects payloads larger than this (0 = no cap).
	MaxPayloadBytes int64
}

var rules Rules

// SetRules installs the process-wide validation rules.
func SetRules(r Rules) { rules = r }

// ValidatePayload checks raw against the installed rules. The payload
// must be a JSON object.
func ValidatePayload(raw []byte) error {
	if len(raw) == 0 {
		return errors.New("payload is required")
	}
	if rules.MaxPayloadBytes > 0 && int64(len(raw)) > rules.MaxPayloadBytes {
		return fmt.Errorf("payload too large: %d bytes (max %d)", len(raw), rules.MaxPayloadBytes)
	}
	var root map[string]interface{}
	if err := json.Unmarshal(raw, &root); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}

	var errs []string
	for _, p := range rules.Required {
		if !existsAt(root, p) {
			errs = append(errs, fmt.Sprintf("required path missing: %s", p))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func existsAt(root interface{}, path string) bool {
	segs := strings.Split(path, ".")
	cur := root
	for _, s := range segs {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return false
		}
		v, ok := node[s]
		if !ok {
			return false
		}
		cur = v
	}
	return true
}
