package database

import (
	"strings"
)

// The persistence layer rejects payload keys containing '$' or '.'.
// Each forbidden character maps to a fixed safe token. The transform is
// forward-only: the original key is not recoverable, and no component
// depends on recovering it.
var keyReplacer = strings.NewReplacer(
	"$", "__dollar__",
	".", "__dot__",
)

// SanitizeKey rewrites forbidden characters in a single payload key.
func SanitizeKey(key string) string {
	return keyReplacer.Replace(key)
}

// SanitizeKeys rewrites forbidden key characters recursively through nested
// maps and slices. Values are never modified, only keys. The input map is
// left untouched.
func SanitizeKeys(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}

	sanitized := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		sanitized[SanitizeKey(key)] = sanitizeValue(value)
	}
	return sanitized
}

func sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return SanitizeKeys(v)
	case []interface{}:
		sanitized := make([]interface{}, len(v))
		for i, elem := range v {
			sanitized[i] = sanitizeValue(elem)
		}
		return sanitized
	default:
		return value
	}
}
