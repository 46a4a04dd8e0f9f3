package models

import "strings"

func upper(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// StringPtr returns a pointer to a trimmed copy of value, or nil when blank.
func StringPtr(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}

// Deref returns the pointed-to string or an empty string.
func Deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
