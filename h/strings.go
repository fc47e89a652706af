package h

import (
	"strings"

	"github.com/thoas/go-funk"
)

func IsEmpty(s interface{}) bool {
	return funk.IsEmpty(s)
}

func IsNotEmpty(s interface{}) bool {
	return !funk.IsEmpty(s)
}

func Contains(values []string, value string) bool {
	return funk.ContainsString(values, value)
}

// ReplacePlaceholder substitutes a single `{name}` placeholder.
func ReplacePlaceholder(pattern string, name string, value string) string {
	return strings.ReplaceAll(pattern, "{"+name+"}", value)
}
