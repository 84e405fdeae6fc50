package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	sanitizer = bluemonday.UGCPolicy()
	stripper  = bluemonday.StrictPolicy()
)

// Sanitize cleans HTML content to prevent XSS attacks.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}

// StripTags removes all markup, for single-line fields such as titles.
func StripTags(input string) string {
	return strings.TrimSpace(stripper.Sanitize(input))
}
