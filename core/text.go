package core

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	spaceRunRegex    = regexp.MustCompile(`\s+`)
	slugInvalidRegex = regexp.MustCompile(`[^\w\s-]`)
	slugSepRegex     = regexp.MustCompile(`[-\s]+`)
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// NormalizeText trims `s` and collapses internal whitespace runs to single spaces.
func NormalizeText(s string) string {
	return spaceRunRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// Slugify converts `s` to a URL slug: lowercased, non-word characters removed,
// whitespace and hyphen runs joined by single hyphens.
func Slugify(s string) string {
	s = slugInvalidRegex.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
	s = slugSepRegex.ReplaceAllString(s, "-")
	return strings.Trim(s, "-_")
}

// Pluralize renders "1 choice was" / "N choices were" style count phrases.
func Pluralize(count int, noun string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s was", noun)
	}
	return fmt.Sprintf("%d %ss were", count, noun)
}
