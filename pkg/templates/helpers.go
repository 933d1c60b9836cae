package templates

import (
	"fmt"
	"strings"
	"text/template"
)

// builtinFuncs are available inside every prompt template.
var builtinFuncs = template.FuncMap{
	"trim":     strings.TrimSpace,
	"join":     strings.Join,
	"bullets":  BulletList,
	"numbered": NumberedList,
	"fallback": Fallback,
}

// BulletList renders items as markdown bullet lines.
func BulletList(items []string) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(item))
	}

	return strings.TrimRight(b.String(), "\n")
}

// NumberedList renders items as "1. item" lines.
func NumberedList(items []string) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(item))
	}

	return strings.TrimRight(b.String(), "\n")
}

// Fallback returns s, or alt when s is blank.
func Fallback(s, alt string) string {
	if strings.TrimSpace(s) == "" {
		return alt
	}

	return s
}

// SafeText drops invalid UTF-8 sequences and trims surrounding whitespace so
// model output can be embedded into downstream prompts.
func SafeText(text string) string {
	return strings.TrimSpace(strings.ToValidUTF8(text, ""))
}

// Truncate caps text at max runes, marking the cut with an ellipsis.
func Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}

	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	return string(runes[:max]) + "..."
}
