package telegram

import (
	"regexp"
	"strings"
)

// markdownV2Reserved is the set Telegram requires escaping in MarkdownV2 text.
const markdownV2Reserved = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 backslash-escapes every reserved character so arbitrary
// user text can be interpolated into a MarkdownV2 message.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

const escapedPad = "\x00"

var (
	reEscaped = regexp.MustCompile(`\\(.)`)
	reBold    = regexp.MustCompile(`\*([^*]+)\*`)
	reItalic  = regexp.MustCompile(`_([^_]+)_`)
)

// StripMarkdownV2 removes MarkdownV2 formatting, returning plain text.
func StripMarkdownV2(md string) string {
	// Protect escaped characters so they are not taken as markup.
	var kept []string
	result := reEscaped.ReplaceAllStringFunc(md, func(match string) string {
		kept = append(kept, match[1:])
		return escapedPad
	})

	result = reBold.ReplaceAllString(result, "$1")
	result = reItalic.ReplaceAllString(result, "$1")

	for _, k := range kept {
		result = strings.Replace(result, escapedPad, k, 1)
	}
	return result
}
