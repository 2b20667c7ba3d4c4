package deliver

import (
	"html"
	"regexp"
	"strconv"
)

var (
	// counterPattern matches a trailing duplicate-count marker such as "(x2)".
	counterPattern = regexp.MustCompile(`\(x(\d+)\)$`)
	// labeledLinkPattern matches destination markup of the form <url|label>.
	labeledLinkPattern = regexp.MustCompile(`<([^<>|]+)\|([^<>]+)>`)
	// bareLinkPattern matches destination markup of the form <url>.
	bareLinkPattern = regexp.MustCompile(`<([^<>|]+)>`)
)

// Debounce collapses a repeated message into a counted one. A trailing
// "(xN)" marker is incremented in place (only the suffix occurrence is
// rewritten, the body is never touched); otherwise " (x2)" is appended for
// the second occurrence.
// Params: previous message text, already unrendered.
// Returns: debounced text and the new occurrence count.
func Debounce(text string) (string, int) {
	match := counterPattern.FindStringSubmatchIndex(text)
	if match == nil {
		return text + " (x2)", 2
	}

	previous, err := strconv.Atoi(text[match[2]:match[3]])
	if err != nil {
		return text + " (x2)", 2
	}
	next := previous + 1
	return text[:match[2]] + strconv.Itoa(next) + text[match[3]:], next
}

// RepeatCount extracts the duplicate-count marker from message text.
// Params: message text.
// Returns: count value, or 1 when no marker is present.
func RepeatCount(text string) int {
	match := counterPattern.FindStringSubmatch(text)
	if match == nil {
		return 1
	}
	count, err := strconv.Atoi(match[1])
	if err != nil {
		return 1
	}
	return count
}

// Unrender reverses destination-applied text markup so equality is judged on
// semantic content. Links rendered as <url|label> collapse to their label,
// bare <url> wrappers are stripped, and HTML entities are unescaped.
// Params: destination-rendered message text.
// Returns: plain text as originally posted.
func Unrender(text string) string {
	plain := labeledLinkPattern.ReplaceAllString(text, "$2")
	plain = bareLinkPattern.ReplaceAllString(plain, "$1")
	return html.UnescapeString(plain)
}
