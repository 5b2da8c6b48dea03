package extract

import (
	"regexp"
	"strings"
)

var (
	forwardDelimiters = []*regexp.Regexp{
		regexp.MustCompile(`(?mi)^-{2,}\s*forwarded message\s*-*\s*$`),
		regexp.MustCompile(`(?mi)^-{2,}\s*original message\s*-*\s*$`),
		regexp.MustCompile(`(?mi)^begin forwarded message:?\s*$`),
	}

	forwardHeaderLine = regexp.MustCompile(`(?i)^(from|to|cc|bcc|date|sent|subject|reply-to):`)

	replyChainMarker = regexp.MustCompile(`(?mi)^on .{0,200}wrote:\s*$`)

	disclaimerLine = regexp.MustCompile(`(?i)^(confidentiality notice|disclaimer\b|this (e-?mail|message) (is|and any attachments))`)
)

// CleanForwardedBody strips forwarding boilerplate from an email body: the
// forwarded-message delimiter and its header block, reply-chain quotes,
// signature blocks and trailing confidentiality disclaimers. The receipt
// content itself passes through unchanged.
func CleanForwardedBody(text string) string {
	if text == "" {
		return ""
	}

	// Jump past the innermost forward delimiter and its From/Date/Subject/To
	// header block so the forwarded content is what gets matched.
	for _, delim := range forwardDelimiters {
		if loc := delim.FindStringIndex(text); loc != nil {
			rest := text[loc[1]:]
			lines := strings.Split(rest, "\n")
			i := 0
			for i < len(lines) {
				line := strings.TrimSpace(lines[i])
				if line == "" || forwardHeaderLine.MatchString(line) {
					i++
					continue
				}
				break
			}
			text = strings.Join(lines[i:], "\n")
		}
	}

	// Drop quoted reply chains from the first "On ... wrote:" marker on.
	if loc := replyChainMarker.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}

	// Drop signature and disclaimer blocks.
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if trimmed == "--" || disclaimerLine.MatchString(strings.TrimSpace(line)) {
			lines = lines[:i]
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
