package agent

import "regexp"

// displayTokenRe splits text into non-space runs, each carrying its trailing
// whitespace, so that re-concatenating the pieces reproduces the text and
// frontends can render tokens incrementally without losing spacing.
var displayTokenRe = regexp.MustCompile(`\S+\s*`)

// displayTokens splits final content for token events. Leading whitespace
// before the first word is attached to the first token.
func displayTokens(text string) []string {
	if text == "" {
		return nil
	}

	tokens := displayTokenRe.FindAllString(text, -1)
	if len(tokens) == 0 {
		// Whitespace-only content is one token.
		return []string{text}
	}

	// Text that opens with whitespace loses it to the regex; glue it onto
	// the first token so the round-trip stays exact.
	if loc := displayTokenRe.FindStringIndex(text); loc != nil && loc[0] > 0 {
		tokens[0] = text[:loc[0]] + tokens[0]
	}

	return tokens
}
