// Package text prepares extracted text for narration.
//
// The Preprocessor cleans text returned by the extraction service so that it
// reads naturally and segments correctly; Segment splits it into narration
// units; Fingerprint identifies it for checkpointing.
package text

import (
	"regexp"
	"strings"
)

// Regex patterns for text preprocessing.
const (
	markdownEmphasisPattern = `[*_]{1,3}`
	markdownHeadingPattern  = `(?m)^\s{0,3}#{1,6}\s+`
	markdownBulletPattern   = `(?m)^\s*[-+•]\s+`
	whitespaceRegexPattern  = `\s+`
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Preprocessor normalizes extracted text before segmentation.
type Preprocessor struct {
	emphasisPattern   *regexp.Regexp
	headingPattern    *regexp.Regexp
	bulletPattern     *regexp.Regexp
	whitespacePattern *regexp.Regexp
	// Abbreviations end in a period and would otherwise split a sentence.
	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewPreprocessor creates a preprocessor with compiled patterns and replacers.
func NewPreprocessor() *Preprocessor {
	abbreviations := []string{
		"Mr. ", "Mister ",
		"Mrs. ", "Misses ",
		"Ms. ", "Miss ",
		"Dr. ", "Doctor ",
		"St. ", "Saint ",
		"Prof. ", "Professor ",
		"Co. ", "Company ",
		"Ltd. ", "Limited ",
		"Corp. ", "Corporation ",
		"Inc. ", "Incorporated ",
		"e.g. ", "for example ",
		"i.e. ", "that is ",
		"etc. ", "etcetera ",
		"vs. ", "versus ",
	}

	return &Preprocessor{
		emphasisPattern:      regexp.MustCompile(markdownEmphasisPattern),
		headingPattern:       regexp.MustCompile(markdownHeadingPattern),
		bulletPattern:        regexp.MustCompile(markdownBulletPattern),
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
		punctuationReplacer: strings.NewReplacer(
			emDash, " - ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize strips markdown decoration, expands abbreviations and collapses whitespace.
func (p *Preprocessor) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	// Vision models frequently answer in markdown.
	cleaned := p.headingPattern.ReplaceAllString(text, "")
	cleaned = p.bulletPattern.ReplaceAllString(cleaned, "")
	cleaned = p.emphasisPattern.ReplaceAllString(cleaned, "")

	cleaned = p.punctuationReplacer.Replace(cleaned)
	cleaned = p.whitespacePattern.ReplaceAllString(cleaned, " ")

	// Trailing space lets an abbreviation at the very end match too.
	cleaned = p.abbreviationReplacer.Replace(cleaned + " ")

	return strings.TrimSpace(cleaned)
}
