package text

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/book-expert/reading-assistant/internal/core"
)

// NoReadableText is narrated when extraction succeeds without usable text.
const NoReadableText = "No readable text found."

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// isCloser reports runes that may trail terminal punctuation inside the same sentence.
func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’', '»':
		return true
	default:
		return false
	}
}

// Segment splits text into narration units on terminal punctuation followed
// by whitespace. Empty candidates are dropped and the survivors are numbered
// from 1 in reading order.
func Segment(text string) []core.NarrationUnit {
	runes := []rune(text)
	units := make([]core.NarrationUnit, 0)
	start := 0

	appendUnit := func(end int) {
		candidate := strings.TrimSpace(string(runes[start:end]))
		if candidate != "" {
			units = append(units, core.NarrationUnit{Index: len(units) + 1, Text: candidate})
		}

		start = end
	}

	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}

		end := i + 1
		for end < len(runes) && (isTerminal(runes[end]) || isCloser(runes[end])) {
			end++
		}

		if end == len(runes) || unicode.IsSpace(runes[end]) {
			appendUnit(end)
		}

		i = end - 1
	}

	appendUnit(len(runes))

	return units
}

// Fingerprint identifies a text for checkpoint matching.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))

	return hex.EncodeToString(sum[:])
}
