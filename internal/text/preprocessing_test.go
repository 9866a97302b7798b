package text_test

import (
	"testing"

	"github.com/book-expert/reading-assistant/internal/text"
)

// preprocessorTestCase defines a standard test case for the preprocessor.
type preprocessorTestCase struct {
	name     string
	input    string
	expected string
}

func runPreprocessorTests(t *testing.T, tests []preprocessorTestCase) {
	t.Helper()

	preprocessor := text.NewPreprocessor()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result := preprocessor.Normalize(testCase.input)
			if result != testCase.expected {
				t.Errorf("Expected %q, got %q", testCase.expected, result)
			}
		})
	}
}

func TestPreprocessor_Normalize_EmptyInput(t *testing.T) {
	t.Parallel()

	preprocessor := text.NewPreprocessor()

	if result := preprocessor.Normalize("  \n "); result != "" {
		t.Errorf("Expected empty string for blank input, got %q", result)
	}
}

func TestPreprocessor_Normalize_Markdown(t *testing.T) {
	t.Parallel()

	tests := []preprocessorTestCase{
		{
			name:     "Bold markers",
			input:    "**Warning:** keep out.",
			expected: "Warning: keep out.",
		},
		{
			name:     "Heading and bullets",
			input:    "# Menu\n- Soup of the day.\n- Bread.",
			expected: "Menu Soup of the day. Bread.",
		},
	}
	runPreprocessorTests(t, tests)
}

func TestPreprocessor_Normalize_AbbreviationExpansion(t *testing.T) {
	t.Parallel()

	tests := []preprocessorTestCase{
		{
			name:     "Dr expansion",
			input:    "Dr. Johnson is in.",
			expected: "Doctor Johnson is in.",
		},
		{
			name:     "Multiple abbreviations",
			input:    "Mr. and Mrs. Smith",
			expected: "Mister and Misses Smith",
		},
		{
			name:     "Abbreviation at the end",
			input:    "Future Tech Inc.",
			expected: "Future Tech Incorporated",
		},
	}
	runPreprocessorTests(t, tests)
}

func TestPreprocessor_Normalize_Punctuation(t *testing.T) {
	t.Parallel()

	tests := []preprocessorTestCase{
		{
			name:     "Smart quotes",
			input:    "“Hello” she said ‘quietly’",
			expected: `"Hello" she said 'quietly'`,
		},
		{
			name:     "Ellipsis character and whitespace",
			input:    "Wait…\n\n\tthen   go",
			expected: "Wait... then go",
		},
	}
	runPreprocessorTests(t, tests)
}

func TestPreprocessor_NormalizedTextSegmentsOnRealSentences(t *testing.T) {
	t.Parallel()

	preprocessor := text.NewPreprocessor()
	units := text.Segment(preprocessor.Normalize("Dr. Smith arrived. He sat down."))

	if len(units) != 2 {
		t.Fatalf("Expected 2 units, got %d: %+v", len(units), units)
	}

	if units[0].Text != "Doctor Smith arrived." {
		t.Errorf("Unexpected first unit %q", units[0].Text)
	}
}
