package generation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceRe  = regexp.MustCompile("(?s)```.*?```")
	headerRe = regexp.MustCompile(`(?m)^#{1,6}\s.*$`)
	wordRe   = regexp.MustCompile(`[\p{L}\p{N}'-]+`)
)

// CountWords counts prose words in markdown text. Headers, code fences,
// and YAML front matter are structural, not prose, so they are stripped
// before counting.
func CountWords(text string) int {
	return len(wordRe.FindAllString(stripMarkup(text), -1))
}

func stripMarkup(text string) string {
	text = stripFrontMatter(text)
	text = fenceRe.ReplaceAllString(text, "")
	text = headerRe.ReplaceAllString(text, "")
	return text
}

// stripFrontMatter removes a leading YAML front-matter block delimited
// by "---" lines.
func stripFrontMatter(text string) string {
	trimmed := strings.TrimLeft(text, "\n")
	if !strings.HasPrefix(trimmed, "---\n") && trimmed != "---" {
		return text
	}
	rest := strings.TrimPrefix(trimmed, "---\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return text
	}
	rest = rest[end+len("\n---"):]
	if i := strings.Index(rest, "\n"); i >= 0 {
		return rest[i+1:]
	}
	return ""
}

// ValidateWordCount reports whether the text's word count falls inside
// [min, max], along with the count and a human-readable verdict.
func ValidateWordCount(text string, target, min, max int) (bool, int, string) {
	count := CountWords(text)
	deviation := 0.0
	if target > 0 {
		deviation = float64(count-target) / float64(target) * 100
	}
	switch {
	case count < min:
		return false, count, fmt.Sprintf("%d words, below minimum %d (%.1f%% off target %d)", count, min, deviation, target)
	case count > max:
		return false, count, fmt.Sprintf("%d words, above maximum %d (%.1f%% off target %d)", count, max, deviation, target)
	default:
		return true, count, fmt.Sprintf("%d words, within [%d, %d] (%.1f%% off target %d)", count, min, max, deviation, target)
	}
}
