package pagemarker

import (
	"fmt"
	"regexp"
	"strconv"
)

// Extracted text demarcates page boundaries with literal markers of the
// form "--- Page 7 ---". These markers are the only mechanism that maps a
// chunk back to its source pages.

var markerRe = regexp.MustCompile(`--- Page (\d+) ---`)

// Format renders the marker for a page number, matching what remote
// extractors embed in uploaded text.
func Format(page int) string {
	return fmt.Sprintf("--- Page %d ---", page)
}

// First returns the first page marker found in text.
func First(text string) (int, bool) {
	m := markerRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// All returns every page number marked in text, in order of appearance,
// duplicates included.
func All(text string) []int {
	ms := markerRe.FindAllStringSubmatch(text, -1)
	if len(ms) == 0 {
		return nil
	}
	out := make([]int, 0, len(ms))
	for _, m := range ms {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out = append(out, n)
		}
	}
	return out
}
