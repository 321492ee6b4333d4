package iterative

import "strings"

// diffStats reports how many lines differ between two prompt versions and
// what share of the new version that is.
func diffStats(prev, current string) (int, float64) {
	lines := countDiffLines(prev, current)
	total := countLines(current)
	if total == 0 {
		return lines, 0
	}
	return lines, float64(lines) / float64(total) * 100
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

// countDiffLines compares line by line. Good enough for metrics; this is not
// a real diff.
func countDiffLines(prev, current string) int {
	prevLines := strings.Split(prev, "\n")
	currentLines := strings.Split(current, "\n")

	diffCount := 0
	for i := 0; i < max(len(prevLines), len(currentLines)); i++ {
		prevLine := ""
		currentLine := ""
		if i < len(prevLines) {
			prevLine = strings.TrimSpace(prevLines[i])
		}
		if i < len(currentLines) {
			currentLine = strings.TrimSpace(currentLines[i])
		}
		if prevLine != currentLine {
			diffCount++
		}
	}
	return diffCount
}
