package chunker

import (
	"strings"
)

// CleanText normalizes document text before chunking and storage:
// CRLF becomes LF, trailing whitespace is stripped per line, runs of
// spaces and tabs collapse to a single space, and runs of three or more
// newlines collapse to one blank line. Paragraph structure survives so
// paragraph-boundary chunking still works on the cleaned text.
func CleanText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = collapseSpaces(strings.TrimRight(line, " \t"))
	}
	content = strings.Join(lines, "\n")

	// Cap consecutive newlines at two (one blank line).
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(content)
}

// collapseSpaces reduces runs of spaces and tabs to a single space.
func collapseSpaces(line string) string {
	var sb strings.Builder
	sb.Grow(len(line))
	prevSpace := false
	for i := 0; i < len(line); i++ {
		b := line[i]
		if b == ' ' || b == '\t' {
			if !prevSpace {
				sb.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		sb.WriteByte(b)
	}
	return sb.String()
}
