package indexer

import (
	"strings"
	"unicode"
)

// Preprocess tidies extracted text: horizontal whitespace runs become one
// space, lines are trimmed, and runs of blank lines collapse to one.
// Newlines are kept so the chunker can cut on them.
func Preprocess(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var b strings.Builder
	blank := 0
	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			blank++
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if blank > 0 {
				b.WriteByte('\n')
			}
		}
		b.WriteString(line)
		blank = 0
	}
	return b.String()
}

func collapseSpaces(line string) string {
	var b strings.Builder
	wasSpace := false
	for _, r := range strings.TrimSpace(line) {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
			continue
		}
		b.WriteRune(r)
		wasSpace = false
	}
	return b.String()
}
