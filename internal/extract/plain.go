package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain returns content as a single page. Invalid UTF-8 sequences are
// replaced with the replacement character.
func extractPlain(content []byte) ([]string, error) {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\ufffd")
	}
	return []string{s}, nil
}
