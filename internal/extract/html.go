package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockSelector lists elements whose text starts on a new line.
const blockSelector = "p, li, h1, h2, h3, h4, h5, h6, pre, blockquote, td, th, dt, dd"

func extractHTML(content []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	var lines []string
	blocks := doc.Find("body").Find(blockSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		// nested blocks are emitted by their outermost block
		return s.ParentsFiltered(blockSelector).Length() == 0
	})
	blocks.Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		if text := strings.Join(strings.Fields(doc.Find("body").Text()), " "); text != "" {
			lines = append(lines, text)
		}
	}
	return []string{strings.Join(lines, "\n")}, nil
}
