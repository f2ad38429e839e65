package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultBodyPath = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	openDocContentPath  = "content.xml"
)

var (
	// Override elements list PartName and ContentType in either order.
	docxPartName    = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	docxPartNameRev = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

	wParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	wText      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	aParagraph = regexp.MustCompile(`(?s)<a:p[ >].*?</a:p>`)
	aText      = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
	slideNum   = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

	odfBlock    = regexp.MustCompile(`(?s)<text:(p|h)(?:\s[^>]*)?>(.*?)</text:(?:p|h)>`)
	odfPageEnd  = regexp.MustCompile(`</draw:page>`)
	odfTableEnd = regexp.MustCompile(`</table:table>`)
	anyTag      = regexp.MustCompile(`<[^>]+>`)
)

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip archive: %w", err)
	}
	return zr, nil
}

// readZipFile returns the named entry, or nil when it does not exist.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// paragraphs joins the text runs of each paragraph and returns one line per
// non-empty paragraph.
func paragraphs(xml string, para, run *regexp.Regexp) []string {
	var lines []string
	for _, p := range para.FindAllString(xml, -1) {
		var b strings.Builder
		for _, m := range run.FindAllStringSubmatch(p, -1) {
			b.WriteString(m[1])
		}
		if line := strings.TrimSpace(html.UnescapeString(b.String())); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func docxBodyPath(zr *zip.Reader) string {
	ct, err := readZipFile(zr, contentTypesPath)
	if err != nil || ct == nil {
		return docxDefaultBodyPath
	}
	for _, re := range []*regexp.Regexp{docxPartName, docxPartNameRev} {
		if m := re.FindSubmatch(ct); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDefaultBodyPath
}

// extractDOCX returns the document body as a single page, one line per paragraph.
func extractDOCX(content []byte) ([]string, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}
	path := docxBodyPath(zr)
	body, err := readZipFile(zr, path)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}
	if body == nil {
		return nil, fmt.Errorf("extract DOCX: %s not found", path)
	}
	return []string{strings.Join(paragraphs(string(body), wParagraph, wText), "\n")}, nil
}

// extractPPTX returns one page per slide ordered by slide number.
func extractPPTX(content []byte) ([]string, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, fmt.Errorf("extract PPTX: %w", err)
	}
	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideNum.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	pages := make([]string, 0, len(slides))
	for _, s := range slides {
		data, err := readZipFile(zr, s.name)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		pages = append(pages, strings.Join(paragraphs(string(data), aParagraph, aText), "\n"))
	}
	return pages, nil
}

// extractODP returns one page per presentation page.
func extractODP(content []byte) ([]string, error) {
	return extractOpenDocument(content, "ODP", odfPageEnd)
}

// extractODS returns one page per spreadsheet table.
func extractODS(content []byte) ([]string, error) {
	return extractOpenDocument(content, "ODS", odfTableEnd)
}

func extractOpenDocument(content []byte, kind string, pageEnd *regexp.Regexp) ([]string, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", kind, err)
	}
	data, err := readZipFile(zr, openDocContentPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", kind, err)
	}
	if data == nil {
		return nil, fmt.Errorf("extract %s: %s not found", kind, openDocContentPath)
	}
	sections := pageEnd.Split(string(data), -1)
	// the tail after the last page end holds no page content
	if len(sections) > 1 {
		sections = sections[:len(sections)-1]
	}
	pages := make([]string, 0, len(sections))
	for _, section := range sections {
		var lines []string
		for _, m := range odfBlock.FindAllStringSubmatch(section, -1) {
			text := strings.TrimSpace(html.UnescapeString(anyTag.ReplaceAllString(m[2], "")))
			if text != "" {
				lines = append(lines, text)
			}
		}
		pages = append(pages, strings.Join(lines, "\n"))
	}
	return pages, nil
}
