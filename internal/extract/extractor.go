// Package extract provides page-ordered text extraction from uploaded documents.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/kaiwa/internal/fileid"
	"github.com/hyperjump/kaiwa/internal/models"
)

// DefaultPageSeparator is inserted between pages and between documents.
const DefaultPageSeparator = "\n"

type pageFunc func(content []byte) ([]string, error)

var formats = map[string]pageFunc{
	".pdf":  extractPDF,
	".pptx": extractPPTX,
	".xlsx": extractExcel,
	".docx": extractDOCX,
	".odt":  extractWithCat,
	".rtf":  extractWithCat,
	".odp":  extractODP,
	".ods":  extractODS,
	".html": extractHTML,
	".htm":  extractHTML,
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
}

// SupportedExtensions returns the lower-case extensions (with leading dot) that can be extracted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// IsSupported reports whether ext (with leading dot, any case) can be extracted.
func IsSupported(ext string) bool {
	_, ok := formats[strings.ToLower(ext)]
	return ok
}

// Extractor turns documents into plain text.
type Extractor struct {
	separator string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPageSeparator sets the string placed between consecutive pages.
// An empty separator concatenates pages directly.
func WithPageSeparator(sep string) Option {
	return func(e *Extractor) { e.separator = sep }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{separator: DefaultPageSeparator}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Separator returns the page separator in use.
func (e *Extractor) Separator() string {
	return e.separator
}

// ExtractPages returns the text of each page of content, in page order.
// Pages without extractable text are returned as empty strings.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractPages(content []byte, ext string) ([]string, error) {
	fn, ok := formats[strings.ToLower(ext)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	return fn(content)
}

// Extract returns the full text of doc and its page count. Failures are
// returned as extraction errors naming the document.
func (e *Extractor) Extract(doc *models.Document) (string, int, error) {
	pages, err := e.ExtractPages(doc.Content, doc.Extension)
	if err != nil {
		return "", 0, models.NewExtractionError(doc.Name, err)
	}
	return strings.Join(pages, e.separator), len(pages), nil
}

// ReadDocument loads the file at path as an uploaded document.
func ReadDocument(path string) (*models.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return NewDocument(filepath.Base(path), content), nil
}

// NewDocument wraps uploaded bytes as a document. The ID is derived from
// name and content so re-uploading the same file yields the same ID.
func NewDocument(name string, content []byte) *models.Document {
	return &models.Document{
		ID:         fileid.ContentDocID(name, content),
		Name:       name,
		Extension:  strings.ToLower(filepath.Ext(name)),
		Size:       len(content),
		Content:    content,
		UploadedAt: time.Now(),
	}
}
