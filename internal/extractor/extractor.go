// Package extractor derives article fields from raw page markup.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/clipstream/clipstream/internal/news"
)

// ErrNoTitle is returned when the document has no title element. A title-less
// page is an extraction failure, not a degraded success.
var ErrNoTitle = errors.New("document has no title element")

// Extractor implements news.Extractor using goquery.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses raw page bytes and returns title, body text and word count.
//
// The word count splits on single space characters without collapsing runs,
// so consecutive separators produce empty tokens that are counted: "a  b"
// yields 3. Stored counts depend on this exact semantic; do not switch to
// strings.Fields.
func (e *Extractor) Extract(raw []byte) (news.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return news.Extraction{}, fmt.Errorf("parse markup: %w", err)
	}

	title := doc.Find("title").First()
	if title.Length() == 0 {
		return news.Extraction{}, ErrNoTitle
	}

	content := strings.TrimSpace(doc.Find("body").Text())

	return news.Extraction{
		Title:     strings.TrimSpace(title.Text()),
		Content:   content,
		WordCount: len(strings.Split(content, " ")),
	}, nil
}
