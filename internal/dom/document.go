// Package dom holds the parsed document an isolate renders into. It is safe
// for concurrent use: the isolate mutates it while graders read it.
package dom

import (
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/felixgeelhaar/gradebox/internal/domain"
	"golang.org/x/net/html"
)

// Document is a goquery document guarded by a read/write lock.
type Document struct {
	mu  sync.RWMutex
	doc *goquery.Document
}

// Parse parses src as a full HTML document. Fragments are wrapped in the
// implied html/head/body elements by the HTML5 parser.
func Parse(src string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Compile compiles a CSS selector. goquery's Find silently matches nothing
// for an invalid selector, so callers that must report bad selectors compile
// first.
func Compile(selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, err
	}
	return sel, nil
}

// QuerySelector returns the text content of the first element matching
// selector.
func (d *Document) QuerySelector(selector string) (string, bool, error) {
	m, err := Compile(selector)
	if err != nil {
		return "", false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	match := d.doc.FindMatcher(m).First()
	if match.Length() == 0 {
		return "", false, nil
	}
	return match.Text(), true, nil
}

// Read runs fn with shared access to the document.
func (d *Document) Read(fn func(doc *goquery.Document)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.doc)
}

// Write runs fn with exclusive access to the document.
func (d *Document) Write(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc)
}

// OuterHTML serializes the whole document.
func (d *Document) OuterHTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out, err := goquery.OuterHtml(d.doc.Selection)
	if err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return out, nil
}

// Snapshot captures the serialized document for graders that run after the
// isolate is gone.
func (d *Document) Snapshot() (domain.DOMSnapshot, error) {
	out, err := d.OuterHTML()
	if err != nil {
		return nil, err
	}
	return domain.DOMSnapshot{"html": out}, nil
}

// Scripts returns the text of every <script> element in document order,
// skipping scripts with a src attribute or a non-JavaScript type.
func (d *Document) Scripts() []Script {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var scripts []Script
	d.doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if _, ok := s.Attr("src"); ok {
			return
		}
		if typ, ok := s.Attr("type"); ok && !isJavaScriptType(typ) {
			return
		}
		name := s.AttrOr("data-name", fmt.Sprintf("script-%d.js", i+1))
		scripts = append(scripts, Script{Name: name, Source: s.Text()})
	})
	return scripts
}

// Script is an inline script extracted from a document.
type Script struct {
	Name   string
	Source string
}

func isJavaScriptType(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "module":
		return true
	}
	return false
}

// Selection wraps a single node, attached or not, in a goquery selection.
func Selection(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

// TextContent returns the concatenated text of n and its descendants.
func TextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	return Selection(n).Text()
}

var _ domain.DocumentQuerier = (*Document)(nil)
