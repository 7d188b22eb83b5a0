// Package htmldom is an in-memory dom.Page backed by goquery. Interactions
// mutate the parsed tree and are recorded so callers can inspect them.
package htmldom

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"webtestflow/replayer/internal/dom"
)

// HighlightAttr is set on an element while it is highlighted.
const HighlightAttr = "data-flow-highlight"

// Dispatched is one interaction performed against the document.
type Dispatched struct {
	Key  string
	Tag  string
	Type string
}

type Document struct {
	doc *goquery.Document
	url string

	mu      sync.Mutex
	keys    map[*html.Node]string
	nextKey int
	events  []Dispatched
	focused *html.Node
}

func Parse(r io.Reader, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{doc: doc, url: pageURL, keys: make(map[*html.Node]string)}, nil
}

func MustParse(markup, pageURL string) *Document {
	d, err := Parse(strings.NewReader(markup), pageURL)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	sel := d.doc.FindMatcher(matcher)
	out := make([]dom.Element, 0, sel.Length())
	for _, n := range sel.Nodes {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

// MustFind returns the single element matching selector, panicking otherwise.
func (d *Document) MustFind(selector string) dom.Element {
	els, err := d.QueryAll(context.Background(), selector)
	if err != nil || len(els) != 1 {
		panic(fmt.Sprintf("htmldom: %q matched %d elements (err=%v)", selector, len(els), err))
	}
	return els[0]
}

func (d *Document) URL(ctx context.Context) (string, error) {
	return d.url, nil
}

// Navigate replaces the document URL, as a same-document navigation would.
func (d *Document) Navigate(pageURL string) {
	d.url = pageURL
}

func (d *Document) Title(ctx context.Context) (string, error) {
	return strings.TrimSpace(d.doc.Find("title").First().Text()), nil
}

// Events returns a copy of the interactions recorded so far.
func (d *Document) Events() []Dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dispatched(nil), d.events...)
}

func (d *Document) record(n *html.Node, eventType string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, Dispatched{Key: d.keyLocked(n), Tag: n.Data, Type: eventType})
}

func (d *Document) key(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keyLocked(n)
}

func (d *Document) keyLocked(n *html.Node) string {
	if k, ok := d.keys[n]; ok {
		return k
	}
	d.nextKey++
	k := "node-" + strconv.Itoa(d.nextKey)
	d.keys[n] = k
	return k
}

func (d *Document) wrap(n *html.Node) *Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return &Element{doc: d, node: n}
}

func (d *Document) labelFor(id string) string {
	if id == "" {
		return ""
	}
	text := ""
	d.doc.Find("label").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("for"); ok && v == id {
			text = strings.TrimSpace(s.Text())
			return false
		}
		return true
	})
	return text
}
