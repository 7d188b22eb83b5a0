package htmldom

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"webtestflow/replayer/internal/dom"
)

type Element struct {
	doc  *Document
	node *html.Node
}

var _ dom.Element = (*Element)(nil)

func (e *Element) IsNil() bool { return e == nil || e.node == nil }

func (e *Element) TagName() string { return e.node.Data }

func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Element) setAttr(name, value string) {
	for i, a := range e.node.Attr {
		if a.Key == name {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
}

func (e *Element) removeAttr(name string) {
	attrs := e.node.Attr[:0]
	for _, a := range e.node.Attr {
		if a.Key != name {
			attrs = append(attrs, a)
		}
	}
	e.node.Attr = attrs
}

func (e *Element) Text() string {
	return goquery.NewDocumentFromNode(e.node).Text()
}

func (e *Element) Label() string {
	if v, ok := e.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if text := e.doc.labelFor(dom.ID(e)); text != "" {
		return text
	}
	for p := e.node.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "label" {
			return strings.TrimSpace(goquery.NewDocumentFromNode(p).Text())
		}
	}
	return ""
}

func (e *Element) Value() string {
	switch e.node.Data {
	case "textarea":
		return e.Text()
	case "select":
		sel := goquery.NewDocumentFromNode(e.node).Find("option[selected]").First()
		if sel.Length() == 0 {
			sel = goquery.NewDocumentFromNode(e.node).Find("option").First()
		}
		if v, ok := sel.Attr("value"); ok {
			return v
		}
		return strings.TrimSpace(sel.Text())
	}
	v, _ := e.Attr("value")
	return v
}

func (e *Element) Checked() bool {
	_, ok := e.Attr("checked")
	return ok
}

func (e *Element) Classes() []string {
	v, _ := e.Attr("class")
	return strings.Fields(v)
}

func (e *Element) Parent() dom.Element {
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

func (e *Element) ChildIndex() (int, int) {
	p := e.node.Parent
	if p == nil {
		return 1, 1
	}
	index, sameTag, pos := 0, 0, 0
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		pos++
		if c == e.node {
			index = pos
		}
		if c.Data == e.node.Data {
			sameTag++
		}
	}
	return index, sameTag
}

func (e *Element) Key() string { return e.doc.key(e.node) }

func (e *Element) Focus(ctx context.Context) error {
	e.doc.mu.Lock()
	e.doc.focused = e.node
	e.doc.mu.Unlock()
	e.doc.record(e.node, "focus")
	return nil
}

// Focused reports whether the element currently holds focus.
func (e *Element) Focused() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.focused == e.node
}

func (e *Element) SetValue(ctx context.Context, value string) error {
	if _, disabled := e.Attr("disabled"); disabled {
		return fmt.Errorf("%s is disabled", e.node.Data)
	}
	switch e.node.Data {
	case "textarea":
		for c := e.node.FirstChild; c != nil; {
			next := c.NextSibling
			e.node.RemoveChild(c)
			c = next
		}
		e.node.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	case "select":
		found := false
		goquery.NewDocumentFromNode(e.node).Find("option").Each(func(_ int, s *goquery.Selection) {
			opt := &Element{doc: e.doc, node: s.Nodes[0]}
			v, ok := opt.Attr("value")
			if !ok {
				v = strings.TrimSpace(s.Text())
			}
			if v == value {
				opt.setAttr("selected", "")
				found = true
			} else {
				opt.removeAttr("selected")
			}
		})
		if !found {
			return fmt.Errorf("select has no option %q", value)
		}
	default:
		e.setAttr("value", value)
	}
	e.doc.record(e.node, "set-value")
	return nil
}

func (e *Element) Dispatch(ctx context.Context, eventType string) error {
	e.doc.record(e.node, eventType)
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	if _, disabled := e.Attr("disabled"); disabled {
		return fmt.Errorf("%s is disabled", e.node.Data)
	}
	e.doc.record(e.node, "click")
	return nil
}

func (e *Element) Submit(ctx context.Context) error {
	if e.node.Data != "form" {
		return fmt.Errorf("cannot submit %s", e.node.Data)
	}
	e.doc.record(e.node, "submit")
	return nil
}

func (e *Element) Highlight(ctx context.Context) (func(), error) {
	e.setAttr(HighlightAttr, "true")
	return func() { e.removeAttr(HighlightAttr) }, nil
}

// Highlighted reports whether the highlight mark is currently applied.
func (e *Element) Highlighted() bool {
	_, ok := e.Attr(HighlightAttr)
	return ok
}
