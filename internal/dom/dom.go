// Package dom defines the page surface the in-page agent works against. A live
// Chrome tab (pkg/chrome) and an in-memory document (dom/htmldom) both satisfy it.
package dom

import (
	"context"
	"errors"
	"strings"
)

// ErrDetached is returned by interaction methods on elements that no longer
// have a live counterpart, such as ancestors captured as part of a descriptor.
var ErrDetached = errors.New("element is detached from the page")

// Element is a single element of the page.
type Element interface {
	// TagName returns the lower-case tag name.
	TagName() string
	Attr(name string) (string, bool)
	// Text returns the rendered text of the element and its descendants.
	Text() string
	// Label returns an explicit accessible label (aria-label or an associated
	// <label>), or "" when the element has none.
	Label() string
	Value() string
	Checked() bool
	Classes() []string
	Parent() Element
	// ChildIndex is the 1-based position among element siblings, as used by
	// :nth-child, and the number of siblings sharing the tag name.
	ChildIndex() (index int, sameTag int)
	// Key identifies the element within the page load.
	Key() string

	Focus(ctx context.Context) error
	SetValue(ctx context.Context, value string) error
	// Dispatch fires a bubbling DOM event of the given type.
	Dispatch(ctx context.Context, eventType string) error
	Click(ctx context.Context) error
	Submit(ctx context.Context) error
	// Highlight marks the element visually; the returned func removes the mark.
	Highlight(ctx context.Context) (release func(), err error)
}

// Page is the document currently loaded in the tab.
type Page interface {
	// QueryAll returns every element matching a CSS selector. Malformed
	// selectors yield an error.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
}

// ID returns the element's id attribute, or "".
func ID(el Element) string {
	v, _ := el.Attr("id")
	return v
}

// InputType returns the lower-case type attribute of an input, defaulting to "text".
func InputType(el Element) string {
	v, ok := el.Attr("type")
	if !ok || v == "" {
		return "text"
	}
	return strings.ToLower(v)
}

// IsNil reports whether el is nil or a typed nil.
func IsNil(el Element) bool {
	if el == nil {
		return true
	}
	if n, ok := el.(interface{ IsNil() bool }); ok {
		return n.IsNil()
	}
	return false
}
