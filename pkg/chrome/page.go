package chrome

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"webtestflow/replayer/internal/dom"
)

// Page is the document loaded in a chromedp tab.
type Page struct {
	tab context.Context
}

// NewPage wraps a chromedp tab context.
func NewPage(tab context.Context) *Page {
	return &Page{tab: tab}
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	if err := chromedp.Run(p.tab, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]dom.Element, 0, len(nodes))
	for _, node := range nodes {
		el, err := p.describe(node)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	err := chromedp.Run(p.tab, chromedp.Location(&url))
	return url, err
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := chromedp.Run(p.tab, chromedp.Title(&title))
	return title, err
}

// describe resolves node to a remote object and reads its descriptor, with
// ancestors, in a single call.
func (p *Page) describe(node *cdp.Node) (*Element, error) {
	var desc descriptor
	var objectID cdpruntime.RemoteObjectID
	err := chromedp.Run(p.tab, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := cdpdom.ResolveNode().WithBackendNodeID(node.BackendNodeID).Do(ctx)
		if err != nil {
			return err
		}
		objectID = obj.ObjectID
		res, exc, err := cdpruntime.CallFunctionOn(describeJS).
			WithObjectID(objectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("describe node: %s", exc.Text)
		}
		return json.Unmarshal(res.Value, &desc)
	}))
	if err != nil {
		return nil, fmt.Errorf("describe node %d: %w", node.BackendNodeID, err)
	}
	return newElement(p, objectID, fmt.Sprintf("node-%d", node.BackendNodeID), &desc), nil
}

// call runs fn with this bound to the remote object.
func (p *Page) call(ctx context.Context, objectID cdpruntime.RemoteObjectID, fn string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(p.tab, chromedp.ActionFunc(func(ctx context.Context) error {
		_, exc, err := cdpruntime.CallFunctionOn(fn).WithObjectID(objectID).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			msg := exc.Text
			if exc.Exception != nil && exc.Exception.Description != "" {
				msg = exc.Exception.Description
			}
			return fmt.Errorf("%s", msg)
		}
		return nil
	}))
}

const describeJS = `function() {
	function d(el, depth) {
		if (!el || el.nodeType !== 1) return null;
		var attrs = {};
		for (var i = 0; i < el.attributes.length; i++) attrs[el.attributes[i].name] = el.attributes[i].value;
		var index = 0, same = 0, p = el.parentElement;
		if (p) {
			for (var c = p.firstElementChild, n = 1; c; c = c.nextElementSibling, n++) {
				if (c === el) index = n;
				if (c.tagName === el.tagName) same++;
			}
		}
		var out = {
			tag: el.tagName.toLowerCase(),
			attrs: attrs,
			classes: Array.prototype.slice.call(el.classList),
			index: index,
			sameTag: same,
			parent: depth < 12 ? d(el.parentElement, depth + 1) : null
		};
		if (depth === 0) {
			var label = el.getAttribute('aria-label') || '';
			if (!label && el.labels && el.labels.length) label = el.labels[0].innerText || '';
			out.text = (el.innerText || el.textContent || '').slice(0, 2000);
			out.label = label;
			out.value = typeof el.value === 'string' ? el.value : '';
			out.checked = !!el.checked;
		}
		return out;
	}
	return d(this, 0);
}`
