package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	cdpruntime "github.com/chromedp/cdproto/runtime"

	"webtestflow/replayer/internal/dom"
)

const highlightAttr = "data-flow-highlight"

type descriptor struct {
	Tag     string            `json:"tag"`
	Attrs   map[string]string `json:"attrs"`
	Classes []string          `json:"classes"`
	Index   int               `json:"index"`
	SameTag int               `json:"sameTag"`
	Parent  *descriptor       `json:"parent"`
	Text    string            `json:"text"`
	Label   string            `json:"label"`
	Value   string            `json:"value"`
	Checked bool              `json:"checked"`
}

// Element is a snapshot of a live element's state plus a handle for acting
// on it. Ancestors are read-only: their actions return dom.ErrDetached.
type Element struct {
	page     *Page
	objectID cdpruntime.RemoteObjectID
	key      string
	desc     *descriptor
}

func newElement(p *Page, objectID cdpruntime.RemoteObjectID, key string, desc *descriptor) *Element {
	return &Element{page: p, objectID: objectID, key: key, desc: desc}
}

func (e *Element) IsNil() bool { return e == nil || e.desc == nil }

func (e *Element) TagName() string { return e.desc.Tag }

func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.desc.Attrs[name]
	return v, ok
}

func (e *Element) Text() string      { return e.desc.Text }
func (e *Element) Label() string     { return e.desc.Label }
func (e *Element) Value() string     { return e.desc.Value }
func (e *Element) Checked() bool     { return e.desc.Checked }
func (e *Element) Classes() []string { return e.desc.Classes }
func (e *Element) Key() string       { return e.key }

func (e *Element) ChildIndex() (int, int) { return e.desc.Index, e.desc.SameTag }

func (e *Element) Parent() dom.Element {
	if e.desc.Parent == nil {
		return nil
	}
	return &Element{page: e.page, key: e.key + "/..", desc: e.desc.Parent}
}

func (e *Element) Focus(ctx context.Context) error {
	return e.call(ctx, `function() { this.focus(); }`)
}

func (e *Element) SetValue(ctx context.Context, value string) error {
	v, _ := json.Marshal(value)
	return e.call(ctx, fmt.Sprintf(`function() {
	var v = %s;
	if (this.disabled) throw new Error('element is disabled');
	if (this.tagName === 'SELECT') {
		var found = false;
		for (var i = 0; i < this.options.length; i++) {
			if (this.options[i].value === v || this.options[i].text === v) { this.selectedIndex = i; found = true; break; }
		}
		if (!found) throw new Error('no option ' + v);
		return;
	}
	var proto = Object.getPrototypeOf(this);
	var setter = Object.getOwnPropertyDescriptor(proto, 'value');
	if (setter && setter.set) setter.set.call(this, v); else this.value = v;
}`, v))
}

func (e *Element) Dispatch(ctx context.Context, eventType string) error {
	t, _ := json.Marshal(eventType)
	return e.call(ctx, fmt.Sprintf(`function() { this.dispatchEvent(new Event(%s, {bubbles: true})); }`, t))
}

func (e *Element) Click(ctx context.Context) error {
	return e.call(ctx, `function() {
	if (this.disabled) throw new Error('element is disabled');
	this.scrollIntoView({block: 'center', inline: 'center'});
	this.click();
}`)
}

func (e *Element) Submit(ctx context.Context) error {
	if !strings.EqualFold(e.desc.Tag, "form") {
		return fmt.Errorf("cannot submit <%s>", e.desc.Tag)
	}
	return e.call(ctx, `function() {
	if (typeof this.requestSubmit === 'function') this.requestSubmit();
	else this.submit();
}`)
}

func (e *Element) Highlight(ctx context.Context) (func(), error) {
	err := e.call(ctx, `function() {
	this.setAttribute('`+highlightAttr+`', this.style.outline || '');
	this.style.outline = '3px solid #f59e0b';
}`)
	if err != nil {
		return func() {}, err
	}
	return func() {
		_ = e.call(context.Background(), `function() {
	this.style.outline = this.getAttribute('`+highlightAttr+`') || '';
	this.removeAttribute('`+highlightAttr+`');
}`)
	}, nil
}

func (e *Element) call(ctx context.Context, fn string) error {
	if e.objectID == "" {
		return dom.ErrDetached
	}
	return e.page.call(ctx, e.objectID, fn)
}
