// Package snapshot builds bounded structural descriptors of page elements.
// Snapshots are sent over the network and persisted, so every string that
// leaves this package is truncated.
package snapshot

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"webtestflow/replayer/internal/dom"
	"webtestflow/replayer/internal/models"
)

const (
	MaxNameLength = 200
	MaxTextLength = 400
	MaxPathDepth  = 6

	TruncationMarker = "…"

	// MarkerAttr is the custom test marker copied into snapshots.
	MarkerAttr = "data-testid"
)

// Build returns the snapshot of el, or nil when el is not a real element.
func Build(el dom.Element) *models.DomSnapshot {
	if dom.IsNil(el) {
		return nil
	}
	tag := el.TagName()
	if tag == "" {
		return nil
	}
	classes := append([]string{}, el.Classes()...)
	return &models.DomSnapshot{
		Tag:            tag,
		Attributes:     attributes(el),
		AccessibleName: AccessibleName(el),
		InnerText:      Truncate(normalizeSpace(el.Text()), MaxTextLength),
		ClassList:      classes,
		CSSPath:        CSSPath(el),
	}
}

func attributes(el dom.Element) map[string]string {
	attrs := make(map[string]string)
	for _, name := range []string{"id", "role", "type", MarkerAttr} {
		if v, ok := el.Attr(name); ok && v != "" {
			attrs[name] = Truncate(v, MaxNameLength)
		}
	}
	tag := el.TagName()
	if tag == "a" {
		if v, ok := el.Attr("href"); ok {
			attrs["href"] = Truncate(v, MaxTextLength)
		}
	}
	if isButton(el) {
		if v := el.Value(); v != "" {
			attrs["value"] = Truncate(v, MaxNameLength)
		}
	}
	return attrs
}

func isButton(el dom.Element) bool {
	switch el.TagName() {
	case "button":
		return true
	case "input":
		switch dom.InputType(el) {
		case "button", "submit", "reset":
			return true
		}
	}
	return false
}

// AccessibleName prefers an explicit label over the element's own text.
func AccessibleName(el dom.Element) string {
	if label := normalizeSpace(el.Label()); label != "" {
		return Truncate(label, MaxNameLength)
	}
	if isButton(el) && el.TagName() == "input" {
		return Truncate(el.Value(), MaxNameLength)
	}
	return Truncate(normalizeSpace(el.Text()), MaxNameLength)
}

// CSSPath walks at most MaxPathDepth levels up from el. The walk stops at the
// first element with an id, which anchors the path.
func CSSPath(el dom.Element) string {
	var parts []string
	cur := el
	for depth := 0; !dom.IsNil(cur) && depth < MaxPathDepth; depth++ {
		if id := dom.ID(cur); id != "" {
			parts = append(parts, "#"+escapeIdent(id))
			break
		}
		parts = append(parts, segment(cur))
		cur = cur.Parent()
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func segment(el dom.Element) string {
	var b strings.Builder
	b.WriteString(el.TagName())
	classes := el.Classes()
	if len(classes) > 2 {
		classes = classes[:2]
	}
	for _, c := range classes {
		b.WriteByte('.')
		b.WriteString(escapeIdent(c))
	}
	if index, sameTag := el.ChildIndex(); sameTag > 1 && index > 0 {
		b.WriteString(":nth-child(")
		b.WriteString(strconv.Itoa(index))
		b.WriteByte(')')
	}
	return b.String()
}

// escapeIdent escapes the characters that would break a CSS identifier.
func escapeIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-', r >= 0x80:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteString(`\3` + string(r) + " ")
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate cuts s to max runes and appends TruncationMarker when it did.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + TruncationMarker
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
