package recorder

import (
	"webtestflow/replayer/internal/dom"
	"webtestflow/replayer/internal/models"
	"webtestflow/replayer/internal/snapshot"
)

// Payload extracts the category-specific fields of an interaction.
func Payload(category models.Category, in Interaction) map[string]interface{} {
	payload := make(map[string]interface{})
	el := in.Target
	switch category {
	case models.CategoryNavigate:
		payload["url"] = in.URL
		if in.Title != "" {
			payload["title"] = snapshot.Truncate(in.Title, snapshot.MaxNameLength)
		}
	case models.CategoryClick:
		payload["button"] = in.Button
		if !dom.IsNil(el) {
			payload["text"] = snapshot.Truncate(snapshot.AccessibleName(el), snapshot.MaxNameLength)
		}
	case models.CategoryInput:
		if dom.IsNil(el) {
			break
		}
		name, _ := el.Attr("name")
		payload["name"] = snapshot.Truncate(name, snapshot.MaxNameLength)
		payload["type"] = fieldType(el)
		payload["value"] = fieldValue(el)
	case models.CategorySubmit:
		if dom.IsNil(el) {
			break
		}
		if action, ok := el.Attr("action"); ok {
			payload["action"] = snapshot.Truncate(action, snapshot.MaxTextLength)
		}
		method, _ := el.Attr("method")
		if method == "" {
			method = "get"
		}
		payload["method"] = method
	case models.CategoryKey:
		payload["key"] = in.Key
	}
	return payload
}

func fieldType(el dom.Element) string {
	if el.TagName() == "input" {
		return dom.InputType(el)
	}
	return el.TagName()
}

// fieldValue never returns a password, and returns checkbox and radio state
// as a bool.
func fieldValue(el dom.Element) interface{} {
	switch fieldType(el) {
	case "password":
		return RedactedValue
	case "checkbox", "radio":
		return el.Checked()
	}
	return snapshot.Truncate(el.Value(), snapshot.MaxTextLength)
}
