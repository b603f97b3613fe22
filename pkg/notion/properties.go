package notion

import (
	"strings"

	"github.com/jomei/notionapi"
)

// PlainValues flattens a page's properties into plain Go values keyed by
// property name: text-like properties become strings, numbers float64 and
// checkboxes bool. Empty properties and unsupported types are omitted.
func PlainValues(page notionapi.Page) map[string]any {
	out := make(map[string]any, len(page.Properties))
	for name, prop := range page.Properties {
		if v, ok := plainValue(prop); ok {
			out[name] = v
		}
	}
	return out
}

func plainValue(prop notionapi.Property) (any, bool) {
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return nonEmpty(joinText(p.Title))
	case *notionapi.RichTextProperty:
		return nonEmpty(joinText(p.RichText))
	case *notionapi.URLProperty:
		return nonEmpty(p.URL)
	case *notionapi.EmailProperty:
		return nonEmpty(p.Email)
	case *notionapi.PhoneNumberProperty:
		return nonEmpty(p.PhoneNumber)
	case *notionapi.SelectProperty:
		return nonEmpty(p.Select.Name)
	case *notionapi.StatusProperty:
		return nonEmpty(p.Status.Name)
	case *notionapi.NumberProperty:
		return p.Number, true
	case *notionapi.CheckboxProperty:
		return p.Checkbox, true
	}
	return nil, false
}

func joinText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range parts {
		if rt.PlainText != "" {
			b.WriteString(rt.PlainText)
		} else if rt.Text != nil {
			b.WriteString(rt.Text.Content)
		}
	}
	return b.String()
}

func nonEmpty(s string) (any, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}
