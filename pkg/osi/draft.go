package osi

import "strings"

// DraftSections must be present (truthy) in every draft.
var DraftSections = []string{"artgEntry", "products", "components"}

// ValidateDraft applies the lenient checks used for in-progress submissions.
// Unknown properties and nested requiredness are not checked.
func ValidateDraft(doc any) Result {
	c := &collector{}
	m, ok := doc.(map[string]any)
	if !ok || m == nil {
		c.add("", "record must be an object", doc)
		return c.result()
	}
	for _, section := range DraftSections {
		if !truthy(m[section]) {
			c.add(section, "is required", m[section])
		}
	}
	if entry := m["artgEntry"]; truthy(entry) {
		var name any
		if obj, ok := entry.(map[string]any); ok {
			name = obj["productName"]
		}
		if s, ok := name.(string); !ok || strings.TrimSpace(s) == "" {
			c.add("artgEntry.productName", "is required", name)
		}
	}
	return c.result()
}

// truthy follows JSON-value truthiness: null, false, 0 and "" are falsy;
// empty arrays and objects are not.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}
