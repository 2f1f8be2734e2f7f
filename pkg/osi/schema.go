package osi

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// RequiredSections lists the top-level sections every final record must carry.
var RequiredSections = []string{
	"artgEntry",
	"products",
	"permittedIndications",
	"warnings",
	"dosageInformation",
	"allergenInformation",
	"components",
	"documentInformation",
}

// ArtgStatuses are the accepted values of artgEntry.status.
var ArtgStatuses = []string{"Current", "Active", "Suspended", "Cancelled"}

//go:embed record.schema.json
var recordSchemaJSON []byte

// notBlank is the pattern the schema uses for mandatory text.
const notBlank = `\S`

var recordSchema = mustSchema(recordSchemaJSON)

func mustSchema(doc []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("osi: record schema: %v", err))
	}
	return s
}

// ValidateSchema checks doc against the structural contract of an OSI record.
// Every violation is reported, sorted by field.
func ValidateSchema(doc any) Result {
	c := &collector{}
	if _, ok := doc.(map[string]any); !ok {
		c.add("", "record must be an object", doc)
		return c.result()
	}
	res, err := recordSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		c.add("", "record cannot be read: "+err.Error(), nil)
		return c.result()
	}
	errs := res.Errors()
	sort.SliceStable(errs, func(i, j int) bool {
		return fieldOf(errs[i]) < fieldOf(errs[j])
	})
	for _, e := range errs {
		message, value := describe(e)
		c.add(fieldOf(e), message, value)
	}
	return c.result()
}

// fieldOf renders the instance location of e in dotted notation with array
// indices, e.g. components[0].activeIngredients[1].quantity. Missing and
// unexpected properties are reported on the property itself.
func fieldOf(e gojsonschema.ResultError) string {
	var b strings.Builder
	for _, part := range strings.Split(e.Context().String(), ".") {
		switch {
		case part == gojsonschema.STRING_CONTEXT_ROOT:
		case isIndex(part):
			b.WriteString("[" + part + "]")
		default:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(part)
		}
	}
	switch e.Type() {
	case "required", "additional_property_not_allowed":
		if p, ok := e.Details()["property"].(string); ok {
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(p)
		}
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// describe maps a schema violation onto the message and offending value
// reported to submitters.
func describe(e gojsonschema.ResultError) (string, any) {
	d := e.Details()
	switch e.Type() {
	case "required":
		return "is required", nil
	case "additional_property_not_allowed":
		return "is not an allowed property", e.Value()
	case "invalid_type":
		return fmt.Sprintf("must be of type %v", d["expected"]), e.Value()
	case "enum":
		return fmt.Sprintf("must be one of: %v", d["allowed"]), e.Value()
	case "array_min_items":
		return fmt.Sprintf("must contain at least %v item(s)", d["min"]), e.Value()
	case "pattern":
		if fmt.Sprint(d["pattern"]) == notBlank {
			return "must not be empty", e.Value()
		}
		return fmt.Sprintf("must match %v", d["pattern"]), e.Value()
	case "number_any_of":
		return "must be a string or an object with text", e.Value()
	default:
		return e.Description(), e.Value()
	}
}
