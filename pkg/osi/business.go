package osi

import (
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano}

// ValidateBusinessRules checks the cross-field invariants of a schema-valid
// record. now is the reference time for date sanity checks.
func ValidateBusinessRules(rec *SupplementRecord, now time.Time) Result {
	c := &collector{}
	if rec == nil {
		c.add("", "record must be an object", nil)
		return c.result()
	}

	ingredients := 0
	for _, comp := range rec.Components {
		ingredients += len(comp.ActiveIngredients)
	}
	if ingredients == 0 {
		c.add("components.activeIngredients", "at least one active ingredient is required", 0)
	}

	name := strings.TrimSpace(rec.ArtgEntry.ProductName)
	names := make([]string, 0, len(rec.Products))
	matched := false
	for _, p := range rec.Products {
		names = append(names, p.ProductName)
		if strings.TrimSpace(p.ProductName) == name {
			matched = true
		}
	}
	if !matched {
		c.add("products.productName", "artgEntry.productName "+strconv.Quote(name)+" must appear among products", names)
	}

	if raw := strings.TrimSpace(rec.ArtgEntry.RegistryStartDate); raw != "" {
		start, ok := parseDate(raw)
		switch {
		case !ok:
			c.add("artgEntry.registryStartDate", "must be a date (YYYY-MM-DD)", raw)
		case start.After(now):
			c.add("artgEntry.registryStartDate", "must not be in the future", raw)
		}
	}

	return c.result()
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
