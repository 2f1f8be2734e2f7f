package osi

import "time"

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// validRecord returns a fresh record that passes final validation.
func validRecord() map[string]any {
	return map[string]any{
		"artgEntry": map[string]any{
			"registryNumber":    "AUST L 123456",
			"productName":       "Vitamin X",
			"type":              "Medicine",
			"sponsor":           "Acme Health Pty Ltd",
			"postalAddress":     "1 Example St, Sydney NSW 2000",
			"registryStartDate": "2021-03-15",
			"productCategory":   "Complementary",
			"status":            "Current",
			"approvalArea":      "Listed",
		},
		"products": []any{
			map[string]any{"productName": "Vitamin X", "productType": "Single", "effectiveDate": "2021-03-15"},
		},
		"permittedIndications": []any{
			map[string]any{"text": "Maintain general health", "evidenceNotes": "Traditional use"},
		},
		"warnings": []any{
			"If symptoms persist, talk to your health professional.",
			map[string]any{"text": "Contains sulfites", "type": "allergen", "source": "regulation"},
		},
		"dosageInformation": map[string]any{
			"adults":   "Take 1 tablet daily",
			"children": "Not recommended",
		},
		"allergenInformation": map[string]any{
			"containsAllergens":      []any{"soy"},
			"freeOfClaims":           []any{"gluten"},
			"allergenStatement":      "Contains soy",
			"crossContaminationRisk": nil,
		},
		"components": []any{
			map[string]any{
				"formulation":           "Tablet core",
				"dosageForm":            "Tablet, film coated",
				"routeOfAdministration": "Oral",
				"activeIngredients": []any{
					map[string]any{
						"name":         "Colecalciferol",
						"commonName":   "Vitamin D3",
						"quantity":     "25 microgram",
						"equivalentTo": "1000 IU",
					},
				},
				"excipients": []any{"Microcrystalline cellulose"},
			},
		},
		"documentInformation": map[string]any{
			"dataEntrySource": "Manufacturer",
			"dataEntryDate":   "2026-05-01",
			"version":         "1.0",
		},
	}
}

func section(doc map[string]any, name string) map[string]any {
	return doc[name].(map[string]any)
}

func firstComponent(doc map[string]any) map[string]any {
	return doc["components"].([]any)[0].(map[string]any)
}
