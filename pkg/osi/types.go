package osi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// SupplementRecord is the OSI data document submitted by a manufacturer.
type SupplementRecord struct {
	ArtgEntry            ArtgEntry           `json:"artgEntry"`
	Products             []Product           `json:"products"`
	PermittedIndications []Indication        `json:"permittedIndications"`
	Warnings             []Warning           `json:"warnings"`
	DosageInformation    DosageInformation   `json:"dosageInformation"`
	AllergenInformation  AllergenInformation `json:"allergenInformation"`
	Components           []Component         `json:"components"`
	DocumentInformation  DocumentInformation `json:"documentInformation"`
}

type ArtgEntry struct {
	RegistryNumber    string `json:"registryNumber"`
	ProductName       string `json:"productName"`
	Type              string `json:"type,omitempty"`
	Sponsor           string `json:"sponsor"`
	PostalAddress     string `json:"postalAddress,omitempty"`
	RegistryStartDate string `json:"registryStartDate,omitempty"`
	ProductCategory   string `json:"productCategory,omitempty"`
	Status            string `json:"status"`
	ApprovalArea      string `json:"approvalArea,omitempty"`
}

type Product struct {
	ProductName   string `json:"productName"`
	ProductType   string `json:"productType,omitempty"`
	EffectiveDate string `json:"effectiveDate,omitempty"`
}

// Indication is a permitted health claim.
type Indication struct {
	Text          string `json:"text"`
	EvidenceNotes string `json:"evidenceNotes,omitempty"`
}

type DosageInformation struct {
	Adults       string `json:"adults"`
	Children     string `json:"children,omitempty"`
	GeneralNotes string `json:"generalNotes,omitempty"`
}

type AllergenInformation struct {
	ContainsAllergens      []string `json:"containsAllergens,omitempty"`
	FreeOfClaims           []string `json:"freeOfClaims,omitempty"`
	AllergenStatement      string   `json:"allergenStatement,omitempty"`
	CrossContaminationRisk *bool    `json:"crossContaminationRisk"`
}

type Component struct {
	Formulation           string             `json:"formulation"`
	DosageForm            string             `json:"dosageForm"`
	RouteOfAdministration string             `json:"routeOfAdministration,omitempty"`
	VisualIdentification  string             `json:"visualIdentification,omitempty"`
	ActiveIngredients     []ActiveIngredient `json:"activeIngredients"`
	Excipients            []string           `json:"excipients"`
}

type ActiveIngredient struct {
	Name         string  `json:"name"`
	CommonName   string  `json:"commonName"`
	Quantity     string  `json:"quantity"`
	EquivalentTo *string `json:"equivalentTo"`
}

type DocumentInformation struct {
	DataEntrySource string `json:"dataEntrySource"`
	DataEntryDate   string `json:"dataEntryDate"`
	Version         string `json:"version"`
	Notes           string `json:"notes,omitempty"`
}

const (
	DefaultWarningType   = "general"
	DefaultWarningSource = "label"
)

// Warning is the canonical form of a label warning. Incoming warnings may be
// bare strings or objects; both decode into this shape.
type Warning struct {
	Text   string `json:"text"`
	Type   string `json:"type"`
	Source string `json:"source"`
}

// DecodeWarning converts a raw JSON warning (string or object) into its
// canonical form. ok is false when raw holds neither.
func DecodeWarning(raw []byte) (w Warning, ok bool) {
	r := gjson.ParseBytes(raw)
	switch {
	case r.Type == gjson.String:
		w.Text = r.String()
	case r.IsObject():
		text := r.Get("text")
		if text.Type != gjson.String {
			return Warning{}, false
		}
		w.Text = text.String()
		w.Type = r.Get("type").String()
		w.Source = r.Get("source").String()
	default:
		return Warning{}, false
	}
	w.Text = strings.TrimSpace(w.Text)
	if w.Type == "" {
		w.Type = DefaultWarningType
	}
	if w.Source == "" {
		w.Source = DefaultWarningSource
	}
	return w, true
}

func (w *Warning) UnmarshalJSON(data []byte) error {
	dec, ok := DecodeWarning(data)
	if !ok {
		return fmt.Errorf("warning must be a string or an object with text, got %s", gjson.ParseBytes(data).Type)
	}
	*w = dec
	return nil
}

// Decode converts a decoded JSON document into a typed record.
func Decode(doc any) (*SupplementRecord, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var rec SupplementRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// Canonicalize rewrites every decodable warning in doc into its canonical
// object form. Entries that cannot be decoded are left untouched so a later
// final validation still reports them.
func Canonicalize(doc any) any {
	m, ok := doc.(map[string]any)
	if !ok {
		return doc
	}
	items, ok := m["warnings"].([]any)
	if !ok {
		return doc
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			out = append(out, item)
			continue
		}
		w, ok := DecodeWarning(raw)
		if !ok {
			out = append(out, item)
			continue
		}
		out = append(out, map[string]any{"text": w.Text, "type": w.Type, "source": w.Source})
	}
	m["warnings"] = out
	return m
}

// ProductName returns artgEntry.productName from a decoded document, or "".
func ProductName(doc any) string {
	m, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	entry, ok := m["artgEntry"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := entry["productName"].(string)
	return strings.TrimSpace(name)
}

// Parse decodes raw JSON into the generic document form the validators expect.
func Parse(data []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return doc, nil
}
