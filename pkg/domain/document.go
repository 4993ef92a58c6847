package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Document is an arbitrary structured JSON-style document.
type Document map[string]any

// Get walks the document along path and returns the value found there.
func (d Document) Get(path ...string) (any, bool) {
	if len(path) == 0 {
		return map[string]any(d), d != nil
	}
	var cur any = map[string]any(d)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path, creating intermediate objects as needed. It
// fails when an intermediate value exists and is not an object.
func (d Document) Set(path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("empty document path")
	}
	cur := map[string]any(d)
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key]
		if !ok {
			child := map[string]any{}
			cur[key] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("document path %v blocked by non-object value", path)
		}
		cur = child
	}
	cur[path[len(path)-1]] = value
	return nil
}

// Clone returns a deep copy of the document via a JSON round trip. The copy
// is also normalized: all numbers become float64 and all maps become
// map[string]any, matching what a store read would produce.
func (d Document) Clone() Document {
	return NormalizeDocument(d)
}

// NormalizeDocument rewrites a document into canonical JSON-decoded form so
// that structurally equal documents compare equal regardless of how their Go
// values were produced.
func NormalizeDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		// Documents originate from JSON decoding; a marshal failure means a
		// caller smuggled in a non-JSON value.
		panic(fmt.Sprintf("normalize document: %v", err))
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("normalize document: %v", err))
	}
	return out
}

// CheckDocUnchanged verifies that the incoming document is structurally
// identical to the stored one. A mismatch is a ConflictError naming the
// offending record; matching documents are a no-op.
func CheckDocUnchanged(existing, incoming Document, label string) error {
	if reflect.DeepEqual(NormalizeDocument(existing), NormalizeDocument(incoming)) {
		return nil
	}
	return &ConflictError{Label: label}
}

// ValidateMetadataTypeDefinition performs the structural checks the engine
// requires of a metadata type definition: a name, and a dataset block
// declaring id/sources offsets plus a search_fields mapping.
func ValidateMetadataTypeDefinition(definition Document) error {
	name, ok := definition["name"].(string)
	if !ok || name == "" {
		return &InvalidDocumentError{Reason: "metadata type definition requires a non-empty name"}
	}
	dataset, ok := definition["dataset"].(map[string]any)
	if !ok {
		return &InvalidDocumentError{Reason: fmt.Sprintf("metadata type %s requires a dataset block", name)}
	}
	for _, key := range []string{"id", "sources"} {
		if _, err := documentPath(dataset[key]); err != nil {
			return &InvalidDocumentError{Reason: fmt.Sprintf("metadata type %s dataset.%s: %v", name, key, err)}
		}
	}
	if _, ok := dataset["search_fields"].(map[string]any); !ok {
		return &InvalidDocumentError{Reason: fmt.Sprintf("metadata type %s requires dataset.search_fields", name)}
	}
	return nil
}

// ValidateProductDefinition performs the structural checks the engine
// requires of a product definition: a name, a metadata_type reference (name
// or embedded definition), and a metadata document template.
func ValidateProductDefinition(definition Document) error {
	name, ok := definition["name"].(string)
	if !ok || name == "" {
		return &InvalidDocumentError{Reason: "product definition requires a non-empty name"}
	}
	switch definition["metadata_type"].(type) {
	case string, map[string]any:
	default:
		return &InvalidDocumentError{Reason: fmt.Sprintf("product %s requires metadata_type as a name or embedded definition", name)}
	}
	if _, ok := definition["metadata"].(map[string]any); !ok {
		return &InvalidDocumentError{Reason: fmt.Sprintf("product %s requires a metadata document", name)}
	}
	return nil
}

// ParseDatasetSection reads the id/sources/label offsets out of a metadata
// type definition. Validation must have succeeded beforehand.
func ParseDatasetSection(definition Document) (DatasetSection, error) {
	dataset, _ := definition["dataset"].(map[string]any)
	idPath, err := documentPath(dataset["id"])
	if err != nil {
		return DatasetSection{}, &InvalidDocumentError{Reason: fmt.Sprintf("dataset.id: %v", err)}
	}
	sourcesPath, err := documentPath(dataset["sources"])
	if err != nil {
		return DatasetSection{}, &InvalidDocumentError{Reason: fmt.Sprintf("dataset.sources: %v", err)}
	}
	section := DatasetSection{IDPath: idPath, SourcesPath: sourcesPath}
	if raw, ok := dataset["label"]; ok {
		labelPath, err := documentPath(raw)
		if err != nil {
			return DatasetSection{}, &InvalidDocumentError{Reason: fmt.Sprintf("dataset.label: %v", err)}
		}
		section.LabelPath = labelPath
	}
	return section, nil
}

// DocumentPath coerces a decoded JSON value into a document offset: either a
// single key or a list of keys.
func DocumentPath(raw any) ([]string, error) {
	return documentPath(raw)
}

func documentPath(raw any) ([]string, error) {
	switch t := raw.(type) {
	case string:
		return []string{t}, nil
	case []any:
		if len(t) == 0 {
			return nil, fmt.Errorf("offset must not be empty")
		}
		path := make([]string, 0, len(t))
		for _, el := range t {
			s, ok := el.(string)
			if !ok {
				return nil, fmt.Errorf("offset element %v is not a string", el)
			}
			path = append(path, s)
		}
		return path, nil
	case []string:
		if len(t) == 0 {
			return nil, fmt.Errorf("offset must not be empty")
		}
		return t, nil
	default:
		return nil, fmt.Errorf("offset must be a key or list of keys, got %T", raw)
	}
}
