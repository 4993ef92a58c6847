package domain

import (
	"errors"
	"testing"
)

func TestDocumentGetWalksNestedPath(t *testing.T) {
	doc := Document{"extent": map[string]any{"lat": map[string]any{"begin": -35.0}}}
	v, ok := doc.Get("extent", "lat", "begin")
	if !ok {
		t.Fatalf("expected value at extent.lat.begin")
	}
	if v != -35.0 {
		t.Fatalf("expected -35.0, got %v", v)
	}
	if _, ok := doc.Get("extent", "lon"); ok {
		t.Fatalf("expected missing path to report false")
	}
	if _, ok := doc.Get("extent", "lat", "begin", "deeper"); ok {
		t.Fatalf("expected path through scalar to report false")
	}
}

func TestDocumentSetCreatesIntermediateObjects(t *testing.T) {
	doc := Document{}
	if err := doc.Set([]string{"lineage", "source_datasets"}, map[string]any{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := doc.Get("lineage", "source_datasets"); !ok {
		t.Fatalf("expected value written at lineage.source_datasets")
	}
}

func TestDocumentSetBlockedByScalar(t *testing.T) {
	doc := Document{"lineage": "not-an-object"}
	if err := doc.Set([]string{"lineage", "source_datasets"}, map[string]any{}); err == nil {
		t.Fatalf("expected error for path through scalar")
	}
	if err := doc.Set(nil, 1); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestNormalizeDocumentCanonicalizesNumbers(t *testing.T) {
	a := NormalizeDocument(Document{"n": int(5), "nested": map[string]any{"x": int64(7)}})
	b := NormalizeDocument(Document{"n": 5.0, "nested": map[string]any{"x": 7.0}})
	if a["n"] != b["n"] {
		t.Fatalf("expected int and float to normalize equally, got %v vs %v", a["n"], b["n"])
	}
	if NormalizeDocument(nil) != nil {
		t.Fatalf("expected nil document to stay nil")
	}
}

func TestDocumentCloneIsDeep(t *testing.T) {
	doc := Document{"nested": map[string]any{"k": "v"}}
	clone := doc.Clone()
	clone["nested"].(map[string]any)["k"] = "changed"
	if doc["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("mutating the clone must not touch the original")
	}
}

func TestCheckDocUnchanged(t *testing.T) {
	stored := Document{"a": 1.0, "b": map[string]any{"c": "x"}}
	incoming := Document{"a": int(1), "b": map[string]any{"c": "x"}}
	if err := CheckDocUnchanged(stored, incoming, "metadata type eo"); err != nil {
		t.Fatalf("structurally equal documents must pass: %v", err)
	}
	incoming["a"] = 2
	err := CheckDocUnchanged(stored, incoming, "metadata type eo")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Label != "metadata type eo" {
		t.Fatalf("conflict must name the record, got %q", conflict.Label)
	}
}

func validMetadataTypeDefinition() Document {
	return Document{
		"name": "eo",
		"dataset": map[string]any{
			"id":      []any{"id"},
			"sources": []any{"lineage", "source_datasets"},
			"label":   []any{"label"},
			"search_fields": map[string]any{
				"platform": map[string]any{
					"type":   "string",
					"offset": []any{"platform", "code"},
				},
			},
		},
	}
}

func TestValidateMetadataTypeDefinition(t *testing.T) {
	if err := ValidateMetadataTypeDefinition(validMetadataTypeDefinition()); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}

	cases := map[string]func(Document){
		"missing name":          func(d Document) { delete(d, "name") },
		"missing dataset":       func(d Document) { delete(d, "dataset") },
		"missing id offset":     func(d Document) { delete(d["dataset"].(map[string]any), "id") },
		"missing search fields": func(d Document) { delete(d["dataset"].(map[string]any), "search_fields") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			def := validMetadataTypeDefinition()
			mutate(def)
			err := ValidateMetadataTypeDefinition(def)
			var invalid *InvalidDocumentError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidDocumentError, got %v", err)
			}
		})
	}
}

func TestValidateProductDefinition(t *testing.T) {
	def := Document{
		"name":          "ls8_scenes",
		"metadata_type": "eo",
		"metadata":      map[string]any{"product_type": "scene"},
	}
	if err := ValidateProductDefinition(def); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}
	def["metadata_type"] = 42
	if err := ValidateProductDefinition(def); err == nil {
		t.Fatalf("expected rejection of numeric metadata_type")
	}
}

func TestParseDatasetSection(t *testing.T) {
	section, err := ParseDatasetSection(validMetadataTypeDefinition())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(section.IDPath) != 1 || section.IDPath[0] != "id" {
		t.Fatalf("unexpected id path %v", section.IDPath)
	}
	if len(section.SourcesPath) != 2 || section.SourcesPath[1] != "source_datasets" {
		t.Fatalf("unexpected sources path %v", section.SourcesPath)
	}
	if len(section.LabelPath) != 1 {
		t.Fatalf("unexpected label path %v", section.LabelPath)
	}
}

func TestDocumentPath(t *testing.T) {
	if p, err := DocumentPath("id"); err != nil || len(p) != 1 {
		t.Fatalf("single key: %v %v", p, err)
	}
	if p, err := DocumentPath([]any{"a", "b"}); err != nil || len(p) != 2 {
		t.Fatalf("key list: %v %v", p, err)
	}
	if _, err := DocumentPath([]any{}); err == nil {
		t.Fatalf("empty offset must fail")
	}
	if _, err := DocumentPath(17); err == nil {
		t.Fatalf("non-string offset must fail")
	}
}
