package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func testProduct() *Product {
	def := validMetadataTypeDefinition()
	section, _ := ParseDatasetSection(def)
	return &Product{
		ID:   1,
		Name: "ls8_scenes",
		Definition: Document{
			"name":          "ls8_scenes",
			"metadata_type": "eo",
			"metadata":      map[string]any{"product_type": "scene"},
		},
		MetadataType: &MetadataType{
			ID:         1,
			Name:       "eo",
			Definition: def,
			Dataset:    section,
		},
	}
}

func TestNewDatasetReadsIDThroughOffsets(t *testing.T) {
	product := testProduct()
	id := uuid.New()
	ds, err := NewDataset(product, Document{"id": id.String(), "platform": map[string]any{"code": "LANDSAT_8"}}, "file:///a")
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}
	if ds.ID != id {
		t.Fatalf("expected id %s, got %s", id, ds.ID)
	}
	if ds.URI != "file:///a" {
		t.Fatalf("unexpected uri %q", ds.URI)
	}
	if ds.Sources == nil {
		t.Fatalf("sources map must be initialized")
	}
}

func TestNewDatasetRejectsBadDocuments(t *testing.T) {
	product := testProduct()
	var invalid *InvalidDocumentError

	if _, err := NewDataset(nil, Document{}, ""); !errors.As(err, &invalid) {
		t.Fatalf("nil product: expected InvalidDocumentError, got %v", err)
	}
	if _, err := NewDataset(product, Document{}, ""); !errors.As(err, &invalid) {
		t.Fatalf("missing id: expected InvalidDocumentError, got %v", err)
	}
	if _, err := NewDataset(product, Document{"id": 42}, ""); !errors.As(err, &invalid) {
		t.Fatalf("numeric id: expected InvalidDocumentError, got %v", err)
	}
	if _, err := NewDataset(product, Document{"id": "not-a-uuid"}, ""); !errors.As(err, &invalid) {
		t.Fatalf("malformed id: expected InvalidDocumentError, got %v", err)
	}
}

func TestSourceDocuments(t *testing.T) {
	product := testProduct()
	id := uuid.New()
	doc := Document{
		"id": id.String(),
		"lineage": map[string]any{
			"source_datasets": map[string]any{
				"raw": map[string]any{"id": uuid.NewString()},
			},
		},
	}
	ds, err := NewDataset(product, doc, "")
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}
	sources := ds.SourceDocuments()
	if len(sources) != 1 {
		t.Fatalf("expected one source document, got %d", len(sources))
	}
	if _, ok := sources["raw"]; !ok {
		t.Fatalf("expected classifier raw, got %v", sources)
	}
}

func TestProductFields(t *testing.T) {
	product := testProduct()
	if product.Fields() != nil {
		t.Fatalf("expected nil fields before registry assignment")
	}
	product.MetadataType.SearchFields = map[string]Field{}
	if product.Fields() == nil {
		t.Fatalf("expected registry passthrough")
	}
	if md := product.Metadata(); md["product_type"] != "scene" {
		t.Fatalf("unexpected metadata template %v", md)
	}
}
