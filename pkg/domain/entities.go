// Package domain defines the core catalog entities, value types, and the
// narrow backing-store interfaces consumed by the indexing engine.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// MetadataType is a named schema describing a document shape and how to
// extract named search fields from documents of that shape.
type MetadataType struct {
	ID         int
	Name       string
	Definition Document
	// Dataset describes where core values live inside a dataset document.
	Dataset DatasetSection
	// SearchFields maps field name to its extraction/comparison rule.
	SearchFields map[string]Field
}

// DatasetSection holds the document offsets declared by a metadata type's
// "dataset" block.
type DatasetSection struct {
	IDPath      []string
	SourcesPath []string
	LabelPath   []string
}

// Product (dataset type) is a named collection of datasets sharing one
// metadata type. Its searchable attribute set is inherited from the
// metadata type's field registry.
type Product struct {
	ID           int
	Name         string
	Definition   Document
	MetadataType *MetadataType
}

// Metadata returns the product's metadata document template used to match
// member datasets.
func (p *Product) Metadata() Document {
	md, _ := p.Definition["metadata"].(map[string]any)
	return Document(md)
}

// Fields returns the searchable field registry inherited from the product's
// metadata type.
func (p *Product) Fields() map[string]Field {
	if p.MetadataType == nil {
		return nil
	}
	return p.MetadataType.SearchFields
}

// Dataset is one indexed, identified document instance with optional storage
// location and classifier-labelled source datasets.
type Dataset struct {
	ID       uuid.UUID
	Product  *Product
	Metadata Document
	// URI is the dataset's storage location, empty when unknown.
	URI string
	// Sources maps classifier label to source dataset. Keys mirror the
	// classifiers recorded inside Metadata's lineage section.
	Sources map[string]*Dataset
}

// NewDataset builds a Dataset from a metadata document, reading the
// identifier and source lineage through the product's metadata type offsets.
func NewDataset(product *Product, metadata Document, uri string) (*Dataset, error) {
	if product == nil || product.MetadataType == nil {
		return nil, &InvalidDocumentError{Reason: "dataset requires a product with a resolved metadata type"}
	}
	raw, ok := metadata.Get(product.MetadataType.Dataset.IDPath...)
	if !ok {
		return nil, &InvalidDocumentError{Reason: fmt.Sprintf("dataset document missing id at %v", product.MetadataType.Dataset.IDPath)}
	}
	s, ok := raw.(string)
	if !ok {
		return nil, &InvalidDocumentError{Reason: "dataset id must be a string"}
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, &InvalidDocumentError{Reason: fmt.Sprintf("dataset id %q is not a valid uuid", s)}
	}
	return &Dataset{
		ID:       id,
		Product:  product,
		Metadata: metadata,
		URI:      uri,
		Sources:  map[string]*Dataset{},
	}, nil
}

// SourceDocuments reads the embedded lineage sub-documents keyed by
// classifier from the dataset's metadata document.
func (d *Dataset) SourceDocuments() map[string]any {
	raw, ok := d.Metadata.Get(d.Product.MetadataType.Dataset.SourcesPath...)
	if !ok {
		return nil
	}
	docs, _ := raw.(map[string]any)
	return docs
}

// Range is an inclusive [Begin, End] pair used as a query value for scalar
// fields whose values fall within bounds. Bounds are numbers or RFC 3339
// timestamps depending on the field's declared type.
type Range struct {
	Begin any `json:"begin"`
	End   any `json:"end"`
}

// Field is one named, typed searchable attribute declared by a metadata
// type. Implementations know how to extract their value from a dataset
// document; expressions compiled against a field evaluate store-level
// predicates.
type Field interface {
	Name() string
	Description() string
	// Extract reads the field's value out of a dataset metadata document.
	// The second return is false when the document carries no value.
	Extract(doc Document) (any, bool)
}

// Expression is a compiled predicate over one field, bound to a single
// product's search context. Expressions are stateless and reusable across
// queries; they are never persisted.
type Expression interface {
	Field() Field
	// Matches reports whether the stored record satisfies the predicate.
	Matches(rec DatasetRecord) bool
	fmt.Stringer
}
