package domain

import (
	"context"

	"github.com/google/uuid"
)

// MetadataTypeRecord is the stored shape of a metadata type.
type MetadataTypeRecord struct {
	ID         int      `json:"id"`
	Name       string   `json:"name"`
	Definition Document `json:"definition"`
}

// ProductRecord is the stored shape of a product (dataset type).
type ProductRecord struct {
	ID             int      `json:"id"`
	Name           string   `json:"name"`
	MetadataTypeID int      `json:"metadata_type_id"`
	Metadata       Document `json:"metadata"`
	Definition     Document `json:"definition"`
}

// DatasetRecord is the stored shape of a dataset row.
type DatasetRecord struct {
	ID        uuid.UUID `json:"id"`
	ProductID int       `json:"product_id"`
	Metadata  Document  `json:"metadata"`
	// URI is the first registered active location, empty when none exists.
	URI      string `json:"uri,omitempty"`
	Archived bool   `json:"archived,omitempty"`
}

// DatasetRow is a search or lineage result row. SourceIDs and Classifiers
// are parallel arrays describing the row's outgoing source edges when the
// query requested them; Selected carries field projections when the query
// supplied select fields.
type DatasetRow struct {
	DatasetRecord
	SourceIDs   []uuid.UUID
	Classifiers []string
	Selected    map[string]any
}

// CatalogStore is the relational catalog store interface the engine
// consumes. Implementations guarantee uniqueness of metadata type and
// product names, dataset ids, source edges per (dataset, classifier), and
// locations per (dataset, uri); violating inserts fail with
// DuplicateRecordError. Every call is a potentially blocking I/O boundary;
// cancellation is the implementation's responsibility via ctx.
type CatalogStore interface {
	GetMetadataType(ctx context.Context, id int) (MetadataTypeRecord, bool, error)
	GetMetadataTypeByName(ctx context.Context, name string) (MetadataTypeRecord, bool, error)
	// AddMetadataType registers a new metadata type and materializes its
	// per-field search support. concurrently selects a non-exclusive,
	// slower, non-transactional index build.
	AddMetadataType(ctx context.Context, name string, definition Document, concurrently bool) error
	// CheckDynamicFields (re)materializes per-field indexing structures for
	// all registered metadata types.
	CheckDynamicFields(ctx context.Context, concurrently, rebuildAll bool) error

	GetProduct(ctx context.Context, id int) (ProductRecord, bool, error)
	GetProductByName(ctx context.Context, name string) (ProductRecord, bool, error)
	AddProduct(ctx context.Context, name string, metadata Document, metadataTypeID int, definition Document) error
	ListProducts(ctx context.Context) ([]ProductRecord, error)

	GetDataset(ctx context.Context, id uuid.UUID) (DatasetRecord, bool, error)
	// GetDatasetSources returns, in one batch, the transitive set of rows
	// reachable from id via source edges, each carrying its own parallel
	// source-id/classifier arrays.
	GetDatasetSources(ctx context.Context, id uuid.UUID) ([]DatasetRow, error)
	// GetDerivedDatasets returns the datasets that list id as a source.
	GetDerivedDatasets(ctx context.Context, id uuid.UUID) ([]DatasetRecord, error)
	ContainsDataset(ctx context.Context, id uuid.UUID) (bool, error)

	// EnsureDatasetLocation registers a storage location for a dataset,
	// failing with DuplicateRecordError when it is already registered.
	EnsureDatasetLocation(ctx context.Context, id uuid.UUID, uri string) error
	GetLocations(ctx context.Context, id uuid.UUID) ([]string, error)

	// SearchDatasets evaluates the expressions and returns matching active
	// rows. selectFields, when non-nil, populates each row's Selected
	// projection; withSourceIDs populates the source edge arrays.
	SearchDatasets(ctx context.Context, exprs []Expression, selectFields []Field, withSourceIDs bool) ([]DatasetRow, error)
	// SearchDatasetsByMetadata matches active datasets whose metadata
	// document contains doc as a sub-document. Slow: no index support.
	SearchDatasetsByMetadata(ctx context.Context, doc Document) ([]DatasetRecord, error)
	CountDatasets(ctx context.Context, exprs []Expression) (int, error)

	// Begin opens a transaction scope with guaranteed commit-or-rollback.
	Begin(ctx context.Context) (CatalogTx, error)
}

// CatalogTx is an open catalog transaction. Exactly one of Commit or
// Rollback must be called; both are safe to call after the other as no-ops.
type CatalogTx interface {
	// InsertDataset inserts the dataset row, reporting whether a new row
	// was actually added. Inserting an id already present in the
	// transaction's view returns (false, nil); a uniqueness race inside the
	// same transaction fails with DuplicateRecordError.
	InsertDataset(ctx context.Context, metadata Document, id uuid.UUID, productID int) (bool, error)
	// GetDataset reads a dataset row through the transaction's view: rows
	// inserted earlier in the same transaction are visible before commit.
	GetDataset(ctx context.Context, id uuid.UUID) (DatasetRecord, bool, error)
	InsertDatasetSource(ctx context.Context, classifier string, datasetID, sourceID uuid.UUID) error
	// ArchiveDataset soft-deletes a dataset, excluding it from active
	// search. The row is retained.
	ArchiveDataset(ctx context.Context, id uuid.UUID) error
	Commit() error
	Rollback() error
}
