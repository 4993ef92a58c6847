package index

import (
	"time"

	"catalogcore/internal/blob"
	"catalogcore/pkg/domain"
)

// Index is the catalog engine facade: the three layered resources wired to
// one backing store.
type Index struct {
	store domain.CatalogStore

	metadataTypes *MetadataTypes
	products      *Products
	datasets      *Datasets
}

// Option configures an Index.
type Option func(*options)

type options struct {
	log      Logger
	metrics  MetricsRecorder
	archive  blob.Store
	cacheTTL time.Duration
}

// WithLogger installs a structured logger. The default discards all output.
func WithLogger(log Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetricsRecorder installs a metrics recorder timing every resource
// operation. The default discards observations.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(o *options) {
		if rec != nil {
			o.metrics = rec
		}
	}
}

// WithArchive installs a blob store receiving JSON snapshots of dataset
// documents archived by Replace.
func WithArchive(store blob.Store) Option {
	return func(o *options) { o.archive = store }
}

// WithCacheTTL overrides the expiry of the metadata type and product read
// caches. A cached read may be stale for at most this long. Non-positive
// values keep the default.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// New wires an Index over the supplied backing store.
func New(store domain.CatalogStore, opts ...Option) *Index {
	o := options{log: noopLogger{}, metrics: noopMetrics{}, cacheTTL: cacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	metadataTypes := newMetadataTypes(store, o.log, o.metrics, o.cacheTTL)
	products := newProducts(store, metadataTypes, o.log, o.metrics, o.cacheTTL)
	datasets := newDatasets(store, products, o.log, o.metrics, o.archive)
	return &Index{
		store:         store,
		metadataTypes: metadataTypes,
		products:      products,
		datasets:      datasets,
	}
}

// MetadataTypes returns the metadata type resource.
func (ix *Index) MetadataTypes() *MetadataTypes { return ix.metadataTypes }

// Products returns the product (dataset type) resource.
func (ix *Index) Products() *Products { return ix.products }

// Datasets returns the dataset resource.
func (ix *Index) Datasets() *Datasets { return ix.datasets }

// Store returns the underlying backing store.
func (ix *Index) Store() domain.CatalogStore { return ix.store }
