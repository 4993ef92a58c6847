package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"catalogcore/internal/blob"
	"catalogcore/pkg/domain"
	"catalogcore/pkg/fields"
)

// productKey is the reserved search key selecting one product by name.
const productKey = "product"

// Datasets manages dataset documents: insertion with source-graph fan-out,
// lineage reconstruction from flat rows, and field-expression search.
type Datasets struct {
	store    domain.CatalogStore
	products *Products
	log      Logger
	metrics  MetricsRecorder
	// archive, when set, receives a JSON snapshot of every dataset
	// document archived by Replace.
	archive blob.Store
}

func newDatasets(store domain.CatalogStore, products *Products, log Logger, metrics MetricsRecorder, archive blob.Store) *Datasets {
	return &Datasets{
		store:    store,
		products: products,
		log:      log,
		metrics:  metrics,
		archive:  archive,
	}
}

// Add indexes a dataset. Unless skipSources, every dataset reachable via
// Sources is inserted first, depth-first, so source edges are referentially
// valid when the dependent's row lands. Re-adding an already indexed
// dataset with identical metadata succeeds as a no-op; different metadata
// under the same id fails with ConflictError. The returned dataset is the
// caller's value, not a re-read copy.
func (r *Datasets) Add(ctx context.Context, ds *domain.Dataset, skipSources bool) (_ *domain.Dataset, err error) {
	start := time.Now()
	defer func() { observe(ctx, r.metrics, "dataset_add", start, err) }()
	if ds == nil || ds.Product == nil || ds.Product.MetadataType == nil {
		return nil, &domain.InvalidDocumentError{Reason: "dataset requires a product with a resolved metadata type"}
	}
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	var pending []location
	if err := r.addTree(ctx, tx, ds, skipSources, &pending); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ds, r.registerLocations(ctx, pending)
}

// location is a storage location queued for registration once the
// surrounding transaction has committed.
type location struct {
	id  uuid.UUID
	uri string
}

// addTree inserts ds and, unless skipSources, its transitive sources first.
func (r *Datasets) addTree(ctx context.Context, tx domain.CatalogTx, ds *domain.Dataset, skipSources bool, pending *[]location) error {
	if !skipSources {
		for _, classifier := range slices.Sorted(maps.Keys(ds.Sources)) {
			if err := r.addTree(ctx, tx, ds.Sources[classifier], false, pending); err != nil {
				return err
			}
		}
	}
	return r.insertOne(ctx, tx, ds, pending)
}

// insertOne performs the duplicate-tolerant insert of a single dataset row
// plus its source edges, queueing its location for post-commit
// registration.
func (r *Datasets) insertOne(ctx context.Context, tx domain.CatalogTx, ds *domain.Dataset, pending *[]location) error {
	stripped, err := r.withoutLineage(ds)
	if err != nil {
		return err
	}

	wasInserted, err := tx.InsertDataset(ctx, stripped, ds.ID, ds.Product.ID)
	if domain.IsDuplicateRecord(err) {
		// Benign concurrent-insert race; fall through to the
		// consistency check.
		r.log.Warn("duplicate dataset, not inserting", "id", ds.ID, "product", ds.Product.Name)
		wasInserted = false
	} else if err != nil {
		return err
	}

	if wasInserted {
		for _, classifier := range slices.Sorted(maps.Keys(ds.Sources)) {
			if err := tx.InsertDatasetSource(ctx, classifier, ds.ID, ds.Sources[classifier].ID); err != nil {
				return err
			}
		}
	} else if err := r.checkUnchanged(ctx, tx, ds.ID, stripped); err != nil {
		return err
	}

	if ds.URI != "" {
		*pending = append(*pending, location{id: ds.ID, uri: ds.URI})
	}
	return nil
}

// registerLocations registers storage locations idempotently: a location
// already present is logged, never fatal.
func (r *Datasets) registerLocations(ctx context.Context, pending []location) error {
	for _, loc := range pending {
		err := r.store.EnsureDatasetLocation(ctx, loc.id, loc.uri)
		if domain.IsDuplicateRecord(err) {
			r.log.Debug("location already registered", "id", loc.id, "uri", loc.uri)
		} else if err != nil {
			return err
		}
	}
	return nil
}

// withoutLineage returns ds's metadata document with the embedded lineage
// sub-document stripped and the rest normalized. The caller's document is
// never mutated; the stored lineage section is reconstructed on read from
// the source edges instead of trusted from the writer's copy. A non-object
// value blocking the lineage path is a malformed document.
func (r *Datasets) withoutLineage(ds *domain.Dataset) (domain.Document, error) {
	doc := domain.NormalizeDocument(ds.Metadata)
	path := ds.Product.MetadataType.Dataset.SourcesPath
	if len(path) > 0 {
		if err := doc.Set(path, map[string]any{}); err != nil {
			return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("dataset %s lineage section: %v", ds.ID, err)}
		}
	}
	return doc, nil
}

// checkUnchanged asserts the stored document for id matches the incoming
// lineage-stripped document, preventing silent metadata drift on duplicate
// ingestion. The read goes through the transaction's view so a duplicate
// id within a single ingestion call is checked against the document its
// first occurrence inserted, not against committed state.
func (r *Datasets) checkUnchanged(ctx context.Context, tx domain.CatalogTx, id uuid.UUID, incoming domain.Document) error {
	existing, found, err := tx.GetDataset(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	stored := existing.Metadata.Clone()
	if path := r.lineagePathFor(ctx, existing.ProductID); len(path) > 0 {
		_ = stored.Set(path, map[string]any{})
	}
	return domain.CheckDocUnchanged(stored, incoming, fmt.Sprintf("dataset %s", id))
}

func (r *Datasets) lineagePathFor(ctx context.Context, productID int) []string {
	product, err := r.products.Get(ctx, productID)
	if err != nil || product == nil {
		return nil
	}
	return product.MetadataType.Dataset.SourcesPath
}

// Get returns the dataset with the given id, or nil when absent. With
// includeSources the full provenance graph is reconstructed from one batch
// of flat rows: a lookup table keyed by row id is built, each row's
// classifier array is zipped against its source-id array, and every
// resolved dataset's embedded lineage sub-document is rewritten from the
// edges. Source ids missing from the batch are skipped, not errors.
func (r *Datasets) Get(ctx context.Context, id uuid.UUID, includeSources bool) (*domain.Dataset, error) {
	if !includeSources {
		rec, found, err := r.store.GetDataset(ctx, id)
		if err != nil || !found {
			return nil, err
		}
		return r.materialize(ctx, rec)
	}

	rows, err := r.store.GetDatasetSources(ctx, id)
	if err != nil {
		return nil, err
	}
	table := make(map[uuid.UUID]*domain.Dataset, len(rows))
	for _, row := range rows {
		ds, err := r.materialize(ctx, row.DatasetRecord)
		if err != nil {
			return nil, err
		}
		table[row.ID] = ds
	}
	// Resolution is table-lookup based, not recursive: a cyclic edge set
	// cannot grow the stack, only repeat classifiers.
	for _, row := range rows {
		ds := table[row.ID]
		lineage := make(map[string]any, len(row.Classifiers))
		for i, classifier := range row.Classifiers {
			if i >= len(row.SourceIDs) {
				break
			}
			source, ok := table[row.SourceIDs[i]]
			if !ok {
				// Truncated batch; edge target not materialized.
				continue
			}
			ds.Sources[classifier] = source
			lineage[classifier] = map[string]any(source.Metadata)
		}
		if path := ds.Product.MetadataType.Dataset.SourcesPath; len(path) > 0 {
			_ = ds.Metadata.Set(path, lineage)
		}
	}
	return table[id], nil
}

// GetDerived returns the datasets that list id as a direct source.
func (r *Datasets) GetDerived(ctx context.Context, id uuid.UUID) ([]*domain.Dataset, error) {
	recs, err := r.store.GetDerivedDatasets(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Dataset, 0, len(recs))
	for _, rec := range recs {
		ds, err := r.materialize(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// Has reports whether a dataset with the given id is indexed.
func (r *Datasets) Has(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.store.ContainsDataset(ctx, id)
}

// GetLocations returns the registered storage locations for a dataset.
func (r *Datasets) GetLocations(ctx context.Context, id uuid.UUID) ([]string, error) {
	return r.store.GetLocations(ctx, id)
}

// searchTarget pairs one candidate product with the compiled expressions
// scoped to its field registry, including the implicit product-id pin.
type searchTarget struct {
	product *domain.Product
	exprs   []domain.Expression
}

// resolveTargets determines the candidate products for a query. With the
// reserved "product" key exactly that product is used; otherwise every
// product whose registry covers the query's field names qualifies. No
// qualifying product fails before any store round-trip.
func (r *Datasets) resolveTargets(ctx context.Context, query map[string]any) ([]searchTarget, error) {
	q := make(map[string]any, len(query))
	maps.Copy(q, query)
	var productName string
	if raw, ok := q[productKey]; ok {
		name, isString := raw.(string)
		if !isString {
			return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("query key %q must be a product name string, got %T", productKey, raw)}
		}
		productName = name
		delete(q, productKey)
	}

	var candidates []*domain.Product
	if productName != "" {
		product, err := r.products.GetByName(ctx, productName)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, &domain.UnknownProductError{Name: productName}
		}
		candidates = []*domain.Product{product}
	} else {
		fieldNames := slices.Sorted(maps.Keys(q))
		for product, err := range r.products.GetWithFields(ctx, fieldNames) {
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, product)
		}
		if len(candidates) == 0 {
			return nil, &domain.NoMatchingProductError{FieldNames: fieldNames}
		}
	}

	targets := make([]searchTarget, 0, len(candidates))
	for _, product := range candidates {
		registry := fields.Registry(product.Fields())
		exprs, err := fields.ToExpressions(registry.Get, q)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, fields.ProductIDExpression(product.ID))
		targets = append(targets, searchTarget{product: product, exprs: exprs})
	}
	return targets, nil
}

// Search lazily yields the datasets matching the query across all candidate
// products. Results from multiple products are concatenated, not
// interleaved.
func (r *Datasets) Search(ctx context.Context, query map[string]any) iter.Seq2[*domain.Dataset, error] {
	return func(yield func(*domain.Dataset, error) bool) {
		targets, err := r.resolveTargets(ctx, query)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, target := range targets {
			rows, err := r.store.SearchDatasets(ctx, target.exprs, nil, false)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, row := range rows {
				ds := &domain.Dataset{
					ID:       row.ID,
					Product:  target.product,
					Metadata: row.Metadata,
					URI:      row.URI,
					Sources:  map[string]*domain.Dataset{},
				}
				if !yield(ds, nil) {
					return
				}
			}
		}
	}
}

// SearchEager materializes the full lazy search sequence into a list.
func (r *Datasets) SearchEager(ctx context.Context, query map[string]any) (_ []*domain.Dataset, err error) {
	start := time.Now()
	defer func() { observe(ctx, r.metrics, "dataset_search", start, err) }()
	var out []*domain.Dataset
	for ds, err := range r.Search(ctx, query) {
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// SearchSummaries lazily yields per-dataset field projections instead of
// full documents, a lighter read path. Each summary maps field name to the
// value extracted by that product's registry.
func (r *Datasets) SearchSummaries(ctx context.Context, query map[string]any) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		targets, err := r.resolveTargets(ctx, query)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, target := range targets {
			registry := target.product.Fields()
			selectFields := make([]domain.Field, 0, len(registry))
			for _, name := range slices.Sorted(maps.Keys(registry)) {
				selectFields = append(selectFields, registry[name])
			}
			rows, err := r.store.SearchDatasets(ctx, target.exprs, selectFields, false)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, row := range rows {
				if !yield(row.Selected, nil) {
					return
				}
			}
		}
	}
}

// Count returns the number of datasets matching the query, summed across
// candidate products.
func (r *Datasets) Count(ctx context.Context, query map[string]any) (_ int, err error) {
	start := time.Now()
	defer func() { observe(ctx, r.metrics, "dataset_count", start, err) }()
	targets, err := r.resolveTargets(ctx, query)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, target := range targets {
		n, err := r.store.CountDatasets(ctx, target.exprs)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// SearchByMetadata returns the active datasets whose metadata document
// contains doc as a sub-document. Unindexed; intended for rare
// administrative queries.
func (r *Datasets) SearchByMetadata(ctx context.Context, doc domain.Document) ([]*domain.Dataset, error) {
	recs, err := r.store.SearchDatasetsByMetadata(ctx, doc)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Dataset, 0, len(recs))
	for _, rec := range recs {
		ds, err := r.materialize(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// GetFieldNames returns the sorted union of field names declared by the
// named product's registry, or by every registered product when productName
// is empty.
func (r *Datasets) GetFieldNames(ctx context.Context, productName string) ([]string, error) {
	seen := map[string]bool{}
	if productName != "" {
		product, err := r.products.GetByName(ctx, productName)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, &domain.UnknownProductError{Name: productName}
		}
		for name := range product.Fields() {
			seen[name] = true
		}
	} else {
		for product, err := range r.products.GetAll(ctx) {
			if err != nil {
				return nil, err
			}
			for name := range product.Fields() {
				seen[name] = true
			}
		}
	}
	names := slices.Sorted(maps.Keys(seen))
	return names, nil
}

// Replace archives every old dataset and indexes every new one within a
// single transaction: if indexing fails, the archivals are not persisted.
// Archived documents are additionally snapshotted to the blob archive when
// one is configured; snapshot failures are logged, never fatal.
func (r *Datasets) Replace(ctx context.Context, olds, news []*domain.Dataset) (err error) {
	start := time.Now()
	defer func() { observe(ctx, r.metrics, "dataset_replace", start, err) }()
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, old := range olds {
		if err := tx.ArchiveDataset(ctx, old.ID); err != nil {
			return err
		}
		r.snapshotArchived(ctx, old)
	}
	var pending []location
	for _, ds := range news {
		if ds == nil || ds.Product == nil || ds.Product.MetadataType == nil {
			return &domain.InvalidDocumentError{Reason: "dataset requires a product with a resolved metadata type"}
		}
		if err := r.addTree(ctx, tx, ds, false, &pending); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return r.registerLocations(ctx, pending)
}

func (r *Datasets) snapshotArchived(ctx context.Context, ds *domain.Dataset) {
	if r.archive == nil {
		return
	}
	payload, err := json.Marshal(ds.Metadata)
	if err != nil {
		r.log.Warn("archive snapshot encode failed", "id", ds.ID, "error", err)
		return
	}
	key := fmt.Sprintf("archive/%s.json", ds.ID)
	if _, err := r.archive.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json"}); err != nil {
		r.log.Warn("archive snapshot write failed", "id", ds.ID, "key", key, "error", err)
	}
}

func (r *Datasets) materialize(ctx context.Context, rec domain.DatasetRecord) (*domain.Dataset, error) {
	product, err := r.products.Get(ctx, rec.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("dataset %s references missing product %d", rec.ID, rec.ProductID)
	}
	return &domain.Dataset{
		ID:       rec.ID,
		Product:  product,
		Metadata: rec.Metadata,
		URI:      rec.URI,
		Sources:  map[string]*domain.Dataset{},
	}, nil
}
