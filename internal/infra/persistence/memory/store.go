// Package memory implements the reference in-memory catalog store. It
// carries the full transactional semantics; the durable postgres and sqlite
// stores embed it and persist snapshots.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"catalogcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.CatalogStore = (*Store)(nil)

type state struct {
	metadataTypes map[int]domain.MetadataTypeRecord
	products      map[int]domain.ProductRecord
	datasets      map[uuid.UUID]domain.DatasetRecord
	// sources maps dataset id to classifier to source dataset id.
	sources   map[uuid.UUID]map[string]uuid.UUID
	locations map[uuid.UUID][]string
	// fieldIndexes records which per-field index structures are built,
	// keyed "type/field".
	fieldIndexes map[string]bool

	nextTypeID    int
	nextProductID int
}

func newState() state {
	return state{
		metadataTypes: make(map[int]domain.MetadataTypeRecord),
		products:      make(map[int]domain.ProductRecord),
		datasets:      make(map[uuid.UUID]domain.DatasetRecord),
		sources:       make(map[uuid.UUID]map[string]uuid.UUID),
		locations:     make(map[uuid.UUID][]string),
		fieldIndexes:  make(map[string]bool),
		nextTypeID:    1,
		nextProductID: 1,
	}
}

func (s state) clone() state {
	cloned := newState()
	cloned.nextTypeID = s.nextTypeID
	cloned.nextProductID = s.nextProductID
	for id, rec := range s.metadataTypes {
		cloned.metadataTypes[id] = cloneMetadataType(rec)
	}
	for id, rec := range s.products {
		cloned.products[id] = cloneProduct(rec)
	}
	for id, rec := range s.datasets {
		cloned.datasets[id] = cloneDataset(rec)
	}
	for id, edges := range s.sources {
		cp := make(map[string]uuid.UUID, len(edges))
		for classifier, src := range edges {
			cp[classifier] = src
		}
		cloned.sources[id] = cp
	}
	for id, uris := range s.locations {
		cloned.locations[id] = append([]string(nil), uris...)
	}
	for key, built := range s.fieldIndexes {
		cloned.fieldIndexes[key] = built
	}
	return cloned
}

func cloneMetadataType(rec domain.MetadataTypeRecord) domain.MetadataTypeRecord {
	rec.Definition = rec.Definition.Clone()
	return rec
}

func cloneProduct(rec domain.ProductRecord) domain.ProductRecord {
	rec.Definition = rec.Definition.Clone()
	rec.Metadata = rec.Metadata.Clone()
	return rec
}

func cloneDataset(rec domain.DatasetRecord) domain.DatasetRecord {
	rec.Metadata = rec.Metadata.Clone()
	return rec
}

// Store is a mutex-guarded in-memory catalog store. A single writer holds
// the transaction lock for the duration of its transaction; readers see the
// last committed state.
type Store struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state state
}

// NewStore constructs an empty in-memory catalog store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// GetMetadataType returns the metadata type with the given id.
func (s *Store) GetMetadataType(_ context.Context, id int) (domain.MetadataTypeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.metadataTypes[id]
	if !ok {
		return domain.MetadataTypeRecord{}, false, nil
	}
	return cloneMetadataType(rec), true, nil
}

// GetMetadataTypeByName returns the metadata type with the given name.
func (s *Store) GetMetadataTypeByName(_ context.Context, name string) (domain.MetadataTypeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.state.metadataTypes {
		if rec.Name == name {
			return cloneMetadataType(rec), true, nil
		}
	}
	return domain.MetadataTypeRecord{}, false, nil
}

// AddMetadataType registers a new metadata type and marks its per-field
// index structures built. The concurrently flag is recorded for parity with
// relational backends but has no in-memory effect.
func (s *Store) AddMetadataType(_ context.Context, name string, definition domain.Document, concurrently bool) error {
	_ = concurrently
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.state.metadataTypes {
		if rec.Name == name {
			return &domain.DuplicateRecordError{Table: "metadata_type", Detail: name}
		}
	}
	id := s.state.nextTypeID
	s.state.nextTypeID++
	rec := domain.MetadataTypeRecord{ID: id, Name: name, Definition: definition.Clone()}
	s.state.metadataTypes[id] = rec
	s.markFieldIndexesLocked(rec)
	return nil
}

// CheckDynamicFields (re)materializes per-field index markers for every
// registered metadata type.
func (s *Store) CheckDynamicFields(_ context.Context, concurrently, rebuildAll bool) error {
	_ = concurrently
	s.mu.Lock()
	defer s.mu.Unlock()
	if rebuildAll {
		s.state.fieldIndexes = make(map[string]bool)
	}
	for _, rec := range s.state.metadataTypes {
		s.markFieldIndexesLocked(rec)
	}
	return nil
}

func (s *Store) markFieldIndexesLocked(rec domain.MetadataTypeRecord) {
	dataset, _ := rec.Definition["dataset"].(map[string]any)
	searchFields, _ := dataset["search_fields"].(map[string]any)
	for field := range searchFields {
		key := rec.Name + "/" + field
		if !s.state.fieldIndexes[key] {
			s.state.fieldIndexes[key] = true
		}
	}
}

// FieldIndexes lists the built per-field index keys, sorted. Exposed for
// durable stores and tests.
func (s *Store) FieldIndexes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.state.fieldIndexes))
	for key := range s.state.fieldIndexes {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// GetProduct returns the product with the given id.
func (s *Store) GetProduct(_ context.Context, id int) (domain.ProductRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.products[id]
	if !ok {
		return domain.ProductRecord{}, false, nil
	}
	return cloneProduct(rec), true, nil
}

// GetProductByName returns the product with the given name.
func (s *Store) GetProductByName(_ context.Context, name string) (domain.ProductRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.state.products {
		if rec.Name == name {
			return cloneProduct(rec), true, nil
		}
	}
	return domain.ProductRecord{}, false, nil
}

// AddProduct registers a new product bound to an existing metadata type.
func (s *Store) AddProduct(_ context.Context, name string, metadata domain.Document, metadataTypeID int, definition domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.state.products {
		if rec.Name == name {
			return &domain.DuplicateRecordError{Table: "product", Detail: name}
		}
	}
	if _, ok := s.state.metadataTypes[metadataTypeID]; !ok {
		return fmt.Errorf("metadata type %d not found", metadataTypeID)
	}
	id := s.state.nextProductID
	s.state.nextProductID++
	s.state.products[id] = domain.ProductRecord{
		ID:             id,
		Name:           name,
		MetadataTypeID: metadataTypeID,
		Metadata:       metadata.Clone(),
		Definition:     definition.Clone(),
	}
	return nil
}

// ListProducts returns all registered products ordered by id.
func (s *Store) ListProducts(_ context.Context) ([]domain.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ProductRecord, 0, len(s.state.products))
	for _, rec := range s.state.products {
		out = append(out, cloneProduct(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetDataset returns the dataset row with the given id, archived or not.
func (s *Store) GetDataset(_ context.Context, id uuid.UUID) (domain.DatasetRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.state.datasets[id]
	if !ok {
		return domain.DatasetRecord{}, false, nil
	}
	return s.withURILocked(rec), true, nil
}

func (s *Store) withURILocked(rec domain.DatasetRecord) domain.DatasetRecord {
	rec = cloneDataset(rec)
	if uris := s.state.locations[rec.ID]; len(uris) > 0 {
		rec.URI = uris[0]
	}
	return rec
}

// GetDatasetSources returns the transitive closure of rows reachable from
// id via source edges in one batch. Each row carries parallel source-id and
// classifier arrays sorted by classifier.
func (s *Store) GetDatasetSources(_ context.Context, id uuid.UUID) ([]domain.DatasetRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.state.datasets[id]; !ok {
		return nil, nil
	}
	visited := map[uuid.UUID]bool{}
	queue := []uuid.UUID{id}
	var out []domain.DatasetRow
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		rec, ok := s.state.datasets[cur]
		if !ok {
			continue
		}
		row := domain.DatasetRow{DatasetRecord: s.withURILocked(rec)}
		row.Classifiers, row.SourceIDs = s.edgesLocked(cur)
		for _, src := range row.SourceIDs {
			if !visited[src] {
				queue = append(queue, src)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) edgesLocked(id uuid.UUID) ([]string, []uuid.UUID) {
	edges := s.state.sources[id]
	if len(edges) == 0 {
		return nil, nil
	}
	classifiers := make([]string, 0, len(edges))
	for classifier := range edges {
		classifiers = append(classifiers, classifier)
	}
	sort.Strings(classifiers)
	ids := make([]uuid.UUID, len(classifiers))
	for i, classifier := range classifiers {
		ids[i] = edges[classifier]
	}
	return classifiers, ids
}

// GetDerivedDatasets returns the datasets that list id as a source.
func (s *Store) GetDerivedDatasets(_ context.Context, id uuid.UUID) ([]domain.DatasetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DatasetRecord
	for dependent, edges := range s.state.sources {
		for _, src := range edges {
			if src == id {
				if rec, ok := s.state.datasets[dependent]; ok {
					out = append(out, s.withURILocked(rec))
				}
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// ContainsDataset reports whether a dataset row with the given id exists.
func (s *Store) ContainsDataset(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.datasets[id]
	return ok, nil
}

// EnsureDatasetLocation registers a storage location for a dataset, failing
// with DuplicateRecordError when the location is already registered.
func (s *Store) EnsureDatasetLocation(_ context.Context, id uuid.UUID, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.locations[id] {
		if existing == uri {
			return &domain.DuplicateRecordError{Table: "dataset_location", Detail: fmt.Sprintf("%s @ %s", id, uri)}
		}
	}
	s.state.locations[id] = append(s.state.locations[id], uri)
	return nil
}

// GetLocations returns the registered storage locations for a dataset in
// registration order.
func (s *Store) GetLocations(_ context.Context, id uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.state.locations[id]...), nil
}

// SearchDatasets evaluates the expressions against every active dataset
// row, ordered by id for determinism.
func (s *Store) SearchDatasets(_ context.Context, exprs []domain.Expression, selectFields []domain.Field, withSourceIDs bool) ([]domain.DatasetRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DatasetRow
	for _, rec := range s.state.datasets {
		if rec.Archived || !matchesAll(rec, exprs) {
			continue
		}
		row := domain.DatasetRow{DatasetRecord: s.withURILocked(rec)}
		if withSourceIDs {
			row.Classifiers, row.SourceIDs = s.edgesLocked(rec.ID)
		}
		if selectFields != nil {
			row.Selected = make(map[string]any, len(selectFields))
			for _, field := range selectFields {
				if v, ok := field.Extract(row.Metadata); ok {
					row.Selected[field.Name()] = v
				}
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// CountDatasets counts active rows matching the expressions.
func (s *Store) CountDatasets(_ context.Context, exprs []domain.Expression) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.state.datasets {
		if !rec.Archived && matchesAll(rec, exprs) {
			count++
		}
	}
	return count, nil
}

func matchesAll(rec domain.DatasetRecord, exprs []domain.Expression) bool {
	for _, expr := range exprs {
		if !expr.Matches(rec) {
			return false
		}
	}
	return true
}

// SearchDatasetsByMetadata matches active datasets whose metadata document
// contains doc as a sub-document. Slow path: full scan, no index support.
func (s *Store) SearchDatasetsByMetadata(_ context.Context, doc domain.Document) ([]domain.DatasetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := domain.NormalizeDocument(doc)
	var out []domain.DatasetRecord
	for _, rec := range s.state.datasets {
		if rec.Archived {
			continue
		}
		if containsSubdocument(map[string]any(domain.NormalizeDocument(rec.Metadata)), map[string]any(want)) {
			out = append(out, s.withURILocked(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func containsSubdocument(doc, want map[string]any) bool {
	for key, wanted := range want {
		got, ok := doc[key]
		if !ok {
			return false
		}
		wantedMap, wantIsMap := wanted.(map[string]any)
		gotMap, gotIsMap := got.(map[string]any)
		if wantIsMap && gotIsMap {
			if !containsSubdocument(gotMap, wantedMap) {
				return false
			}
			continue
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", wanted) {
			return false
		}
	}
	return true
}

// Begin opens a transaction. A single writer holds the transaction lock
// until Commit or Rollback; the store's uniqueness checks inside the
// transaction are therefore the sole source of truth for first-writer-wins.
func (s *Store) Begin(_ context.Context) (domain.CatalogTx, error) {
	s.txMu.Lock()
	s.mu.RLock()
	cloned := s.state.clone()
	s.mu.RUnlock()
	return &tx{store: s, state: cloned}, nil
}

type tx struct {
	store *Store
	state state
	done  bool
}

// InsertDataset inserts the dataset row, reporting whether a new row was
// added. An id already present in the transaction's view is a no-op
// returning (false, nil); re-inserting an id this same transaction already
// inserted fails with DuplicateRecordError, mirroring a uniqueness race.
func (t *tx) InsertDataset(_ context.Context, metadata domain.Document, id uuid.UUID, productID int) (bool, error) {
	if t.done {
		return false, fmt.Errorf("transaction is closed")
	}
	if _, ok := t.state.products[productID]; !ok {
		return false, fmt.Errorf("product %d not found", productID)
	}
	if _, ok := t.state.datasets[id]; ok {
		return false, nil
	}
	t.state.datasets[id] = domain.DatasetRecord{ID: id, ProductID: productID, Metadata: metadata.Clone()}
	return true, nil
}

// GetDataset reads a dataset row through the transaction's view, so rows
// inserted earlier in the same transaction are visible before commit.
func (t *tx) GetDataset(_ context.Context, id uuid.UUID) (domain.DatasetRecord, bool, error) {
	if t.done {
		return domain.DatasetRecord{}, false, fmt.Errorf("transaction is closed")
	}
	rec, ok := t.state.datasets[id]
	if !ok {
		return domain.DatasetRecord{}, false, nil
	}
	rec = cloneDataset(rec)
	if uris := t.state.locations[id]; len(uris) > 0 {
		rec.URI = uris[0]
	}
	return rec, true, nil
}

// InsertDatasetSource records one classifier-labelled source edge.
func (t *tx) InsertDatasetSource(_ context.Context, classifier string, datasetID, sourceID uuid.UUID) error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	if datasetID == sourceID {
		return fmt.Errorf("dataset %s cannot be its own source", datasetID)
	}
	edges, ok := t.state.sources[datasetID]
	if !ok {
		edges = make(map[string]uuid.UUID)
		t.state.sources[datasetID] = edges
	}
	if existing, ok := edges[classifier]; ok {
		if existing == sourceID {
			return &domain.DuplicateRecordError{Table: "dataset_source", Detail: fmt.Sprintf("%s[%s]", datasetID, classifier)}
		}
		return fmt.Errorf("dataset %s already has a %s source", datasetID, classifier)
	}
	edges[classifier] = sourceID
	return nil
}

// ArchiveDataset soft-deletes a dataset row within the transaction.
func (t *tx) ArchiveDataset(_ context.Context, id uuid.UUID) error {
	if t.done {
		return fmt.Errorf("transaction is closed")
	}
	rec, ok := t.state.datasets[id]
	if !ok {
		return fmt.Errorf("dataset %s not found", id)
	}
	rec.Archived = true
	t.state.datasets[id] = rec
	return nil
}

// Commit atomically publishes the transaction's state.
func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	t.store.state = t.state
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

// Rollback discards the transaction's state.
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

// String renders a compact diagnostic summary.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b strings.Builder
	fmt.Fprintf(&b, "memory catalog: %d metadata types, %d products, %d datasets",
		len(s.state.metadataTypes), len(s.state.products), len(s.state.datasets))
	return b.String()
}
