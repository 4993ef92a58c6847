// Package index implements the catalog's three layered resources and the
// facade wiring them together: metadata types, products (dataset types) and
// datasets, with read-through caching and duplicate-tolerant insertion.
package index

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"catalogcore/pkg/domain"
	"catalogcore/pkg/fields"
)

// Cached reads absorb repeated-lookup pressure; entries expire after the
// configured TTL and the least recently used entry is evicted on overflow.
const (
	cacheSize = 100
	cacheTTL  = 60 * time.Second
)

// MetadataTypes manages schema definitions. Writes are idempotent for
// unchanged definitions; re-adding a name with different content is a
// conflict. Reads are cached.
type MetadataTypes struct {
	store   domain.CatalogStore
	log     Logger
	metrics MetricsRecorder

	byID   *expirable.LRU[int, *domain.MetadataType]
	byName *expirable.LRU[string, *domain.MetadataType]
}

func newMetadataTypes(store domain.CatalogStore, log Logger, metrics MetricsRecorder, ttl time.Duration) *MetadataTypes {
	return &MetadataTypes{
		store:   store,
		log:     log,
		metrics: metrics,
		byID:    expirable.NewLRU[int, *domain.MetadataType](cacheSize, nil, ttl),
		byName:  expirable.NewLRU[string, *domain.MetadataType](cacheSize, nil, ttl),
	}
}

// FromDoc validates a definition and builds an in-memory MetadataType
// without storing it. The returned value carries no id.
func (r *MetadataTypes) FromDoc(definition domain.Document) (*domain.MetadataType, error) {
	return materializeMetadataType(domain.MetadataTypeRecord{
		Name:       fmt.Sprint(definition["name"]),
		Definition: definition,
	})
}

// Add registers a metadata type. Re-adding an unchanged definition is a
// no-op returning the stored record; a changed definition under the same
// name fails with ConflictError. allowTableLock=false builds field indexes
// concurrently, trading speed for not blocking concurrent access.
func (r *MetadataTypes) Add(ctx context.Context, definition domain.Document, allowTableLock bool) (_ *domain.MetadataType, err error) {
	start := time.Now()
	defer func() { observe(ctx, r.metrics, "metadata_type_add", start, err) }()
	if err := domain.ValidateMetadataTypeDefinition(definition); err != nil {
		return nil, err
	}
	definition = domain.NormalizeDocument(definition)
	name, _ := definition["name"].(string)

	existing, err := r.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := domain.CheckDocUnchanged(existing.Definition, definition, fmt.Sprintf("metadata type %s", name)); err != nil {
			return nil, err
		}
		return existing, nil
	}

	r.log.Info("adding metadata type", "name", name)
	if err := r.store.AddMetadataType(ctx, name, definition, !allowTableLock); err != nil {
		return nil, err
	}
	r.byName.Remove(name)
	return r.GetByName(ctx, name)
}

// Get returns the metadata type with the given id, or nil when absent.
// Served from cache within the TTL window.
func (r *MetadataTypes) Get(ctx context.Context, id int) (*domain.MetadataType, error) {
	if mt, ok := r.byID.Get(id); ok {
		return mt, nil
	}
	rec, found, err := r.store.GetMetadataType(ctx, id)
	if err != nil || !found {
		return nil, err
	}
	mt, err := materializeMetadataType(rec)
	if err != nil {
		return nil, err
	}
	r.byID.Add(id, mt)
	r.byName.Add(mt.Name, mt)
	return mt, nil
}

// GetByName returns the metadata type with the given name, or nil when
// absent. Served from cache within the TTL window.
func (r *MetadataTypes) GetByName(ctx context.Context, name string) (*domain.MetadataType, error) {
	if mt, ok := r.byName.Get(name); ok {
		return mt, nil
	}
	rec, found, err := r.store.GetMetadataTypeByName(ctx, name)
	if err != nil || !found {
		return nil, err
	}
	mt, err := materializeMetadataType(rec)
	if err != nil {
		return nil, err
	}
	r.byID.Add(mt.ID, mt)
	r.byName.Add(name, mt)
	return mt, nil
}

// CheckFieldIndexes (re)materializes per-field indexing structures for all
// registered metadata types. Idempotent; rebuildAll forces recomputation of
// structures that already exist.
func (r *MetadataTypes) CheckFieldIndexes(ctx context.Context, allowTableLock, rebuildAll bool) (err error) {
	start := time.Now()
	defer func() { observe(ctx, r.metrics, "metadata_type_check_field_indexes", start, err) }()
	return r.store.CheckDynamicFields(ctx, !allowTableLock, rebuildAll)
}

// materializeMetadataType resolves a stored record into a MetadataType with
// its dataset offsets and field registry parsed out of the definition.
func materializeMetadataType(rec domain.MetadataTypeRecord) (*domain.MetadataType, error) {
	section, err := domain.ParseDatasetSection(rec.Definition)
	if err != nil {
		return nil, err
	}
	registry, err := fields.NewRegistry(rec.Definition)
	if err != nil {
		return nil, err
	}
	return &domain.MetadataType{
		ID:           rec.ID,
		Name:         rec.Name,
		Definition:   rec.Definition,
		Dataset:      section,
		SearchFields: registry,
	}, nil
}
