package index

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"catalogcore/pkg/domain"
)

// Products manages dataset types: named collections each bound to one
// metadata type. The same idempotent-write, cached-read contract as
// MetadataTypes applies.
type Products struct {
	store         domain.CatalogStore
	metadataTypes *MetadataTypes
	log           Logger
	metrics       MetricsRecorder

	byID   *expirable.LRU[int, *domain.Product]
	byName *expirable.LRU[string, *domain.Product]
}

func newProducts(store domain.CatalogStore, metadataTypes *MetadataTypes, log Logger, metrics MetricsRecorder, ttl time.Duration) *Products {
	return &Products{
		store:         store,
		metadataTypes: metadataTypes,
		log:           log,
		metrics:       metrics,
		byID:          expirable.NewLRU[int, *domain.Product](cacheSize, nil, ttl),
		byName:        expirable.NewLRU[string, *domain.Product](cacheSize, nil, ttl),
	}
}

// FromDoc validates a product definition and builds an in-memory Product
// bound to its resolved metadata type. A metadata_type given by name must
// already be registered; an embedded definition document is registered on
// the fly without table locking.
func (r *Products) FromDoc(ctx context.Context, definition domain.Document) (*domain.Product, error) {
	if err := domain.ValidateProductDefinition(definition); err != nil {
		return nil, err
	}
	definition = domain.NormalizeDocument(definition)
	name, _ := definition["name"].(string)

	var metadataType *domain.MetadataType
	switch mt := definition["metadata_type"].(type) {
	case string:
		resolved, err := r.metadataTypes.GetByName(ctx, mt)
		if err != nil {
			return nil, err
		}
		if resolved == nil {
			return nil, &domain.UnknownMetadataTypeError{Ref: mt}
		}
		metadataType = resolved
	case map[string]any:
		registered, err := r.metadataTypes.Add(ctx, domain.Document(mt), false)
		if err != nil {
			return nil, err
		}
		metadataType = registered
	default:
		return nil, &domain.InvalidDocumentError{Reason: fmt.Sprintf("product %s metadata_type must be a name or a definition document", name)}
	}

	return &domain.Product{
		Name:         name,
		Definition:   definition,
		MetadataType: metadataType,
	}, nil
}

// Add registers a product. Re-adding an unchanged definition returns the
// stored record; a changed definition under the same name fails with
// ConflictError.
func (r *Products) Add(ctx context.Context, product *domain.Product) (_ *domain.Product, err error) {
	start := time.Now()
	defer func() { observe(ctx, r.metrics, "product_add", start, err) }()
	if product == nil || product.MetadataType == nil {
		return nil, &domain.InvalidDocumentError{Reason: "product requires a resolved metadata type"}
	}

	existing, err := r.GetByName(ctx, product.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := domain.CheckDocUnchanged(existing.Definition, product.Definition, fmt.Sprintf("product %s", product.Name)); err != nil {
			return nil, err
		}
		return existing, nil
	}

	r.log.Info("adding product", "name", product.Name, "metadata_type", product.MetadataType.Name)
	if err := r.store.AddProduct(ctx, product.Name, product.Metadata(), product.MetadataType.ID, product.Definition); err != nil {
		return nil, err
	}
	r.byName.Remove(product.Name)
	return r.GetByName(ctx, product.Name)
}

// AddDocument composes FromDoc and Add for a raw definition document.
func (r *Products) AddDocument(ctx context.Context, definition domain.Document) (*domain.Product, error) {
	product, err := r.FromDoc(ctx, definition)
	if err != nil {
		return nil, err
	}
	return r.Add(ctx, product)
}

// AddMany registers definitions sequentially. Failure isolation is per
// document: one bad definition does not roll back or stop the others. The
// successfully added products are returned alongside the joined errors.
func (r *Products) AddMany(ctx context.Context, definitions []domain.Document) ([]*domain.Product, error) {
	var added []*domain.Product
	var errs []error
	for _, definition := range definitions {
		product, err := r.AddDocument(ctx, definition)
		if err != nil {
			r.log.Error("adding product from document failed", "error", err)
			errs = append(errs, err)
			continue
		}
		added = append(added, product)
	}
	return added, errors.Join(errs...)
}

// Get returns the product with the given id, or nil when absent. Served
// from cache within the TTL window.
func (r *Products) Get(ctx context.Context, id int) (*domain.Product, error) {
	if p, ok := r.byID.Get(id); ok {
		return p, nil
	}
	rec, found, err := r.store.GetProduct(ctx, id)
	if err != nil || !found {
		return nil, err
	}
	return r.cacheRecord(ctx, rec)
}

// GetByName returns the product with the given name, or nil when absent.
// Served from cache within the TTL window.
func (r *Products) GetByName(ctx context.Context, name string) (*domain.Product, error) {
	if p, ok := r.byName.Get(name); ok {
		return p, nil
	}
	rec, found, err := r.store.GetProductByName(ctx, name)
	if err != nil || !found {
		return nil, err
	}
	return r.cacheRecord(ctx, rec)
}

// GetWithFields lazily yields every product whose field registry covers all
// of fieldNames. The sequence is restartable and re-evaluated against
// current state on each iteration.
func (r *Products) GetWithFields(ctx context.Context, fieldNames []string) iter.Seq2[*domain.Product, error] {
	return func(yield func(*domain.Product, error) bool) {
		for product, err := range r.GetAll(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !coversFields(product, fieldNames) {
				continue
			}
			if !yield(product, nil) {
				return
			}
		}
	}
}

// GetAll lazily enumerates all registered products.
func (r *Products) GetAll(ctx context.Context) iter.Seq2[*domain.Product, error] {
	return func(yield func(*domain.Product, error) bool) {
		recs, err := r.store.ListProducts(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, rec := range recs {
			product, err := r.materialize(ctx, rec)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(product, nil) {
				return
			}
		}
	}
}

func (r *Products) cacheRecord(ctx context.Context, rec domain.ProductRecord) (*domain.Product, error) {
	product, err := r.materialize(ctx, rec)
	if err != nil {
		return nil, err
	}
	r.byID.Add(product.ID, product)
	r.byName.Add(product.Name, product)
	return product, nil
}

func (r *Products) materialize(ctx context.Context, rec domain.ProductRecord) (*domain.Product, error) {
	metadataType, err := r.metadataTypes.Get(ctx, rec.MetadataTypeID)
	if err != nil {
		return nil, err
	}
	if metadataType == nil {
		return nil, fmt.Errorf("product %s references missing metadata type %d", rec.Name, rec.MetadataTypeID)
	}
	return &domain.Product{
		ID:           rec.ID,
		Name:         rec.Name,
		Definition:   rec.Definition,
		MetadataType: metadataType,
	}, nil
}

func coversFields(product *domain.Product, fieldNames []string) bool {
	registry := product.Fields()
	return !slices.ContainsFunc(fieldNames, func(name string) bool {
		_, ok := registry[name]
		return !ok
	})
}
