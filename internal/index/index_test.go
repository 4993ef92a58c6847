package index

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"catalogcore/internal/infra/persistence/memory"
	"catalogcore/pkg/domain"
)

func eoTypeDoc() domain.Document {
	return domain.Document{
		"name":        "eo",
		"description": "Earth observation datasets",
		"dataset": map[string]any{
			"id":      []any{"id"},
			"label":   []any{"ga_label"},
			"sources": []any{"lineage", "source_datasets"},
			"search_fields": map[string]any{
				"platform": map[string]any{
					"type":   "string",
					"offset": []any{"platform", "code"},
				},
				"gsi": map[string]any{
					"type":   "double",
					"offset": []any{"image", "gsi"},
				},
			},
		},
	}
}

func productDoc(name string) domain.Document {
	return domain.Document{
		"name":          name,
		"metadata_type": "eo",
		"metadata": map[string]any{
			"product_type": name,
		},
	}
}

func newTestIndex(t *testing.T, opts ...Option) (*Index, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return New(store, opts...), store
}

// seedCatalog registers the eo metadata type plus one product and returns
// the resolved product.
func seedCatalog(t *testing.T, ix *Index, productName string) *domain.Product {
	t.Helper()
	ctx := context.Background()
	if _, err := ix.MetadataTypes().Add(ctx, eoTypeDoc(), false); err != nil {
		t.Fatalf("add metadata type: %v", err)
	}
	product, err := ix.Products().AddDocument(ctx, productDoc(productName))
	if err != nil {
		t.Fatalf("add product %s: %v", productName, err)
	}
	return product
}

func datasetDoc(id uuid.UUID, platform string, lineage map[string]any) domain.Document {
	if lineage == nil {
		lineage = map[string]any{}
	}
	return domain.Document{
		"id": id.String(),
		"platform": map[string]any{
			"code": platform,
		},
		"image": map[string]any{
			"gsi": 25.0,
		},
		"lineage": map[string]any{
			"source_datasets": lineage,
		},
	}
}

func buildDataset(t *testing.T, product *domain.Product, doc domain.Document, uri string) *domain.Dataset {
	t.Helper()
	ds, err := domain.NewDataset(product, doc, uri)
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}
	return ds
}

func TestNewDefaultsToNoopObservability(t *testing.T) {
	ix, _ := newTestIndex(t)
	if ix.MetadataTypes() == nil || ix.Products() == nil || ix.Datasets() == nil {
		t.Fatal("resources not wired")
	}
	if ix.Store() == nil {
		t.Fatal("store accessor empty")
	}
	// Options that pass nil keep the discarding defaults.
	ix2, _ := newTestIndex(t, WithLogger(nil), WithMetricsRecorder(nil))
	if _, err := ix2.MetadataTypes().Add(context.Background(), eoTypeDoc(), false); err != nil {
		t.Fatalf("add with nil observability options: %v", err)
	}
}

func TestIndexRecordsOperationMetrics(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ix, _ := newTestIndex(t, WithMetricsRecorder(rec))
	product := seedCatalog(t, ix, "ls8_scene")
	id := uuid.New()
	if _, err := ix.Datasets().Add(context.Background(), buildDataset(t, product, datasetDoc(id, "LANDSAT_8", nil), ""), false); err != nil {
		t.Fatalf("add dataset: %v", err)
	}

	snap := rec.Snapshot()
	for _, op := range []string{"metadata_type_add", "product_add", "dataset_add"} {
		if snap.Results[op]["success"] == 0 {
			t.Fatalf("operation %s not recorded: %+v", op, snap.Results)
		}
	}
}

// countingStore wraps the memory store counting reads that reach it, to
// observe cache behaviour from the outside.
type countingStore struct {
	*memory.Store
	metadataTypeReads atomic.Int64
	productReads      atomic.Int64
}

func (s *countingStore) GetMetadataType(ctx context.Context, id int) (domain.MetadataTypeRecord, bool, error) {
	s.metadataTypeReads.Add(1)
	return s.Store.GetMetadataType(ctx, id)
}

func (s *countingStore) GetMetadataTypeByName(ctx context.Context, name string) (domain.MetadataTypeRecord, bool, error) {
	s.metadataTypeReads.Add(1)
	return s.Store.GetMetadataTypeByName(ctx, name)
}

func (s *countingStore) GetProduct(ctx context.Context, id int) (domain.ProductRecord, bool, error) {
	s.productReads.Add(1)
	return s.Store.GetProduct(ctx, id)
}

func (s *countingStore) GetProductByName(ctx context.Context, name string) (domain.ProductRecord, bool, error) {
	s.productReads.Add(1)
	return s.Store.GetProductByName(ctx, name)
}
