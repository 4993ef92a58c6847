package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"catalogcore/pkg/domain"
)

func TestIndexIdent(t *testing.T) {
	cases := []struct {
		typeName, fieldName, want string
	}{
		{"eo", "platform", "ix_field_eo_platform"},
		{"EO-Telemetry", "lat.range", "ix_field_eo_telemetry_lat_range"},
		{"eo", "time", "ix_field_eo_time"},
	}
	for _, tc := range cases {
		if got := indexIdent(tc.typeName, tc.fieldName); got != tc.want {
			t.Errorf("indexIdent(%q, %q) = %q, want %q", tc.typeName, tc.fieldName, got, tc.want)
		}
	}
}

// integrationStore skips unless CATALOGCORE_TEST_POSTGRES_DSN points at a
// disposable database.
func integrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CATALOGCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CATALOGCORE_TEST_POSTGRES_DSN not set")
	}
	s, err := NewStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresRoundTrip(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()

	definition := domain.Document{
		"name": "eo",
		"dataset": map[string]any{
			"id":      []any{"id"},
			"sources": []any{"lineage", "source_datasets"},
			"search_fields": map[string]any{
				"platform": map[string]any{
					"type":   "string",
					"offset": []any{"platform", "code"},
				},
			},
		},
	}
	if err := s.AddMetadataType(ctx, "eo", definition, false); err != nil {
		t.Fatalf("AddMetadataType: %v", err)
	}
	mt, _, err := s.GetMetadataTypeByName(ctx, "eo")
	if err != nil {
		t.Fatalf("GetMetadataTypeByName: %v", err)
	}
	if err := s.AddProduct(ctx, "ls8_scene", nil, mt.ID, domain.Document{"name": "ls8_scene"}); err != nil {
		t.Fatalf("AddProduct: %v", err)
	}
	product, _, _ := s.GetProductByName(ctx, "ls8_scene")

	id := uuid.New()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.InsertDataset(ctx, domain.Document{"id": id.String()}, id, product.ID); err != nil {
		t.Fatalf("InsertDataset: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// A second store over the same database hydrates from the snapshot.
	hydrated, err := NewStore(ctx, os.Getenv("CATALOGCORE_TEST_POSTGRES_DSN"))
	if err != nil {
		t.Fatalf("second NewStore: %v", err)
	}
	defer hydrated.Close()
	if ok, _ := hydrated.ContainsDataset(ctx, id); !ok {
		t.Fatal("dataset not hydrated from snapshot")
	}

	// The projection row exists alongside the snapshot.
	var archived bool
	if err := s.DB().QueryRowContext(ctx, `SELECT archived FROM datasets WHERE id = $1`, id).Scan(&archived); err != nil {
		t.Fatalf("projection row missing: %v", err)
	}
	if archived {
		t.Fatal("fresh dataset projected as archived")
	}
}

func TestPostgresCheckDynamicFields(t *testing.T) {
	s := integrationStore(t)
	ctx := context.Background()
	if err := s.CheckDynamicFields(ctx, false, true); err != nil {
		t.Fatalf("CheckDynamicFields: %v", err)
	}
}
