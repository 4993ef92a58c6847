// Package postgres provides a Postgres-backed catalog store that mirrors
// the in-memory semantics while persisting durable snapshots and a
// queryable datasets projection with dynamic per-field indexes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"catalogcore/internal/infra/persistence/memory"
	"catalogcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.CatalogStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN allows local development without configuration.
	defaultDSN = "postgres://localhost/catalogcore?sslmode=disable"
)

// Store persists catalog state to Postgres while reusing the in-memory
// implementation for transactional semantics.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the state and projection tables exist, and
// hydrates the in-memory mirror from any existing snapshot.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open(defaultDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTables(ctx, db); err != nil {
		return nil, err
	}
	mem := memory.NewStore()
	s := &Store{Store: mem, db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureTables(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS catalog_state (
			bucket TEXT PRIMARY KEY,
			payload JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS datasets (
			id UUID PRIMARY KEY,
			product_id INTEGER NOT NULL,
			archived BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func (s *Store) load(ctx context.Context) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM catalog_state WHERE bucket = 'catalog'`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	var snapshot memory.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO catalog_state (bucket, payload) VALUES ('catalog', $1)
		 ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload`, payload); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	if err := projectDatasets(ctx, tx, snapshot.Datasets); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

// projectDatasets mirrors dataset rows into the queryable projection table.
func projectDatasets(ctx context.Context, tx *sql.Tx, datasets []domain.DatasetRecord) error {
	for _, rec := range datasets {
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode dataset %s: %w", rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO datasets (id, product_id, archived, metadata) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET archived = EXCLUDED.archived, metadata = EXCLUDED.metadata`,
			rec.ID, rec.ProductID, rec.Archived, metadata); err != nil {
			return fmt.Errorf("project dataset %s: %w", rec.ID, err)
		}
	}
	return nil
}

// AddMetadataType registers the type in the mirror, persists the snapshot,
// and builds the type's per-field indexes. concurrently selects CREATE
// INDEX CONCURRENTLY, which cannot run inside a transaction and does not
// block concurrent readers and writers.
func (s *Store) AddMetadataType(ctx context.Context, name string, definition domain.Document, concurrently bool) error {
	if err := s.Store.AddMetadataType(ctx, name, definition, concurrently); err != nil {
		return err
	}
	if err := s.persist(ctx); err != nil {
		return err
	}
	return s.buildFieldIndexes(ctx, name, definition, concurrently, false)
}

// AddProduct registers the product in the mirror and persists the snapshot.
func (s *Store) AddProduct(ctx context.Context, name string, metadata domain.Document, metadataTypeID int, definition domain.Document) error {
	if err := s.Store.AddProduct(ctx, name, metadata, metadataTypeID, definition); err != nil {
		return err
	}
	return s.persist(ctx)
}

// EnsureDatasetLocation registers the location in the mirror and persists
// the snapshot.
func (s *Store) EnsureDatasetLocation(ctx context.Context, id uuid.UUID, uri string) error {
	if err := s.Store.EnsureDatasetLocation(ctx, id, uri); err != nil {
		return err
	}
	return s.persist(ctx)
}

// CheckDynamicFields (re)builds per-field expression indexes for every
// registered metadata type.
func (s *Store) CheckDynamicFields(ctx context.Context, concurrently, rebuildAll bool) error {
	if err := s.Store.CheckDynamicFields(ctx, concurrently, rebuildAll); err != nil {
		return err
	}
	for _, rec := range s.ExportState().MetadataTypes {
		if err := s.buildFieldIndexes(ctx, rec.Name, rec.Definition, concurrently, rebuildAll); err != nil {
			return err
		}
	}
	return nil
}

var identPattern = regexp.MustCompile(`[^a-z0-9_]+`)

func indexIdent(typeName, fieldName string) string {
	clean := func(s string) string {
		return identPattern.ReplaceAllString(strings.ToLower(s), "_")
	}
	return fmt.Sprintf("ix_field_%s_%s", clean(typeName), clean(fieldName))
}

// buildFieldIndexes creates one expression index per single-offset search
// field over the datasets projection. Range fields are skipped: their
// bounds span multiple offsets and are served by the mirror.
func (s *Store) buildFieldIndexes(ctx context.Context, typeName string, definition domain.Document, concurrently, rebuildAll bool) error {
	dataset, _ := definition["dataset"].(map[string]any)
	searchFields, _ := dataset["search_fields"].(map[string]any)
	for fieldName, rawSpec := range searchFields {
		spec, _ := rawSpec.(map[string]any)
		path, err := domain.DocumentPath(spec["offset"])
		if err != nil {
			continue
		}
		ident := indexIdent(typeName, fieldName)
		if rebuildAll {
			drop := fmt.Sprintf(`DROP INDEX IF EXISTS %s`, ident)
			if concurrently {
				drop = fmt.Sprintf(`DROP INDEX CONCURRENTLY IF EXISTS %s`, ident)
			}
			if _, err := s.db.ExecContext(ctx, drop); err != nil {
				return fmt.Errorf("drop index %s: %w", ident, err)
			}
		}
		create := "CREATE INDEX"
		if concurrently {
			create = "CREATE INDEX CONCURRENTLY"
		}
		stmt := fmt.Sprintf(`%s IF NOT EXISTS %s ON datasets ((metadata #>> '{%s}'))`,
			create, ident, strings.Join(path, ","))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index %s: %w", ident, err)
		}
	}
	return nil
}

// Begin opens a mirror transaction whose commit also persists the snapshot.
func (s *Store) Begin(ctx context.Context) (domain.CatalogTx, error) {
	inner, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &tx{CatalogTx: inner, store: s, ctx: ctx}, nil
}

type tx struct {
	domain.CatalogTx
	store *Store
	ctx   context.Context
}

// Commit publishes the mirror state and persists the snapshot durably.
func (t *tx) Commit() error {
	if err := t.CatalogTx.Commit(); err != nil {
		return err
	}
	return t.store.persist(t.ctx)
}
