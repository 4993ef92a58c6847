// Package sqlite persists catalog state to a single SQLite file as JSON
// snapshots, reusing the in-memory store for transactional semantics.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"catalogcore/internal/infra/persistence/memory"
	"catalogcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.CatalogStore = (*Store)(nil)

// Store snapshots the full catalog state after every successful mutation.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed catalog store.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "catalogcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS catalog_state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) load() error {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM catalog_state WHERE bucket = 'catalog'`).Scan(&payload)
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

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(s.ExportState())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO catalog_state (bucket, payload) VALUES ('catalog', ?)
		ON CONFLICT (bucket) DO UPDATE SET payload = excluded.payload`, payload); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// AddMetadataType registers the type in the mirror and persists.
func (s *Store) AddMetadataType(ctx context.Context, name string, definition domain.Document, concurrently bool) error {
	if err := s.Store.AddMetadataType(ctx, name, definition, concurrently); err != nil {
		return err
	}
	return s.persist()
}

// AddProduct registers the product in the mirror and persists.
func (s *Store) AddProduct(ctx context.Context, name string, metadata domain.Document, metadataTypeID int, definition domain.Document) error {
	if err := s.Store.AddProduct(ctx, name, metadata, metadataTypeID, definition); err != nil {
		return err
	}
	return s.persist()
}

// EnsureDatasetLocation registers the location in the mirror and persists.
func (s *Store) EnsureDatasetLocation(ctx context.Context, id uuid.UUID, uri string) error {
	if err := s.Store.EnsureDatasetLocation(ctx, id, uri); err != nil {
		return err
	}
	return s.persist()
}

// CheckDynamicFields delegates to the mirror and persists the marker state.
func (s *Store) CheckDynamicFields(ctx context.Context, concurrently, rebuildAll bool) error {
	if err := s.Store.CheckDynamicFields(ctx, concurrently, rebuildAll); err != nil {
		return err
	}
	return s.persist()
}

// Begin opens a mirror transaction whose commit also persists the snapshot.
func (s *Store) Begin(ctx context.Context) (domain.CatalogTx, error) {
	inner, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &tx{CatalogTx: inner, store: s}, nil
}

type tx struct {
	domain.CatalogTx
	store *Store
}

// Commit publishes the mirror state and persists the snapshot durably.
func (t *tx) Commit() error {
	if err := t.CatalogTx.Commit(); err != nil {
		return err
	}
	return t.store.persist()
}
