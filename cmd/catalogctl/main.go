// Command catalogctl administers a catalog: registering metadata types and
// products from JSON definition files and maintaining field indexes.
//
// Store selection:
//
//	CATALOGCORE_STORE: memory|sqlite|postgres (default sqlite)
//	CATALOGCORE_SQLITE_PATH: database file when store=sqlite
//	CATALOGCORE_POSTGRES_DSN: connection string when store=postgres
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"catalogcore/internal/index"
	"catalogcore/internal/infra/persistence/memory"
	"catalogcore/internal/infra/persistence/postgres"
	"catalogcore/internal/infra/persistence/sqlite"
	"catalogcore/pkg/domain"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(stderr, nil))

	ix, closeStore, err := openIndex(ctx, log)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer closeStore()

	switch args[0] {
	case "metadata-type":
		return runMetadataType(ctx, ix, args[1:], stdout, stderr)
	case "product":
		return runProduct(ctx, ix, args[1:], stdout, stderr)
	case "check-field-indexes":
		return runCheckFieldIndexes(ctx, ix, args[1:], stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: catalogctl <command> [flags]")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  metadata-type add <file.json>...   register metadata types")
	fmt.Fprintln(w, "  product add <file.json>...         register products")
	fmt.Fprintln(w, "  check-field-indexes [flags]        (re)build per-field indexes")
}

func openIndex(ctx context.Context, log *slog.Logger) (*index.Index, func(), error) {
	var store domain.CatalogStore
	closeStore := func() {}
	switch driver := os.Getenv("CATALOGCORE_STORE"); driver {
	case "memory":
		store = memory.NewStore()
	case "postgres":
		pg, err := postgres.NewStore(ctx, os.Getenv("CATALOGCORE_POSTGRES_DSN"))
		if err != nil {
			return nil, nil, err
		}
		store = pg
		closeStore = func() { _ = pg.Close() }
	case "", "sqlite":
		sq, err := sqlite.NewStore(os.Getenv("CATALOGCORE_SQLITE_PATH"))
		if err != nil {
			return nil, nil, err
		}
		store = sq
		closeStore = func() { _ = sq.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown store driver %s", driver)
	}
	return index.New(store, index.WithLogger(slogLogger{log})), closeStore, nil
}

func runMetadataType(ctx context.Context, ix *index.Index, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("metadata-type", flag.ContinueOnError)
	fs.SetOutput(stderr)
	allowTableLock := fs.Bool("allow-table-lock", false, "permit an exclusive, faster index build")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) < 2 || rest[0] != "add" {
		fmt.Fprintln(stderr, "usage: catalogctl metadata-type add [-allow-table-lock] <file.json>...")
		return 2
	}
	for _, path := range rest[1:] {
		definition, err := readDocument(path)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			return 1
		}
		mt, err := ix.MetadataTypes().Add(ctx, definition, *allowTableLock)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			return 1
		}
		fmt.Fprintf(stdout, "metadata type %q (id %d)\n", mt.Name, mt.ID)
	}
	return 0
}

func runProduct(ctx context.Context, ix *index.Index, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 || args[0] != "add" {
		fmt.Fprintln(stderr, "usage: catalogctl product add <file.json>...")
		return 2
	}
	exit := 0
	for _, path := range args[1:] {
		definition, err := readDocument(path)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			exit = 1
			continue
		}
		product, err := ix.Products().AddDocument(ctx, definition)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			exit = 1
			continue
		}
		fmt.Fprintf(stdout, "product %q (id %d)\n", product.Name, product.ID)
	}
	return exit
}

func runCheckFieldIndexes(ctx context.Context, ix *index.Index, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("check-field-indexes", flag.ContinueOnError)
	fs.SetOutput(stderr)
	allowTableLock := fs.Bool("allow-table-lock", false, "permit an exclusive, faster index build")
	rebuildAll := fs.Bool("rebuild-all", false, "force recomputation of existing index structures")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := ix.MetadataTypes().CheckFieldIndexes(ctx, *allowTableLock, *rebuildAll); err != nil {
		fmt.Fprintf(stderr, "check field indexes: %v\n", err)
		return 1
	}
	return 0
}

func readDocument(path string) (domain.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc domain.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return doc, nil
}

// slogLogger adapts *slog.Logger to the index logging seam.
type slogLogger struct {
	log *slog.Logger
}

func (l slogLogger) Debug(msg string, kv ...any) { l.log.Debug(msg, kv...) }
func (l slogLogger) Info(msg string, kv ...any)  { l.log.Info(msg, kv...) }
func (l slogLogger) Warn(msg string, kv ...any)  { l.log.Warn(msg, kv...) }
func (l slogLogger) Error(msg string, kv ...any) { l.log.Error(msg, kv...) }
