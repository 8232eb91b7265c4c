package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// migrationLockID serialises concurrent migrators on one database.
const migrationLockID = 7462901

// MigrateConn is the subset of pgxpool.Pool the migrator needs.
type MigrateConn interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type migration struct {
	version  string
	filename string
	checksum string
	body     string
}

// Migrate applies every NNN_description.sql file in fsys that is not yet recorded in
// schema_migrations, in filename order, one transaction per file. A recorded file
// whose checksum changed is an error. It returns the filenames it applied.
func Migrate(ctx context.Context, db MigrateConn, fsys fs.FS) ([]string, error) {
	migrations, err := discoverMigrations(fsys)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, m := range migrations {
		ok, err := applyMigration(ctx, db, m)
		if err != nil {
			return applied, err
		}
		if ok {
			applied = append(applied, m.filename)
			log.Info().Str("migration", m.filename).Msg("migration applied")
		} else {
			log.Debug().Str("migration", m.filename).Msg("migration already applied")
		}
	}
	return applied, nil
}

func discoverMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	seen := make(map[string]string)
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		version, _, ok := strings.Cut(name, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("invalid migration filename %s, expected NNN_description.sql", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %s (%s, %s)", version, prev, name)
		}
		seen[version] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{
			version:  version,
			filename: name,
			checksum: hex.EncodeToString(sum[:]),
			body:     string(body),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].filename < out[j].filename })
	return out, nil
}

func applyMigration(ctx context.Context, db MigrateConn, m migration) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", m.filename, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}

	var existing string
	err = tx.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", m.version).Scan(&existing)
	switch {
	case err == nil:
		if existing != m.checksum {
			return false, fmt.Errorf("checksum mismatch for %s: recorded %s, file %s", m.filename, existing, m.checksum)
		}
		return false, nil
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return false, fmt.Errorf("query schema_migrations for %s: %w", m.filename, err)
	}

	if _, err := tx.Exec(ctx, m.body); err != nil {
		return false, fmt.Errorf("execute migration %s: %w", m.filename, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		m.version, m.filename, m.checksum,
	); err != nil {
		return false, fmt.Errorf("record migration %s: %w", m.filename, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", m.filename, err)
	}
	return true, nil
}
