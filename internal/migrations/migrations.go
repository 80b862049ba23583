// Package migrations applies the schema migrations embedded under sql/.
// Files are named NNNN_name.sql and run in lexical order; the numeric
// prefix encodes the dependency order outbox -> carts -> cart_items ->
// orders -> payments. Applied files are recorded in schema_migrations
// and never re-run.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gorm.io/gorm"
)

//go:embed sql/*.sql
var embedded embed.FS

// Run applies every pending embedded migration.
func Run(db *gorm.DB) (int, error) {
	fsys, err := fs.Sub(embedded, "sql")
	if err != nil {
		return 0, fmt.Errorf("migrations: embedded fs: %w", err)
	}
	return Apply(db, fsys)
}

// Apply runs every *.sql file in fsys in lexical name order, skipping the
// ones already recorded in schema_migrations. Each file runs in its own
// transaction. Returns the number of files applied.
func Apply(db *gorm.DB, fsys fs.FS) (int, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return 0, fmt.Errorf("migrations: list files: %w", err)
	}
	sort.Strings(names)

	if err := db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`).Error; err != nil {
		return 0, fmt.Errorf("migrations: create schema_migrations: %w", err)
	}

	applied := 0
	for _, name := range names {
		key := strings.TrimSuffix(name, ".sql")

		var count int64
		if err := db.Table("schema_migrations").Where("name = ?", key).Count(&count).Error; err != nil {
			return applied, fmt.Errorf("migrations: check %s: %w", key, err)
		}
		if count > 0 {
			continue
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, fmt.Errorf("migrations: read %s: %w", name, err)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			for _, stmt := range splitStatements(string(data)) {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return tx.Exec("INSERT INTO schema_migrations (name) VALUES (?)", key).Error
		})
		if err != nil {
			return applied, fmt.Errorf("migrations: apply %s: %w", key, err)
		}
		applied++
	}
	return applied, nil
}

// splitStatements cuts a migration file into single statements at
// top-level semicolons. Dollar-quoted bodies ($$ ... $$) keep their
// semicolons; the driver runs statements one at a time, so files must
// not rely on multi-statement execution.
func splitStatements(sqlText string) []string {
	var (
		stmts    []string
		b        strings.Builder
		inDollar bool
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			stmts = append(stmts, s)
		}
		b.Reset()
	}

	for i := 0; i < len(sqlText); i++ {
		if strings.HasPrefix(sqlText[i:], "$$") {
			inDollar = !inDollar
			b.WriteString("$$")
			i++
			continue
		}
		if sqlText[i] == ';' && !inDollar {
			flush()
			continue
		}
		b.WriteByte(sqlText[i])
	}
	flush()
	return stmts
}
