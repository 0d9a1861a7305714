// Package migrate applies the schema migrations and seed data embedded in the
// postgres store package and records what ran in bookkeeping tables.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	seedSuffix = ".sql"
)

// ErrNothingApplied is returned by Down when no migration is recorded.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Manager runs the files of two flat directories of an fs.FS: numbered
// NNNN_name.up.sql / .down.sql pairs and one-shot seed scripts.
type Manager struct {
	db     *sql.DB
	fsys   fs.FS
	schema step
	seeds  step
}

// step is one directory of scripts and the table remembering which ran.
type step struct {
	dir   string
	table string
}

// Option configures a Manager.
type Option func(*Manager)

// WithMigrationsTable renames the table recording applied migrations.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.schema.table = name
		}
	}
}

// WithSeedsTable renames the table recording applied seeds.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeds.table = name
		}
	}
}

// NewManager reads migrationsDir and seedsDir from fsys.
func NewManager(db *sql.DB, fsys fs.FS, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		fsys:   fsys,
		schema: step{dir: migrationsDir, table: "schema_migrations"},
		seeds:  step{dir: seedsDir, table: "schema_seeds"},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up runs every migration not yet recorded, oldest first.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, m.schema, upSuffix)
}

// Seed runs every seed script not yet recorded.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, m.seeds, seedSuffix)
}

// Down reverts the newest recorded migration using its .down.sql sibling.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1]
	down := path.Join(m.schema.dir, strings.TrimSuffix(last, upSuffix)+downSuffix)
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.schema.table)
	err = m.run(ctx, down, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, forget, last)
		return err
	})
	if err != nil {
		return fmt.Errorf("migrate: revert %s: %w", last, err)
	}
	return nil
}

// Status lists applied migrations in the order they ran.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.schema.table)
}

func (m *Manager) applyPending(ctx context.Context, s step, suffix string) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx, s.table)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(done))
	for _, name := range done {
		seen[name] = true
	}
	files, err := collectSQL(m.fsys, s.dir, suffix)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, s.table)
	for _, f := range files {
		if seen[f.Name] {
			continue
		}
		err := m.run(ctx, f.Path, func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, record, f.Name, time.Now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("migrate: apply %s: %w", f.Name, err)
		}
	}
	return nil
}

// run executes the statements of one file and then bookkeep, all in a single
// transaction, so a script is never recorded without its effects.
func (m *Manager) run(ctx context.Context, file string, bookkeep func(context.Context, *sql.Tx) error) error {
	body, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := bookkeep(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.schema.table, m.seeds.table} {
		ddl := fmt.Sprintf(`create table if not exists %s (
	name       text primary key,
	applied_at timestamptz not null default now()
)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: create %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type sqlFile struct {
	Name string
	Path string
}

// collectSQL lists the files directly under dir ending in suffix, sorted by
// name. Seeds use the bare ".sql" suffix, so down scripts are never picked up
// for it. A missing dir yields no files.
func collectSQL(fsys fs.FS, dir, suffix string) ([]sqlFile, error) {
	if fsys == nil || dir == "" {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []sqlFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		if suffix == seedSuffix && (strings.HasSuffix(name, upSuffix) || strings.HasSuffix(name, downSuffix)) {
			continue
		}
		files = append(files, sqlFile{Name: name, Path: path.Join(dir, name)})
	}
	return files, nil
}

// splitStatements cuts a script on semicolons that sit outside single-quoted
// literals and "--" comments. Comments are dropped; empty statements too.
func splitStatements(script string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
		case quoted:
			cur.WriteByte(c)
			if c == '\'' {
				// '' is an escaped quote and keeps the literal open.
				if i+1 < len(script) && script[i+1] == '\'' {
					cur.WriteByte('\'')
					i++
				} else {
					quoted = false
				}
			}
		case c == '\'':
			quoted = true
			cur.WriteByte(c)
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			comment = true
			i++
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return stmts
}
