package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"keyward.org/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// ErrNothingApplied is returned by Down when no migration has been recorded.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Manager applies SQL migrations and seed files read from a filesystem,
// usually the ones embedded by Schema and Seeds.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	log             logrus.FieldLogger
}

// Option configures Manager.
type Option func(*Manager)

func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = obs.OrDiscard(l) }
}

// NewManager constructs a Manager. A nil seeds filesystem disables Seed.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		log:             obs.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Entry is one migration as reported by Status.
type Entry struct {
	Name      string     `json:"name"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Up applies every pending migration in name order and returns the names applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.applied(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	names, err := collect(m.migrations, upSuffix)
	if err != nil {
		return nil, err
	}
	var done []string
	for _, name := range names {
		if _, ok := executed[name]; ok {
			continue
		}
		if err := m.run(ctx, m.migrations, name, m.migrationsTable, true); err != nil {
			return done, fmt.Errorf("apply migration %s: %w", name, err)
		}
		m.log.WithField("migration", name).Info("migration applied")
		done = append(done, name)
	}
	return done, nil
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	history, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", ErrNothingApplied
	}
	last := history[len(history)-1].Name
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	if _, err := fs.Stat(m.migrations, down); err != nil {
		return "", fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.run(ctx, m.migrations, down, m.migrationsTable, false); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	m.log.WithField("migration", last).Info("migration rolled back")
	return last, nil
}

// Status lists every known migration, applied ones first in the order they ran.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	history, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	names, err := collect(m.migrations, upSuffix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(history))
	for _, e := range history {
		seen[e.Name] = true
	}
	for _, name := range names {
		if !seen[name] {
			history = append(history, Entry{Name: name})
		}
	}
	return history, nil
}

// Seed applies seed files that have not run yet and returns their names.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	if m.seeds == nil {
		return nil, nil
	}
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	executed, err := m.applied(ctx, m.seedsTable)
	if err != nil {
		return nil, err
	}
	names, err := collect(m.seeds, ".sql")
	if err != nil {
		return nil, err
	}
	var done []string
	for _, name := range names {
		if _, ok := executed[name]; ok {
			continue
		}
		if err := m.run(ctx, m.seeds, name, m.seedsTable, true); err != nil {
			return done, fmt.Errorf("apply seed %s: %w", name, err)
		}
		m.log.WithField("seed", name).Info("seed applied")
		done = append(done, name)
	}
	return done, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (name text primary key, applied_at timestamptz not null default now())`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// run executes one file and its bookkeeping row in a single transaction.
// Rolling back a migration deletes the row of the matching up file.
func (m *Manager) run(ctx context.Context, fsys fs.FS, name, table string, record bool) error {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if record {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table), name, time.Now().UTC())
	} else {
		up := strings.TrimSuffix(name, downSuffix) + upSuffix
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, table), up)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) (map[string]struct{}, error) {
	history, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(history))
	for _, e := range history {
		out[e.Name] = struct{}{}
	}
	return out, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: name, AppliedAt: &at})
	}
	return out, rows.Err()
}

// collect lists the top-level files of fsys ending in suffix, sorted by name.
func collect(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings and
// line comments.
func splitStatements(src string) []string {
	var (
		stmts     []string
		current   strings.Builder
		inString  bool
		inComment bool
	)
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
				current.WriteRune(r)
			}
		case !inString && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case r == ';' && !inString:
			current.WriteRune(r)
			stmts = append(stmts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
