package fixture

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/tossie79/tmhcc-insurance/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no policy has the requested number.
var ErrNotFound = errors.New("fixture: policy not found")

const dateLayout = "2006-01-02"

// Record is one stored policy. Premium is held in minor currency units.
type Record struct {
	ID           int64
	PolicyNumber string
	InsuredName  string
	PremiumMinor int64
	Currency     string
	StartDate    time.Time
	EndDate      time.Time
	Status       model.PolicyStatus
	PolicyType   model.PolicyType
}

// Store is the SQLite-backed policy table served by the fixture backend.
type Store struct {
	db  *sql.DB
	log logr.Logger
}

// Open opens (creating when missing) the database at path and migrates it.
func Open(ctx context.Context, path string, log logr.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("fixture: db path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "fixture: create db dir")
		}
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "fixture: open db")
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "fixture: %s", p)
		}
	}
	s := &Store{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS policy_statuses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS policy_types (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS policies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			policy_number TEXT NOT NULL UNIQUE,
			insured_name TEXT NOT NULL,
			premium_minor INTEGER NOT NULL,
			premium_currency TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			status_id INTEGER NOT NULL REFERENCES policy_statuses(id),
			type_id INTEGER NOT NULL REFERENCES policy_types(id),
			created_at_unixms INTEGER NOT NULL,
			updated_at_unixms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_policies_number ON policies(policy_number);`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return errors.Wrap(err, "fixture: migrate")
		}
	}
	return nil
}

// Count returns the number of stored policies.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "fixture: count policies")
	}
	return n, nil
}

const selectPolicies = `SELECT p.id, p.policy_number, p.insured_name, p.premium_minor, p.premium_currency,
		p.start_date, p.end_date, s.name, t.name
	FROM policies p
	JOIN policy_statuses s ON s.id = p.status_id
	JOIN policy_types t ON t.id = p.type_id`

// List returns every policy in insertion order.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectPolicies+` ORDER BY p.id`)
	if err != nil {
		return nil, errors.Wrap(err, "fixture: list policies")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "fixture: list policies")
	}
	return out, nil
}

// Get returns the policy with the given number or ErrNotFound.
func (s *Store) Get(ctx context.Context, policyNumber string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectPolicies+` WHERE p.policy_number = ?`, policyNumber)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec        Record
		start, end string
	)
	if err := sc.Scan(&rec.ID, &rec.PolicyNumber, &rec.InsuredName, &rec.PremiumMinor, &rec.Currency,
		&start, &end, &rec.Status, &rec.PolicyType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, errors.Wrap(err, "fixture: scan policy")
	}
	var err error
	if rec.StartDate, err = time.Parse(dateLayout, start); err != nil {
		return Record{}, errors.Wrapf(err, "fixture: policy %s start date", rec.PolicyNumber)
	}
	if rec.EndDate, err = time.Parse(dateLayout, end); err != nil {
		return Record{}, errors.Wrapf(err, "fixture: policy %s end date", rec.PolicyNumber)
	}
	return rec, nil
}
