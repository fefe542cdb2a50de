package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/refetch/internal/helpers"
)

// Attempt statuses. The worker classifies every provider outcome into
// exactly one of these before the row is written.
const (
	StatusSuccess = "SUCCESS"
	StatusEmpty   = "EMPTY"
	StatusTimeout = "TIMEOUT"
	StatusError   = "ERROR"
)

// SummaryMaxChars bounds the stored content summary per attempt.
const SummaryMaxChars = 500

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// StorageError wraps a failed store operation. It signals infrastructure
// failure, not strategy failure: callers terminate the run instead of
// retrying with a different strategy.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Attempt is one logged execution of a capability provider against a target.
// Rows are immutable once written and never deleted.
type Attempt struct {
	ID             string
	RunID          string
	Target         string
	Domain         string
	Strategy       string
	Parameters     map[string]interface{}
	Status         string
	ContentSummary string
	ErrorDetail    string
	CreatedAt      time.Time
}

// Advice is one curated, domain-scoped strategy hint.
type Advice struct {
	ID        int64
	Domain    string
	Text      string
	CreatedAt time.Time
}

type Store struct {
	DB *sql.DB
}

// New constructs the Store from DATABASE_URL or POSTGRES_* env vars.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// RecordAttempt appends one attempt row. The insert is a single statement so
// concurrent workers cannot interleave partial rows, and the driver does not
// buffer writes: when RecordAttempt returns the row is durable. The stored
// summary is clamped to SummaryMaxChars.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) (string, error) {
	if strings.TrimSpace(a.Target) == "" {
		return "", &StorageError{Op: "record attempt", Err: errors.New("target must be provided")}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	params := a.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", &StorageError{Op: "encode parameters", Err: err}
	}
	// Clamp on a rune boundary: Postgres rejects TEXT values holding a split
	// multi-byte sequence.
	summary := helpers.TruncateUTF8(a.ContentSummary, SummaryMaxChars)
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO attempts (id, run_id, target, domain, strategy, parameters, status, content_summary, error_detail)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, a.ID, a.RunID, a.Target, a.Domain, a.Strategy, paramsJSON, a.Status, nullableString(summary), nullableString(a.ErrorDetail))
	if err != nil {
		return "", &StorageError{Op: "record attempt", Err: err}
	}
	return a.ID, nil
}

// GetAttempt returns a single attempt by id, or ErrNotFound.
func (s *Store) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, run_id, target, domain, strategy, parameters, status, content_summary, error_detail, created_at
FROM attempts WHERE id=$1
`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrNotFound
	}
	if err != nil {
		return Attempt{}, &StorageError{Op: "get attempt", Err: err}
	}
	return a, nil
}

// SearchAttemptsByTarget returns attempts with the exact canonical target,
// most recent first.
func (s *Store) SearchAttemptsByTarget(ctx context.Context, target string, limit int) ([]Attempt, error) {
	return s.queryAttempts(ctx, `
SELECT id, run_id, target, domain, strategy, parameters, status, content_summary, error_detail, created_at
FROM attempts WHERE target=$1 ORDER BY created_at DESC LIMIT $2
`, target, clampLimit(limit))
}

// SearchAttemptsByDomain returns attempts whose normalised target shares the
// domain, most recent first.
func (s *Store) SearchAttemptsByDomain(ctx context.Context, domain string, limit int) ([]Attempt, error) {
	return s.queryAttempts(ctx, `
SELECT id, run_id, target, domain, strategy, parameters, status, content_summary, error_detail, created_at
FROM attempts WHERE domain=$1 ORDER BY created_at DESC LIMIT $2
`, domain, clampLimit(limit))
}

// ListAttemptsByRun returns one orchestrator run's trail, oldest first.
func (s *Store) ListAttemptsByRun(ctx context.Context, runID string) ([]Attempt, error) {
	return s.queryAttempts(ctx, `
SELECT id, run_id, target, domain, strategy, parameters, status, content_summary, error_detail, created_at
FROM attempts WHERE run_id=$1 ORDER BY created_at ASC
`, runID)
}

func (s *Store) queryAttempts(ctx context.Context, q string, args ...interface{}) ([]Attempt, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &StorageError{Op: "search attempts", Err: err}
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, &StorageError{Op: "scan attempt", Err: err}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "search attempts", Err: err}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var (
		a          Attempt
		paramsJSON []byte
		summary    sql.NullString
		detail     sql.NullString
	)
	if err := row.Scan(&a.ID, &a.RunID, &a.Target, &a.Domain, &a.Strategy, &paramsJSON, &a.Status, &summary, &detail, &a.CreatedAt); err != nil {
		return Attempt{}, err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &a.Parameters); err != nil {
			return Attempt{}, err
		}
	}
	a.ContentSummary = summary.String
	a.ErrorDetail = detail.String
	return a, nil
}

// AddAdvice appends one curated hint for a domain. Curation is additive:
// multiple entries per domain are expected and never deduplicated.
func (s *Store) AddAdvice(ctx context.Context, domain, text string) (int64, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	domain = strings.TrimPrefix(domain, "www.")
	if domain == "" {
		return 0, &StorageError{Op: "add advice", Err: errors.New("domain must be provided")}
	}
	if strings.TrimSpace(text) == "" {
		return 0, &StorageError{Op: "add advice", Err: errors.New("text must be provided")}
	}
	var id int64
	err := s.DB.QueryRowContext(ctx, `INSERT INTO advice (domain, text) VALUES ($1,$2) RETURNING id`, domain, text).Scan(&id)
	if err != nil {
		return 0, &StorageError{Op: "add advice", Err: err}
	}
	return id, nil
}

// ListAdvice returns advice for a domain, oldest first. No advice is not an
// error: the result is simply empty.
func (s *Store) ListAdvice(ctx context.Context, domain string) ([]Advice, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	domain = strings.TrimPrefix(domain, "www.")
	return s.queryAdvice(ctx, `
SELECT id, domain, text, created_at FROM advice WHERE domain=$1 ORDER BY created_at ASC, id ASC
`, domain)
}

// ListAllAdvice returns every advice entry grouped by domain, insertion order
// within each domain.
func (s *Store) ListAllAdvice(ctx context.Context) ([]Advice, error) {
	return s.queryAdvice(ctx, `
SELECT id, domain, text, created_at FROM advice ORDER BY domain ASC, created_at ASC, id ASC
`)
}

func (s *Store) queryAdvice(ctx context.Context, q string, args ...interface{}) ([]Advice, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &StorageError{Op: "list advice", Err: err}
	}
	defer rows.Close()
	var out []Advice
	for rows.Next() {
		var a Advice
		if err := rows.Scan(&a.ID, &a.Domain, &a.Text, &a.CreatedAt); err != nil {
			return nil, &StorageError{Op: "scan advice", Err: err}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list advice", Err: err}
	}
	return out, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

func nullableString(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
