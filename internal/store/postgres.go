package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// DB is the subset of [pgxpool.Pool] used by [PostgresStore].
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements [Store] on PostgreSQL with pgvector.
// All methods are safe for concurrent use.
type PostgresStore struct {
	db    DB
	close func()
	now   func() time.Time
}

// NewPostgresStore wraps an existing connection. The schema must already be
// migrated (see [Migrate]).
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}, now: time.Now}
}

// Open connects to the database at dsn, registers pgvector types on every
// connection, and runs [Migrate].
func Open(ctx context.Context, dsn string, embeddingDimensions int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	s := NewPostgresStore(pool)
	s.close = pool.Close
	return s, nil
}

const recordColumns = `id::text, user_id, session_id, question_index, question_text, status,
       transcription, video_analysis, raw_results, feedback, error, created_at, updated_at`

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	const q = `
		INSERT INTO analyses
		    (id, user_id, session_id, question_index, question_text, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`

	id := uuid.New()
	now := s.now().UTC()
	if _, err := s.db.Exec(ctx, q,
		id,
		rec.UserID,
		rec.SessionID,
		rec.QuestionIndex,
		rec.QuestionText,
		string(StatusUploaded),
		now,
	); err != nil {
		return fmt.Errorf("postgres store: create: %w", err)
	}
	rec.ID = id.String()
	rec.Status = StatusUploaded
	rec.CreatedAt, rec.UpdatedAt = now, now
	return nil
}

// SetStatus implements [Store].
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	const q = `UPDATE analyses SET status = $2, updated_at = now() WHERE id = $1`
	return s.update(ctx, "set status", q, id, string(status))
}

// Complete implements [Store].
func (s *PostgresStore) Complete(ctx context.Context, id string, out Outcome) error {
	const q = `
		UPDATE analyses SET
		    status         = $2,
		    transcription  = $3,
		    video_analysis = $4,
		    raw_results    = $5,
		    feedback       = $6,
		    embedding      = $7,
		    updated_at     = now()
		WHERE id = $1`

	var vec any
	if len(out.Embedding) > 0 {
		vec = pgvector.NewVector(out.Embedding)
	}
	return s.update(ctx, "complete", q, id,
		string(StatusProcessed),
		out.Transcription,
		jsonArg(out.VideoAnalysis),
		jsonArg(out.RawResults),
		jsonArg(out.Feedback),
		vec,
	)
}

// Fail implements [Store].
func (s *PostgresStore) Fail(ctx context.Context, id string, msg string) error {
	const q = `UPDATE analyses SET status = $2, error = $3, updated_at = now() WHERE id = $1`
	return s.update(ctx, "fail", q, id, string(StatusError), msg)
}

func (s *PostgresStore) update(ctx context.Context, action, q, id string, args ...any) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, q, append([]any{uid}, args...)...)
	if err != nil {
		return fmt.Errorf("postgres store: %s: %w", action, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	q := `SELECT ` + recordColumns + ` FROM analyses WHERE id = $1`
	rec, err := scanRecord(s.db.QueryRow(ctx, q, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get: %w", err)
	}
	return &rec, nil
}

// ListBySession implements [Store].
func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	q := `SELECT ` + recordColumns + `
		FROM   analyses
		WHERE  session_id = $1
		ORDER  BY question_index, created_at`

	rows, err := s.db.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// Similar implements [Store] using pgvector cosine distance.
func (s *PostgresStore) Similar(ctx context.Context, id string, limit int) ([]Match, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var hasEmbedding bool
	err = s.db.QueryRow(ctx, `SELECT embedding IS NOT NULL FROM analyses WHERE id = $1`, uid).Scan(&hasEmbedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar: %w", err)
	}
	if !hasEmbedding || limit <= 0 {
		return []Match{}, nil
	}

	q := `SELECT ` + recordColumns + `,
		       1 - (embedding <=> (SELECT embedding FROM analyses WHERE id = $1)) AS similarity
		FROM   analyses
		WHERE  id <> $1
		  AND  embedding IS NOT NULL
		ORDER  BY embedding <=> (SELECT embedding FROM analyses WHERE id = $1)
		LIMIT  $2`

	rows, err := s.db.Query(ctx, q, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		var va, rr, fb []byte
		if err := row.Scan(append(recordDest(&m.Record, &va, &rr, &fb), &m.Similarity)...); err != nil {
			return Match{}, err
		}
		setJSON(&m.Record, va, rr, fb)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection pool when the store owns it.
func (s *PostgresStore) Close() {
	s.close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec        Record
		va, rr, fb []byte
	)
	if err := row.Scan(recordDest(&rec, &va, &rr, &fb)...); err != nil {
		return Record{}, err
	}
	setJSON(&rec, va, rr, fb)
	return rec, nil
}

// recordDest returns scan targets in recordColumns order. JSONB columns are
// scanned into byte slices so NULL stays nil.
func recordDest(rec *Record, va, rr, fb *[]byte) []any {
	return []any{
		&rec.ID,
		&rec.UserID,
		&rec.SessionID,
		&rec.QuestionIndex,
		&rec.QuestionText,
		(*string)(&rec.Status),
		&rec.Transcription,
		va,
		rr,
		fb,
		&rec.Error,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	}
}

func setJSON(rec *Record, va, rr, fb []byte) {
	if len(va) > 0 {
		rec.VideoAnalysis = json.RawMessage(va)
	}
	if len(rr) > 0 {
		rec.RawResults = json.RawMessage(rr)
	}
	if len(fb) > 0 {
		rec.Feedback = json.RawMessage(fb)
	}
}

// jsonArg passes an empty document as SQL NULL.
func jsonArg(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
