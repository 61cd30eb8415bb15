package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"productrag/types"
)

// DBStorer is the persistence handle shared by the ingestion components.
type DBStorer interface {
	// Init bootstraps the schema; safe to call on every start.
	Init(ctx context.Context) error
	// Begin opens the write session of one document.
	Begin(ctx context.Context) (Session, error)
	Get(ctx context.Context, id string) (*types.EmbeddingRecord, error)
	ListBySource(ctx context.Context, sourceID string) ([]types.EmbeddingRecord, error)
	Dimension() int
	Close() error
}

// Session groups the writes of one document. Nothing is visible to other
// sessions before Commit; Close discards uncommitted writes and may be called
// after Commit.
type Session interface {
	// Upsert inserts rec unless a row with its id exists. It reports whether a row was written.
	Upsert(ctx context.Context, rec types.EmbeddingRecord) (bool, error)
	Commit(ctx context.Context) error
	Close(ctx context.Context) error
}

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("record not found")

const (
	createExtension = `CREATE EXTENSION IF NOT EXISTS vector`

	createTableTemplate = `
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		chunk_index INTEGER NOT NULL CHECK (chunk_index >= 0),
		text TEXT NOT NULL,
		embedding VECTOR(%d) NOT NULL
	)`

	// ivfflat is limited to 2000 dimensions; failures are logged and ignored
	createIndexTemplate = `
	CREATE INDEX IF NOT EXISTS %s ON %s
	USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100)`

	checkDimension = `
	SELECT a.atttypmod
	FROM pg_attribute a
	WHERE a.attrelid = $1::regclass
	AND a.attname = 'embedding'
	AND NOT a.attisdropped`

	insertTemplate = `
	INSERT INTO %s (id, name, url, price, chunk_index, text, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING`

	selectColumns = `id, name, url, price, chunk_index, text, embedding`
)

// PostgresStore stores embedding records in a pgvector-enabled table.
type PostgresStore struct {
	pool      *pgxpool.Pool
	table     string // sanitized identifier
	tableName string
	dim       int
	logger    *slog.Logger
}

// NewPostgresStore connects to the database named in connStr, creating the
// database first when it does not exist.
func NewPostgresStore(ctx context.Context, connStr, table string, dim int, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dim <= 0 {
		return nil, types.NewPersistenceError("connect", fmt.Errorf("%w: dimension must be positive, got %d", types.ErrDimensionMismatch, dim))
	}
	if table == "" {
		return nil, types.NewPersistenceError("connect", errors.New("empty table name"))
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, types.NewPersistenceError("parse connection string", err)
	}

	if err := ensureDatabase(ctx, cfg.ConnConfig, logger); err != nil {
		return nil, types.NewPersistenceError("create database", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, types.NewPersistenceError("connect", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, types.NewPersistenceError("ping", err)
	}

	return &PostgresStore{
		pool:      pool,
		table:     pgx.Identifier{table}.Sanitize(),
		tableName: table,
		dim:       dim,
		logger:    logger,
	}, nil
}

// ensureDatabase creates the target database through the maintenance database.
// When the maintenance database is unreachable the target is assumed to exist
// and the later ping reports the real problem.
func ensureDatabase(ctx context.Context, cfg *pgx.ConnConfig, logger *slog.Logger) error {
	name := cfg.Database
	if name == "" || name == "postgres" {
		return nil
	}

	admin := cfg.Copy()
	admin.Database = "postgres"
	conn, err := pgx.ConnectConfig(ctx, admin)
	if err != nil {
		logger.Debug("maintenance database unreachable, skipping create database", "err", err)
		return nil
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P04" {
		// created concurrently
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("created database", "database", name)
	return nil
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createEmbeddingTable(ctx)
}

func (p *PostgresStore) createEmbeddingTable(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createExtension); err != nil {
		return types.NewPersistenceError("create extension", err)
	}

	if _, err := p.pool.Exec(ctx, fmt.Sprintf(createTableTemplate, p.table, p.dim)); err != nil {
		return types.NewPersistenceError("create table", err)
	}

	var dbDim int
	if err := p.pool.QueryRow(ctx, checkDimension, p.table).Scan(&dbDim); err != nil {
		return types.NewPersistenceError("check dimension", err)
	}
	if dbDim != p.dim {
		return types.NewPersistenceError("check dimension",
			fmt.Errorf("%w: table %s has %d, model has %d", types.ErrDimensionMismatch, p.tableName, dbDim, p.dim))
	}

	index := pgx.Identifier{p.tableName + "_embedding_idx"}.Sanitize()
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(createIndexTemplate, index, p.table)); err != nil {
		p.logger.Warn("failed to create vector index", "table", p.tableName, "err", err)
	}
	return nil
}

func (p *PostgresStore) Dimension() int {
	return p.dim
}

func (p *PostgresStore) Begin(ctx context.Context) (Session, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, types.NewPersistenceError("begin", err)
	}
	return &pgSession{
		tx:     tx,
		insert: fmt.Sprintf(insertTemplate, p.table),
		dim:    p.dim,
	}, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*types.EmbeddingRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", selectColumns, p.table)
	rows, err := p.pool.Query(ctx, query, id)
	if err != nil {
		return nil, types.NewPersistenceError("get", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, types.NewPersistenceError("get", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

// ListBySource returns the rows of one source document ordered by chunk index.
func (p *PostgresStore) ListBySource(ctx context.Context, sourceID string) ([]types.EmbeddingRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
	WHERE left(id, length($1) + 1) = $1 || '_'
	AND substr(id, length($1) + 2) ~ '^[0-9]+$'
	ORDER BY chunk_index`, selectColumns, p.table)
	rows, err := p.pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, types.NewPersistenceError("list", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, types.NewPersistenceError("list", err)
	}
	return records, nil
}

func scanRecords(rows pgx.Rows) ([]types.EmbeddingRecord, error) {
	defer rows.Close()

	var records []types.EmbeddingRecord
	for rows.Next() {
		var (
			rec types.EmbeddingRecord
			vec pgvector.Vector
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.URL, &rec.Price, &rec.ChunkIndex, &rec.Text, &vec); err != nil {
			return nil, err
		}
		rec.Embedding = vec.Slice()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Debug("postgres connection pool is closed")
	}
	return nil
}

// pgSession is one transaction.
type pgSession struct {
	tx     pgx.Tx
	insert string
	dim    int
	done   bool
}

func (s *pgSession) Upsert(ctx context.Context, rec types.EmbeddingRecord) (bool, error) {
	if err := validateRecord(rec, s.dim); err != nil {
		return false, err
	}

	tag, err := s.tx.Exec(ctx, s.insert,
		rec.ID, rec.Name, rec.URL, rec.Price, rec.ChunkIndex, rec.Text, pgvector.NewVector(rec.Embedding),
	)
	if err != nil {
		return false, types.NewPersistenceError("upsert "+rec.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgSession) Commit(ctx context.Context) error {
	if s.done {
		return types.NewPersistenceError("commit", pgx.ErrTxClosed)
	}
	s.done = true
	if err := s.tx.Commit(ctx); err != nil {
		return types.NewPersistenceError("commit", err)
	}
	return nil
}

func (s *pgSession) Close(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return types.NewPersistenceError("rollback", err)
	}
	return nil
}

// validateRecord rejects rows the table must never hold.
func validateRecord(rec types.EmbeddingRecord, dim int) error {
	switch {
	case rec.ID == "":
		return types.NewPersistenceError("upsert", errors.New("empty record id"))
	case rec.ChunkIndex < 0:
		return types.NewPersistenceError("upsert "+rec.ID, fmt.Errorf("negative chunk index %d", rec.ChunkIndex))
	case len(rec.Embedding) != dim:
		return types.NewPersistenceError("upsert "+rec.ID,
			fmt.Errorf("%w: got %d, store has %d", types.ErrDimensionMismatch, len(rec.Embedding), dim))
	}
	return nil
}

var _ DBStorer = (*PostgresStore)(nil)
