// Package store persists normalized node samples into MySQL and manages the
// server-side retention of those rows.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/mehdiazizian/node-metrics-pipeline/internal/config"
)

// TableName is the table holding one row per normalized node sample.
const TableName = "node_metrics"

// ErrUnavailable is returned when no connection to the database can be made.
var ErrUnavailable = errors.New("database unavailable")

// Record is one row of the node_metrics table.
type Record struct {
	NodeName        string
	CPUMillicores   float64
	MemoryMebibytes float64
	// CollectedAt is a UTC datetime rendered as "2006-01-02 15:04:05".
	CollectedAt string
}

// Store provides database operations on the node metrics schema.
//
// Store is safe for concurrent use; each call acquires its own connection.
type Store struct {
	db     *sql.DB
	schema string
}

// Open prepares a connection pool for the database described by cfg. No
// connection is made until the first operation. The pool is not bound to a
// default database so the schema can be created by EnsureSchema.
func Open(cfg config.Database) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Addr()
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Timeout = 5 * time.Second

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("build mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return New(db, cfg.Name), nil
}

// New wraps an existing pool. schema is the database owning node_metrics.
func New(db *sql.DB, schema string) *Store {
	return &Store{db: db, schema: schema}
}

// Schema returns the database name the store writes to.
func (s *Store) Schema() string {
	return s.schema
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertNodeMetrics writes all records with a single multi-row INSERT inside
// one transaction. Either every record is committed or none is. An empty
// slice executes nothing.
func (s *Store) InsertNodeMetrics(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	query, args := s.buildMultiRowInsert(records)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) buildMultiRowInsert(records []Record) (string, []any) {
	const columnsPerRow = 4

	args := make([]any, 0, len(records)*columnsPerRow)

	var query strings.Builder
	query.Grow(100 + len(records)*14)
	query.WriteString("INSERT INTO ")
	query.WriteString(s.table())
	query.WriteString(" (node_name, cpu_millicores, memory_mb, collected_at) VALUES ")

	for i, r := range records {
		if i > 0 {
			query.WriteString(", ")
		}
		query.WriteString("(?, ?, ?, ?)")
		args = append(args, r.NodeName, r.CPUMillicores, r.MemoryMebibytes, r.CollectedAt)
	}

	return query.String(), args
}

func (s *Store) table() string {
	return quoteIdent(s.schema) + "." + quoteIdent(TableName)
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
