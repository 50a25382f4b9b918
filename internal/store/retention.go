package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// RetentionPolicy describes the recurring server-side job that expires
// node_metrics rows.
type RetentionPolicy struct {
	EventName string
	Interval  time.Duration
	Window    time.Duration
}

// DefaultRetentionPolicy deletes rows older than 30 minutes every 5 minutes.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		EventName: "cleanup_old_node_metrics",
		Interval:  5 * time.Minute,
		Window:    30 * time.Minute,
	}
}

// Expired reports whether a row collected at collectedAt is eligible for
// deletion at now. Rows exactly at the window edge are kept.
func (p RetentionPolicy) Expired(collectedAt, now time.Time) bool {
	return collectedAt.Before(now.Add(-p.Window))
}

// Validate rejects policies MySQL cannot schedule.
func (p RetentionPolicy) Validate() error {
	if p.EventName == "" {
		return errors.New("retention event name is required")
	}
	if p.Interval < time.Second {
		return fmt.Errorf("retention interval must be at least 1s, got %s", p.Interval)
	}
	if p.Window < time.Second {
		return fmt.Errorf("retention window must be at least 1s, got %s", p.Window)
	}
	return nil
}

// EnsureSchema creates the schema and the node_metrics table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("store")

	statements := []string{
		"CREATE DATABASE IF NOT EXISTS " + quoteIdent(s.schema),
		"CREATE TABLE IF NOT EXISTS " + s.table() + ` (
  id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
  node_name VARCHAR(253) NOT NULL,
  cpu_millicores DOUBLE NOT NULL,
  memory_mb DOUBLE NOT NULL,
  collected_at DATETIME NOT NULL,
  INDEX idx_node_metrics_collected_at (collected_at)
)`,
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema %s: %w", s.schema, err)
		}
	}

	logger.Info("Schema ready", "schema", s.schema, "table", TableName)
	return nil
}

// SetupRetention installs the retention event, replacing any existing event
// of the same name, and returns the event status reported by the server.
// The event scheduler is switched on globally, which needs the SYSTEM_VARIABLES_ADMIN
// (or SUPER) privilege.
func (s *Store) SetupRetention(ctx context.Context, policy RetentionPolicy) (string, error) {
	logger := log.FromContext(ctx).WithName("store").WithValues("event", policy.EventName)

	if err := policy.Validate(); err != nil {
		return "", err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	logger.Info("Enabling event scheduler")
	if _, err := conn.ExecContext(ctx, "SET GLOBAL event_scheduler = ON"); err != nil {
		return "", fmt.Errorf("enable event scheduler: %w", err)
	}

	logger.V(1).Info("Dropping existing retention event")
	if _, err := conn.ExecContext(ctx, "DROP EVENT IF EXISTS "+s.event(policy)); err != nil {
		return "", fmt.Errorf("drop event: %w", err)
	}

	logger.Info("Creating retention event", "interval", policy.Interval, "window", policy.Window)
	if _, err := conn.ExecContext(ctx, s.createEventStatement(policy)); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}

	var status string
	err = conn.QueryRowContext(ctx,
		"SELECT STATUS FROM information_schema.EVENTS WHERE EVENT_SCHEMA = ? AND EVENT_NAME = ?",
		s.schema, policy.EventName).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		logger.Info("Retention event was created but could not be verified")
		return "", nil
	case err != nil:
		return "", fmt.Errorf("verify event: %w", err)
	}

	logger.Info("Retention event installed", "status", status)
	return status, nil
}

// SweepExpired runs the retention predicate once and returns the number of
// deleted rows.
func (s *Store) SweepExpired(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if err := policy.Validate(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, s.deleteExpiredStatement(policy))
	if err != nil {
		return 0, fmt.Errorf("sweep expired rows: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) event(policy RetentionPolicy) string {
	return quoteIdent(s.schema) + "." + quoteIdent(policy.EventName)
}

func (s *Store) createEventStatement(policy RetentionPolicy) string {
	return fmt.Sprintf("CREATE EVENT %s ON SCHEDULE EVERY %s DO %s",
		s.event(policy), interval(policy.Interval), s.deleteExpiredStatement(policy))
}

func (s *Store) deleteExpiredStatement(policy RetentionPolicy) string {
	return fmt.Sprintf("DELETE FROM %s WHERE collected_at < DATE_SUB(NOW(), INTERVAL %s)",
		s.table(), interval(policy.Window))
}

// interval renders d as a MySQL interval expression, in minutes when exact.
func interval(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d MINUTE", d/time.Minute)
	}
	return fmt.Sprintf("%d SECOND", d/time.Second)
}
