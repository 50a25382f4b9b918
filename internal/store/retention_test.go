package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

const (
	dropEvent   = "DROP EVENT IF EXISTS `nodes`.`cleanup_old_node_metrics`"
	createEvent = "CREATE EVENT `nodes`.`cleanup_old_node_metrics` ON SCHEDULE EVERY 5 MINUTE DO " +
		"DELETE FROM `nodes`.`node_metrics` WHERE collected_at < DATE_SUB(NOW(), INTERVAL 30 MINUTE)"
	verifyEvent = "SELECT STATUS FROM information_schema.EVENTS WHERE EVENT_SCHEMA = ? AND EVENT_NAME = ?"
)

func TestRetentionPolicyExpired(t *testing.T) {
	policy := DefaultRetentionPolicy()
	now := time.Date(2025, 12, 24, 11, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{name: "31 minutes old", age: 31 * time.Minute, want: true},
		{name: "29 minutes old", age: 29 * time.Minute, want: false},
		{name: "exactly at the window", age: 30 * time.Minute, want: false},
		{name: "fresh", age: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Expired(now.Add(-tt.age), now); got != tt.want {
				t.Errorf("Expired(now-%s) = %v, want %v", tt.age, got, tt.want)
			}
		})
	}
}

func TestRetentionPolicyValidate(t *testing.T) {
	if err := DefaultRetentionPolicy().Validate(); err != nil {
		t.Fatalf("default policy rejected: %v", err)
	}
	if err := (RetentionPolicy{Interval: time.Minute, Window: time.Minute}).Validate(); err == nil {
		t.Fatalf("expected error for unnamed event")
	}
	if err := (RetentionPolicy{EventName: "x", Window: time.Minute}).Validate(); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func expectSetup(mock sqlmock.Sqlmock, status string) {
	mock.ExpectExec("SET GLOBAL event_scheduler = ON").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(dropEvent).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createEvent).WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"STATUS"})
	if status != "" {
		rows.AddRow(status)
	}
	mock.ExpectQuery(verifyEvent).WithArgs("nodes", "cleanup_old_node_metrics").WillReturnRows(rows)
}

func TestSetupRetentionIsIdempotent(t *testing.T) {
	s, mock := newMockStore(t)
	expectSetup(mock, "ENABLED")
	expectSetup(mock, "ENABLED")

	for i := 0; i < 2; i++ {
		status, err := s.SetupRetention(context.Background(), DefaultRetentionPolicy())
		if err != nil {
			t.Fatalf("SetupRetention #%d: %v", i+1, err)
		}
		if status != "ENABLED" {
			t.Fatalf("expected ENABLED, got %q", status)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetupRetentionUnverified(t *testing.T) {
	s, mock := newMockStore(t)
	expectSetup(mock, "")

	status, err := s.SetupRetention(context.Background(), DefaultRetentionPolicy())
	if err != nil {
		t.Fatalf("SetupRetention: %v", err)
	}
	if status != "" {
		t.Fatalf("expected empty status, got %q", status)
	}
}

func TestSweepExpired(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM `nodes`.`node_metrics` WHERE collected_at < DATE_SUB(NOW(), INTERVAL 30 MINUTE)").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.SweepExpired(context.Background(), DefaultRetentionPolicy())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted rows, got %d", n)
	}
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE IF NOT EXISTS `nodes`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `nodes`.`node_metrics`")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := New(db, "nodes").EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIntervalRendering(t *testing.T) {
	if got := interval(5 * time.Minute); got != "5 MINUTE" {
		t.Fatalf("got %q", got)
	}
	if got := interval(90 * time.Second); got != "90 SECOND" {
		t.Fatalf("got %q", got)
	}
}
