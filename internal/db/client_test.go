package db

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db.local", User: "augment", Password: "p@ss word", Database: "archon"}
	dsn := cfg.DSN()

	for _, want := range []string{"postgres://", "db.local:5432", "/archon", "sslmode=require", "p%40ss%20word"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("Expected DSN to contain %q, got %s", want, dsn)
		}
	}

	cfg.SSLMode = "disable"
	cfg.Port = 6543
	dsn = cfg.DSN()
	if !strings.Contains(dsn, "sslmode=disable") || !strings.Contains(dsn, ":6543") {
		t.Errorf("Expected explicit settings in DSN, got %s", dsn)
	}
}

func TestClientPingAndClose(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}

	client := NewClientWithDB(sqlx.NewDb(raw, "sqlmock"), Config{}, zaptest.NewLogger(t))

	mock.ExpectPing()
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	mock.ExpectClose()
	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	// A second Close must not panic on the stop channel.
	_ = client.Close()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}
