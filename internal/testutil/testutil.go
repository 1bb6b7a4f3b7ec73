// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"helpdesk-sync/internal/db"
	"helpdesk-sync/internal/logging"
)

var dbSeq atomic.Int64

// NewTestDB opens a private in-memory SQLite store with all migrations
// applied. It is closed when the test completes.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	d, err := db.New("sqlite", dsn)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return d
}

// NewTestLogger returns a logger that discards output.
func NewTestLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, "debug")
}
