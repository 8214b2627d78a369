package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"

	"aggronation/pkg/logging"
)

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(context.Background(), DefaultConfig(), logging.NewDiscardLogger()); err == nil {
		t.Fatalf("expected error for empty URL")
	}
}

func TestConfigurePingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("down"))
	if err := configure(context.Background(), db, DefaultConfig()); err == nil {
		t.Fatalf("expected ping failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplySchemaRunsFilesInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"schema/002_content.sql": {Data: []byte("CREATE TABLE IF NOT EXISTS content_items (id TEXT)")},
		"schema/001_sources.sql": {Data: []byte("CREATE TABLE IF NOT EXISTS sources (id TEXT)")},
		"schema/readme.txt":      {Data: []byte("ignored")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sources").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS content_items").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := ApplySchema(context.Background(), db, fsys, "schema", logging.NewDiscardLogger()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplySchemaStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"schema/001.sql": {Data: []byte("CREATE TABLE a (id TEXT)")},
		"schema/002.sql": {Data: []byte("CREATE TABLE b (id TEXT)")},
	}
	mock.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax"))

	if err := ApplySchema(context.Background(), db, fsys, "schema", logging.NewDiscardLogger()); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
