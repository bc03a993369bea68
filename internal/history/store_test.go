package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mattwade/papermill/internal/convert"
	"github.com/mattwade/papermill/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestStoreRecordAndGet(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	id := uuid.NewString()

	res := convert.Succeeded("/out/report.pdf", "soffice", 1200*time.Millisecond)
	if err := s.Record(context.Background(), id, "docx", "pdf", res); err != nil {
		t.Fatalf("Record: %v", err)
	}

	e, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e == nil {
		t.Fatal("Get returned nil entry")
	}
	if !e.Success || e.OutputPath != "/out/report.pdf" || e.Method != "soffice" {
		t.Fatalf("unexpected entry: %#v", e)
	}
	if e.InputFormat != "docx" || e.OutputFormat != "pdf" {
		t.Fatalf("unexpected formats: %#v", e)
	}
	if e.ElapsedMs != 1200 {
		t.Errorf("ElapsedMs = %d, want 1200", e.ElapsedMs)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestStoreRecordFailure(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	id := uuid.NewString()

	res := convert.Failed(convert.FailureTimeout, "conversion timed out after 30s", "soffice", 30*time.Second)
	if err := s.Record(context.Background(), id, "pptx", "pdf", res); err != nil {
		t.Fatalf("Record: %v", err)
	}

	e, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e == nil {
		t.Fatal("Get returned nil entry")
	}
	if e.Success {
		t.Error("failed conversion recorded as success")
	}
	if e.FailureKind != convert.FailureTimeout {
		t.Errorf("FailureKind = %s, want timeout", e.FailureKind)
	}
	if e.Error != "conversion timed out after 30s" {
		t.Errorf("Error = %q", e.Error)
	}
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	e, err := s.Get(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e != nil {
		t.Fatalf("expected nil for missing id, got %#v", e)
	}
}

func TestStoreRecentNewestFirst(t *testing.T) {
	t.Parallel()

	s := openStore(t)

	var ids []string
	for i := 0; i < 5; i++ {
		id := uuid.NewString()
		ids = append(ids, id)
		res := convert.Succeeded("/out/x.pdf", "soffice", time.Millisecond)
		if err := s.Record(context.Background(), id, "docx", "pdf", res); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	entries, err := s.Recent(context.Background(), 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	// Identical created_at timestamps fall back to insertion order via rowid.
	if entries[0].ID != ids[4] {
		t.Errorf("newest entry = %s, want %s", entries[0].ID, ids[4])
	}
}

func TestStoreRecordEmptyID(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	res := convert.Succeeded("/out/x.pdf", "soffice", time.Millisecond)
	if err := s.Record(context.Background(), "", "docx", "pdf", res); err == nil {
		t.Fatal("expected error for empty operation id")
	}
}
