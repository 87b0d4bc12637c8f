package store

import (
	"testing"
	"time"
)

func TestPut_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	first := createTestEntry("fp-1")
	if err := s.Put(ctx, first); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	second := createTestEntry("fp-1")
	second.SQL = "SELECT 1"
	if err := s.Put(ctx, second); err != nil {
		t.Fatalf("second Put() should be ignored, got: %v", err)
	}

	got, found, err := s.Get(ctx, "fp-1")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v", found, err)
	}
	if got.SQL != first.SQL {
		t.Errorf("first entry should win, got SQL %q", got.SQL)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestPut_EmptyFingerprint(t *testing.T) {
	s := createTestStore(t)
	if err := s.Put(t.Context(), Entry{SQL: "SELECT 1"}); err == nil {
		t.Error("expected error for empty fingerprint")
	}
}

func TestPut_UnsupportedParam(t *testing.T) {
	s := createTestStore(t)
	e := createTestEntry("fp-1")
	e.Params = []any{struct{}{}}
	if err := s.Put(t.Context(), e); err == nil {
		t.Error("expected error for unsupported parameter type")
	}
}

func TestPut_UsesClockWhenCreatedAtIsZero(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	if err := s.Put(ctx, createTestEntry("fp-1")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	explicit := createTestEntry("fp-2")
	explicit.CreatedAt = testEpoch.Add(time.Hour)
	if err := s.Put(ctx, explicit); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, _, _ := s.Get(ctx, "fp-1")
	if !got.CreatedAt.Equal(testEpoch) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, testEpoch)
	}
	got, _, _ = s.Get(ctx, "fp-2")
	if !got.CreatedAt.Equal(explicit.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, explicit.CreatedAt)
	}
}

func TestDeleteAndPurge(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	for _, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		if err := s.Put(ctx, createTestEntry(fp)); err != nil {
			t.Fatalf("Put(%s) failed: %v", fp, err)
		}
	}

	if err := s.Delete(ctx, "fp-2"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete() of a missing entry failed: %v", err)
	}
	if _, found, _ := s.Get(ctx, "fp-2"); found {
		t.Error("fp-2 should be deleted")
	}

	n, err := s.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Purge() removed %d, want 2", n)
	}
}
