package storage

import (
	"context"
	"path/filepath"
	"testing"

	"pm_terminal/internal/domain"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestActiveTokens_RoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	// 1. Nothing saved yet
	rec, err := s.LoadActiveTokens(ctx)
	if err != nil {
		t.Fatalf("LoadActiveTokens failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected no record, got %+v", rec)
	}

	// 2. Save a YES/NO pair
	if err := s.SaveActiveTokens(ctx, domain.NewActiveTokens([]string{"111", "222"}, "will-it-rain")); err != nil {
		t.Fatalf("SaveActiveTokens failed: %v", err)
	}

	rec, err = s.LoadActiveTokens(ctx)
	if err != nil || rec == nil {
		t.Fatalf("LoadActiveTokens failed: %v", err)
	}
	if rec.YesToken != "111" || rec.NoToken != "222" {
		t.Errorf("expected YES=111 NO=222, got YES=%s NO=%s", rec.YesToken, rec.NoToken)
	}
	if rec.MarketSlug != "will-it-rain" {
		t.Errorf("expected slug will-it-rain, got %s", rec.MarketSlug)
	}
}

func TestActiveTokens_OverwriteAndDelete(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	s.SaveActiveTokens(ctx, domain.NewActiveTokens([]string{"1", "2"}, ""))
	if err := s.SaveActiveTokens(ctx, domain.NewActiveTokens([]string{"3", "4", "5"}, "")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	rec, _ := s.LoadActiveTokens(ctx)
	if got := rec.Tokens(); len(got) != 3 || got[0] != "3" {
		t.Errorf("expected [3 4 5], got %v", got)
	}
	if rec.YesToken != "" || rec.NoToken != "" {
		t.Error("expected no YES/NO labels for three tokens")
	}

	if err := s.DeleteActiveTokens(ctx); err != nil {
		t.Fatalf("DeleteActiveTokens failed: %v", err)
	}
	rec, err := s.LoadActiveTokens(ctx)
	if err != nil {
		t.Fatalf("LoadActiveTokens after delete failed: %v", err)
	}
	if rec != nil {
		t.Error("expected record to be deleted, but found one")
	}
}

func TestConfig(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := s.LoadConfig(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	s.SaveConfig(ctx, "theme", "dark")
	s.SaveConfig(ctx, "theme", "light")
	s.SaveConfig(ctx, "profile", "generic")

	v, ok, err := s.LoadConfig(ctx, "theme")
	if err != nil || !ok || v != "light" {
		t.Errorf("expected theme=light, got %q ok=%v err=%v", v, ok, err)
	}

	m, err := s.LoadConfigMap(ctx)
	if err != nil {
		t.Fatalf("LoadConfigMap failed: %v", err)
	}
	if len(m) != 2 {
		t.Errorf("expected 2 entries, got %d", len(m))
	}
}
