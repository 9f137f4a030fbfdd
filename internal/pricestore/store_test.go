package pricestore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	s := NewStore(t.TempDir())

	if err := s.Save("15032024", 438.27); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("15032024")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != 438.27 {
		t.Errorf("Load = %v, want 438.27", got)
	}
}

func TestSaveUpserts(t *testing.T) {
	s := NewStore(t.TempDir())

	if err := s.Save("15032024", 438.27); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := s.Save("15032024", 440.01); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := s.Load("15032024")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != 440.01 {
		t.Errorf("Load after upsert = %v, want 440.01", got)
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "qqq_price")
	s := NewStore(dir)

	if err := s.Save("01012024", 400); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "01012024.txt")); err != nil {
		t.Errorf("price file missing: %v", err)
	}
}

func TestLoadNotFound(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Load("02012024")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load on unwritten date = %v, want ErrNotFound", err)
	}
}

func TestLoadTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "03012024.txt"), []byte("421.5\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(dir)
	got, err := s.Load("03012024")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != 421.5 {
		t.Errorf("Load = %v, want 421.5", got)
	}
}

func TestLoadCorruptValue(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "04012024.txt"), []byte("not-a-price"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(dir)
	if _, err := s.Load("04012024"); err == nil {
		t.Error("expected parse error for corrupt price file")
	}
}
