// Package pricestore persists one reference price per calendar date.
// Each price lives in its own <DDMMYYYY>.txt file so the post-market
// snapshot job can upsert a day idempotently.
package pricestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotFound is returned by Load when no price has been recorded for the
// requested date. Callers are expected to treat this as a recoverable
// condition (e.g. the first trading day of a strategy's lifetime).
var ErrNotFound = errors.New("no reference price for date")

// Store reads and writes daily reference prices under a directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory is created on the
// first Save, not here, so a read-only deployment can still Load.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) pathFor(dateKey string) string {
	return filepath.Join(s.dir, dateKey+".txt")
}

// Save persists price under the DDMMYYYY date key, overwriting any prior
// value for that date. The write goes through a temp file and an atomic
// rename so a crashed snapshot job never leaves a torn price on disk.
func (s *Store) Save(dateKey string, price float64) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("creating price dir: %w", err)
	}

	tmp := s.pathFor(dateKey) + ".tmp"
	data := strconv.FormatFloat(price, 'f', -1, 64)
	if err := os.WriteFile(tmp, []byte(data), 0o600); err != nil {
		return fmt.Errorf("writing reference price: %w", err)
	}
	if err := os.Rename(tmp, s.pathFor(dateKey)); err != nil {
		return fmt.Errorf("committing reference price: %w", err)
	}
	return nil
}

// Load returns the price previously saved for the DDMMYYYY date key.
// Returns ErrNotFound (wrapped with the key) when no record exists.
func (s *Store) Load(dateKey string) (float64, error) {
	data, err := os.ReadFile(s.pathFor(dateKey)) // #nosec G304 -- path is derived from a date key
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, dateKey)
		}
		return 0, fmt.Errorf("reading reference price for %s: %w", dateKey, err)
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing reference price for %s: %w", dateKey, err)
	}
	return price, nil
}
