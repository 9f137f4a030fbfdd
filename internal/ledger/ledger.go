// Package ledger records every submitted order as one JSON line in an
// append-only partition per (strategy, date). The ledger is the source of
// truth for the premium paid and received on a given day.
package ledger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Side is the order side recorded in the ledger.
type Side string

// Order sides.
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Record is one submitted order. Records are never mutated or deleted;
// LimitPrice is zero for market orders whose fill price is unknown at
// submission time.
type Record struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	StrategyName  string    `json:"strategy_name"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Qty           int       `json:"qty"`
	LimitPrice    float64   `json:"limit_price,omitempty"`
	Status        string    `json:"status,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Ledger appends and queries order records under a directory.
type Ledger struct {
	dir    string
	logger *log.Logger
}

// NewLedger creates a Ledger rooted at dir.
func NewLedger(dir string, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.New(os.Stderr, "ledger: ", log.LstdFlags)
	}
	return &Ledger{dir: dir, logger: logger}
}

const partitionExt = ".ndjson"

func partitionName(strategyName, dateKey string) string {
	return strategyName + "_" + dateKey + partitionExt
}

// Append writes records to the (strategyName, dateKey) partition in call
// order. Prior entries are never truncated or rewritten.
func (l *Ledger) Append(strategyName, dateKey string, records []Record) error {
	if strategyName == "" || dateKey == "" {
		return fmt.Errorf("ledger append requires strategy name and date key")
	}
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}

	path := filepath.Join(l.dir, partitionName(strategyName, dateKey))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path built from strategy+date
	if err != nil {
		return fmt.Errorf("opening ledger partition: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			l.logger.Printf("warning: closing ledger partition: %v", cerr)
		}
	}()

	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding order record: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("appending order record: %w", err)
		}
	}
	return nil
}

// Query returns the union of all partitions matching the given filters.
// An empty strategyName or dateKey acts as a wildcard; both empty returns
// everything. Non-empty filters match their partition-name component
// exactly, so a strategy whose name prefixes another never picks up the
// other's partitions. Partitions are read in sorted filename order with each
// partition's records in their original append order. A record that fails
// to parse is skipped with a warning; one corrupt line never aborts an
// otherwise valid read.
func (l *Ledger) Query(strategyName, dateKey string) ([]Record, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading ledger dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, partitionExt) {
			continue
		}
		// Strategy names may contain underscores; the date key never
		// does, so the last underscore splits the partition name.
		base := strings.TrimSuffix(name, partitionExt)
		sep := strings.LastIndex(base, "_")
		if sep < 1 {
			continue
		}
		strategy, date := base[:sep], base[sep+1:]
		if strategyName != "" && strategy != strategyName {
			continue
		}
		if dateKey != "" && date != dateKey {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)

	var records []Record
	for _, name := range files {
		recs, err := l.readPartition(filepath.Join(l.dir, name))
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (l *Ledger) readPartition(path string) ([]Record, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path enumerated from the ledger dir
	if err != nil {
		return nil, fmt.Errorf("reading ledger partition %s: %w", filepath.Base(path), err)
	}

	var records []Record
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			l.logger.Printf("warning: skipping unparseable record in %s: %v", filepath.Base(path), err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
