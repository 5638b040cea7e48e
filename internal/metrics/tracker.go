// ABOUTME: CSV tracker recording one row per processed event
// ABOUTME: Creates the file with a header on first open, flushes each row

package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var header = []string{"timestamp", "kind", "thread_id", "outcome", "latency_ms"}

// Row is one processed-event record.
type Row struct {
	Timestamp time.Time
	Kind      string
	ThreadID  string
	Outcome   string
	Latency   time.Duration
}

// Tracker appends rows to a CSV file. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewTracker opens (or creates) the CSV file at path. A header row is
// written when the file is new or empty.
func NewTracker(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating metrics directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening metrics file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stating metrics file: %w", err)
	}

	t := &Tracker{
		file:   f,
		writer: csv.NewWriter(f),
	}

	if info.Size() == 0 {
		if err := t.writer.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing header: %w", err)
		}
		t.writer.Flush()
		if err := t.writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flushing header: %w", err)
		}
	}

	return t, nil
}

// Record appends one row and flushes it to disk.
func (t *Tracker) Record(row Row) error {
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.writer.Write([]string{
		row.Timestamp.UTC().Format(time.RFC3339),
		row.Kind,
		row.ThreadID,
		row.Outcome,
		strconv.FormatInt(row.Latency.Milliseconds(), 10),
	})
	if err != nil {
		return fmt.Errorf("writing metrics row: %w", err)
	}
	t.writer.Flush()
	if err := t.writer.Error(); err != nil {
		return fmt.Errorf("flushing metrics row: %w", err)
	}
	return nil
}

// Close flushes buffered rows and closes the file.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writer.Flush()
	if err := t.writer.Error(); err != nil {
		t.file.Close()
		return fmt.Errorf("flushing metrics: %w", err)
	}
	return t.file.Close()
}
