// Package telemetry provides the append-only sink voting sessions report
// into. The core never depends on who consumes the stream; dashboards and
// log scrapers read the emitted records on their own terms.
package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is one per-unit telemetry entry, emitted regardless of outcome.
type Record struct {
	RunID          string         `json:"run_id"`
	UnitID         string         `json:"unit_id"`
	Status         string         `json:"status"`
	TotalAttempts  int            `json:"total_attempts"`
	ValidVotes     int            `json:"valid_votes"`
	Discarded      map[string]int `json:"discarded,omitempty"`
	WinnerKey      string         `json:"winner_key,omitempty"`
	Authoritative  bool           `json:"authoritative"`
	MarginAchieved int            `json:"margin_achieved"`
	ElapsedMs      int64          `json:"elapsed_ms"`
	Timestamp      time.Time      `json:"ts"`
}

// Sink is an append-only stream of records. Append must be safe for
// concurrent use and must never fail a session: sessions own their results,
// the sink is observability only.
type Sink interface {
	Append(rec Record) error
	Close() error
}

// JSONLSink appends records as JSON lines to a file. Appends are short
// buffered writes behind a mutex, so concurrent sessions never block each
// other for longer than one line flush.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// NewJSONLSink opens (or creates) the file in append mode.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	return &JSONLSink{file: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one record as a JSON line.
func (s *JSONLSink) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

// MemorySink collects records in memory. Test and dry-run helper.
type MemorySink struct {
	mu   sync.Mutex
	recs []Record
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Append stores the record.
func (s *MemorySink) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

// Close is a no-op.
func (s *MemorySink) Close() error { return nil }

// Records returns a copy of everything appended so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.recs...)
}
