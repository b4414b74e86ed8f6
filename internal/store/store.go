// Package store persists accepted detection records as a single JSON file on
// disk, newest first. It is the append-only keyed store the capture pipeline
// writes into; only Starred and Note are mutable after acceptance.
package store

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

const recordsFile = "records.json"

// Store manages detection records on disk.
type Store struct {
	path        string
	dedupWindow time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	records []record.DetectionRecord
}

// New creates a Store rooted at dir and loads any existing records.
// dedupWindow bounds the persistence-time duplicate check; observed source
// versions disagree on 3s vs 5s, so it is a parameter, not a constant.
func New(dir string, dedupWindow time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record store: mkdir %s: %w", dir, err)
	}

	s := &Store{
		path:        filepath.Join(dir, recordsFile),
		dedupWindow: dedupWindow,
		now:         time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("record store: read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return fmt.Errorf("record store: unmarshal %s: %w", s.path, err)
	}
	return nil
}

// persist writes the full record list. Callers hold the write lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return record.NewError(record.CodeStoreFailure, "marshal records", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return record.NewError(record.CodeStoreFailure, "write records", err)
	}
	return nil
}

// Add prepends a record. Returns false without persisting when an existing
// record with identical human and AI scores was captured within the dedup
// window. This guards against two channels firing for one underlying event.
func (s *Store) Add(rec *record.DetectionRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		existing := &s.records[i]
		if !sameScore(existing.HumanScore, rec.HumanScore) || !sameScore(existing.AIScore, rec.AIScore) {
			continue
		}
		delta := rec.CapturedAt.Sub(existing.CapturedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < s.dedupWindow {
			return false, nil
		}
	}

	s.records = append([]record.DetectionRecord{*rec}, s.records...)
	if err := s.persist(); err != nil {
		s.records = s.records[1:]
		return false, err
	}
	return true, nil
}

// GetAll returns all records, most recent first.
func (s *Store) GetAll() []record.DetectionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]record.DetectionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns a single record by ID.
func (s *Store) Get(id string) (record.DetectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.records {
		if s.records[i].ID == id {
			return s.records[i], nil
		}
	}
	return record.DetectionRecord{}, record.NewError(record.CodeRecordNotFound, "record not found: "+id, nil)
}

// Update mutates the user-editable fields of a record. Nil fields are left
// unchanged.
func (s *Store) Update(id string, starred *bool, note *string) (record.DetectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ID != id {
			continue
		}
		prev := s.records[i]
		if starred != nil {
			s.records[i].Starred = *starred
		}
		if note != nil {
			s.records[i].Note = note
		}
		if err := s.persist(); err != nil {
			s.records[i] = prev
			return record.DetectionRecord{}, err
		}
		return s.records[i], nil
	}
	return record.DetectionRecord{}, record.NewError(record.CodeRecordNotFound, "record not found: "+id, nil)
}

// BackfillVerdict fills an empty verdict on a freshly accepted record. Used
// only by the coordinator's delayed DOM re-read; an already-set verdict is
// never overwritten.
func (s *Store) BackfillVerdict(id, verdict string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ID != id {
			continue
		}
		if s.records[i].VerdictText != "" || verdict == "" {
			return nil
		}
		s.records[i].VerdictText = verdict
		if err := s.persist(); err != nil {
			s.records[i].VerdictText = ""
			return err
		}
		return nil
	}
	return record.NewError(record.CodeRecordNotFound, "record not found: "+id, nil)
}

// RemoveByID deletes a single record.
func (s *Store) RemoveByID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ID != id {
			continue
		}
		s.records = append(s.records[:i], s.records[i+1:]...)
		return s.persist()
	}
	return record.NewError(record.CodeRecordNotFound, "record not found: "+id, nil)
}

// Clear removes every record.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return s.persist()
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Export serializes the full contents pretty-printed and returns the dated
// download filename alongside.
func (s *Store) Export() ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records
	if records == nil {
		records = []record.DetectionRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, "", record.NewError(record.CodeStoreFailure, "marshal export", err)
	}
	filename := fmt.Sprintf("zhuque-records-%s.json", s.now().UTC().Format("2006-01-02"))
	return data, filename, nil
}

func sameScore(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < 1e-9
}
