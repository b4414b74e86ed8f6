package store

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

func fp(v float64) *float64 { return &v }

func newRecord(id string, at time.Time, human, ai float64) *record.DetectionRecord {
	return &record.DetectionRecord{
		ID:         id,
		CapturedAt: at,
		HumanScore: fp(human),
		AIScore:    fp(ai),
	}
}

func TestAddDedupWindow(t *testing.T) {
	s, err := New(t.TempDir(), 3*time.Second)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	added, err := s.Add(newRecord("aaaa-0000-0001", base, 72, 18))
	if err != nil || !added {
		t.Fatalf("Add() = (%v, %v); want accepted", added, err)
	}

	t.Run("identical_scores_inside_window_rejected", func(t *testing.T) {
		added, err := s.Add(newRecord("aaaa-0000-0002", base.Add(2*time.Second), 72, 18))
		if err != nil {
			t.Fatalf("Add() error: %v", err)
		}
		if added {
			t.Fatal("duplicate inside window was accepted")
		}
		if s.Count() != 1 {
			t.Fatalf("Count() = %d; want 1", s.Count())
		}
	})

	t.Run("identical_scores_outside_window_accepted", func(t *testing.T) {
		added, err := s.Add(newRecord("aaaa-0000-0003", base.Add(10*time.Second), 72, 18))
		if err != nil || !added {
			t.Fatalf("Add() = (%v, %v); want accepted", added, err)
		}
	})

	t.Run("different_scores_inside_window_accepted", func(t *testing.T) {
		added, err := s.Add(newRecord("aaaa-0000-0004", base.Add(time.Second), 50, 50))
		if err != nil || !added {
			t.Fatalf("Add() = (%v, %v); want accepted", added, err)
		}
	})
}

func TestGetAllNewestFirst(t *testing.T) {
	s, err := New(t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"aaaa-0000-0001", "aaaa-0000-0002", "aaaa-0000-0003"} {
		if added, err := s.Add(newRecord(id, base.Add(time.Duration(i)*time.Minute), float64(i), 100-float64(i))); err != nil || !added {
			t.Fatalf("Add(%s) = (%v, %v)", id, added, err)
		}
	}

	all := s.GetAll()
	if len(all) != 3 {
		t.Fatalf("len(GetAll()) = %d; want 3", len(all))
	}
	if all[0].ID != "aaaa-0000-0003" || all[2].ID != "aaaa-0000-0001" {
		t.Fatalf("unexpected order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, time.Second)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	note := "looks machine written"
	rec := newRecord("aaaa-0000-0001", time.Now().UTC(), 12.5, 87.5)
	rec.Note = &note
	if added, err := s.Add(rec); err != nil || !added {
		t.Fatalf("Add() = (%v, %v)", added, err)
	}

	reopened, err := New(dir, time.Second)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := reopened.Get("aaaa-0000-0001")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Note == nil || *got.Note != note {
		t.Fatalf("Note = %v; want %q", got.Note, note)
	}
	if got.HumanScore == nil || *got.HumanScore != 12.5 {
		t.Fatalf("HumanScore = %v; want 12.5", got.HumanScore)
	}
}

func TestUpdateStarredAndNote(t *testing.T) {
	s, err := New(t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if added, err := s.Add(newRecord("aaaa-0000-0001", time.Now().UTC(), 1, 99)); err != nil || !added {
		t.Fatalf("Add() = (%v, %v)", added, err)
	}

	starred := true
	note := "suspicious"
	got, err := s.Update("aaaa-0000-0001", &starred, &note)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if !got.Starred || got.Note == nil || *got.Note != note {
		t.Fatalf("Update() = %+v", got)
	}

	t.Run("nil_fields_left_unchanged", func(t *testing.T) {
		got, err := s.Update("aaaa-0000-0001", nil, nil)
		if err != nil {
			t.Fatalf("Update() failed: %v", err)
		}
		if !got.Starred || got.Note == nil {
			t.Fatalf("fields were reset: %+v", got)
		}
	})

	t.Run("unknown_id", func(t *testing.T) {
		_, err := s.Update("ffff-ffff-ffff", &starred, nil)
		var coded *record.CodedError
		if !errors.As(err, &coded) || coded.Code != record.CodeRecordNotFound {
			t.Fatalf("Update() error = %v; want RECORD_NOT_FOUND", err)
		}
	})
}

func TestBackfillVerdict(t *testing.T) {
	s, err := New(t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if added, err := s.Add(newRecord("aaaa-0000-0001", time.Now().UTC(), 95, 5)); err != nil || !added {
		t.Fatalf("Add() = (%v, %v)", added, err)
	}

	if err := s.BackfillVerdict("aaaa-0000-0001", "未发现AI生成内容"); err != nil {
		t.Fatalf("BackfillVerdict() failed: %v", err)
	}
	got, _ := s.Get("aaaa-0000-0001")
	if got.VerdictText != "未发现AI生成内容" {
		t.Fatalf("VerdictText = %q", got.VerdictText)
	}

	t.Run("never_overwrites", func(t *testing.T) {
		if err := s.BackfillVerdict("aaaa-0000-0001", "different"); err != nil {
			t.Fatalf("BackfillVerdict() failed: %v", err)
		}
		got, _ := s.Get("aaaa-0000-0001")
		if got.VerdictText != "未发现AI生成内容" {
			t.Fatalf("verdict was overwritten: %q", got.VerdictText)
		}
	})
}

func TestRemoveAndClear(t *testing.T) {
	s, err := New(t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	base := time.Now().UTC()
	for i, id := range []string{"aaaa-0000-0001", "aaaa-0000-0002"} {
		if added, err := s.Add(newRecord(id, base.Add(time.Duration(i)*time.Minute), float64(i), float64(i)+1)); err != nil || !added {
			t.Fatalf("Add(%s) = (%v, %v)", id, added, err)
		}
	}

	if err := s.RemoveByID("aaaa-0000-0001"); err != nil {
		t.Fatalf("RemoveByID() failed: %v", err)
	}
	if s.Count() != 1 {
		t.Fatalf("Count() = %d; want 1", s.Count())
	}
	if err := s.RemoveByID("aaaa-0000-0001"); err == nil {
		t.Fatal("RemoveByID() on missing id succeeded")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("Count() = %d after Clear; want 0", s.Count())
	}
}

func TestExport(t *testing.T) {
	s, err := New(t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC) }

	t.Run("empty_store_exports_array", func(t *testing.T) {
		data, filename, err := s.Export()
		if err != nil {
			t.Fatalf("Export() failed: %v", err)
		}
		if filename != "zhuque-records-2026-08-31.json" {
			t.Fatalf("filename = %q", filename)
		}
		if strings.TrimSpace(string(data)) != "[]" {
			t.Fatalf("empty export = %q; want []", string(data))
		}
	})

	t.Run("pretty_printed_round_trip", func(t *testing.T) {
		if added, err := s.Add(newRecord("aaaa-0000-0001", time.Now().UTC(), 72, 18)); err != nil || !added {
			t.Fatalf("Add() = (%v, %v)", added, err)
		}
		data, _, err := s.Export()
		if err != nil {
			t.Fatalf("Export() failed: %v", err)
		}
		if !strings.Contains(string(data), "\n  ") {
			t.Fatal("export is not indented")
		}
		var out []record.DetectionRecord
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("export does not round-trip: %v", err)
		}
		if len(out) != 1 || out[0].ID != "aaaa-0000-0001" {
			t.Fatalf("unexpected export contents: %+v", out)
		}
	})
}
