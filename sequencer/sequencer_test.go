package sequencer

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAdjustedDateKeepsDayAfterHour11(t *testing.T) {
	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	y, m, d := AdjustedDate(now)
	if y != 2026 || m != 3 || d != 15 {
		t.Errorf("got %04d-%02d-%02d, want 2026-03-15", y, m, d)
	}
}

func TestAdjustedDateDecrementsBeforeHour11(t *testing.T) {
	now := time.Date(2026, 3, 15, 5, 0, 0, 0, time.UTC)
	y, m, d := AdjustedDate(now)
	if y != 2026 || m != 3 || d != 14 {
		t.Errorf("got %04d-%02d-%02d, want 2026-03-14", y, m, d)
	}
}

func TestAdjustedDateRollsBackMonthBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	y, m, d := AdjustedDate(now)
	if y != 2026 || m != 2 || d != 28 {
		t.Errorf("got %04d-%02d-%02d, want 2026-02-28 (2026 is not a leap year)", y, m, d)
	}
}

func TestAdjustedDateRollsBackLeapYearFebruary(t *testing.T) {
	now := time.Date(2028, 3, 1, 5, 0, 0, 0, time.UTC)
	y, m, d := AdjustedDate(now)
	if y != 2028 || m != 2 || d != 29 {
		t.Errorf("got %04d-%02d-%02d, want 2028-02-29 (2028 is a leap year)", y, m, d)
	}
}

func TestAdjustedDateRollsBackYearBoundary(t *testing.T) {
	now := time.Date(2027, 1, 1, 5, 0, 0, 0, time.UTC)
	y, m, d := AdjustedDate(now)
	if y != 2026 || m != 12 || d != 31 {
		t.Errorf("got %04d-%02d-%02d, want 2026-12-31", y, m, d)
	}
}

func TestPickRunNumberFindsMaxAcrossCameras(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	names := []string{
		"1_e_20260315_3_1_1_0.fits",
		"1_e_20260315_5_1_2_0.fits",
		"2_e_20260315_4_1_1_0.fits",
		"1_e_20260314_9_1_1_0.fits", // wrong date, ignored
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	run, err := PickRunNumber(dir, []string{"1", "2"}, now, nil)
	if err != nil {
		t.Fatal(err)
	}
	if run != 6 {
		t.Errorf("run = %d, want 6", run)
	}
}

func TestPickRunNumberHonorsForcedMaximum(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	if err := os.WriteFile(filepath.Join(dir, "1_e_20260315_3_1_1_0.fits"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	forced := 10
	run, err := PickRunNumber(dir, []string{"1"}, now, &forced)
	if err != nil {
		t.Fatal(err)
	}
	if run != 10 {
		t.Errorf("run = %d, want 10 (forced exceeds discovered+1)", run)
	}

	forcedLow := 2
	run2, err := PickRunNumber(dir, []string{"1"}, now, &forcedLow)
	if err != nil {
		t.Fatal(err)
	}
	if run2 != 4 {
		t.Errorf("run = %d, want 4 (discovered+1 exceeds forced)", run2)
	}
}

func TestSequencerNextResetsCounterPerRun(t *testing.T) {
	s := New("/tmp/out", 7, 16)
	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	name, rot, seq := s.Next("1", 'e', now)
	if rot != 1 || seq != 1 {
		t.Errorf("first frame rot/seq = %d/%d, want 1/1", rot, seq)
	}
	if name != "/tmp/out/1_e_20260315_7_1_1_0.fits" {
		t.Errorf("name = %q", name)
	}
	for i := 0; i < 16; i++ {
		s.Next("1", 'e', now)
	}
	_, rot2, seq2 := s.Next("1", 'e', now)
	if rot2 != 2 || seq2 != 2 {
		t.Errorf("18th frame rot/seq = %d/%d, want 2/2", rot2, seq2)
	}
}
