// Package sequencer generates per-frame FITS filenames and picks run
// numbers for a new run, grounded on original_source/mop_fts.c's
// fts_mkname/fts_selname/fts_compare.
package sequencer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LivTel/moptop/engineerr"
)

// runNumberOffset is the fixed character offset into a filename where the
// run number substring starts, matching fts_compare's magic number 13 for
// names of the form "<id>_<typ>_<YYYYMMDD>_<run>_...".
const runNumberOffset = 13

// Sequencer produces filenames for one run, tracking the in-run frame
// counter across successive calls to Next.
type Sequencer struct {
	Dir      string
	RunNo    int
	ImgCycle int
	counter  int
}

// AdjustedDate returns the MJD-adjusted YYYYMMDD date: if now's local hour
// is ≤ 11 the calendar day is decremented first, rolling back month/year as
// needed with a Gregorian leap-year check (divisible by 4, except centuries
// not divisible by 400), following fts_mkname's roll-back table
// (spec §9 Open Question #3).
func AdjustedDate(now time.Time) (year, month, day int) {
	year, mon, d := now.Date()
	month = int(mon)
	day = d
	if now.Hour() <= 11 {
		day--
	}
	if day == 0 {
		month--
		switch month {
		case 9, 4, 6, 11:
			day = 30
		case 2:
			if !(year%4 == 0 && (year%100 != 0 || year%400 == 0)) {
				day = 28
			} else {
				day = 29
			}
		default:
			day = 31
		}
	}
	if month == 0 {
		year--
		month = 12
		day = 31
	}
	return year, month, day
}

func dateSubstring(year, month, day int) string {
	return fmt.Sprintf("_%04d%02d%02d_", year, month, day)
}

// PickRunNumber scans dir for every camera id in cameraIDs and returns one
// more than the highest run number found in a filename that starts with
// "<id>_", contains today's adjusted-date substring, and ends with
// "_0.fits". If forced is non-nil, the result is the maximum of (*forced,
// discovered+1), matching §4.9's run-number-negotiation guarantee.
func PickRunNumber(dir string, cameraIDs []string, now time.Time, forced *int) (int, error) {
	year, month, day := AdjustedDate(now)
	dateSub := dateSubstring(year, month, day)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, engineerr.NewFatal(engineerr.FacSequencer, err)
	}

	run := 1
	for _, id := range cameraIDs {
		prefix := id + "_"
		best := 0
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			if !strings.Contains(name, dateSub) {
				continue
			}
			if !strings.HasSuffix(name, "_0.fits") {
				continue
			}
			n, ok := parseRunNumber(name)
			if !ok {
				continue
			}
			if n > best {
				best = n
			}
		}
		if best+1 > run {
			run = best + 1
		}
	}

	if forced != nil && *forced > run {
		run = *forced
	}
	return run, nil
}

func parseRunNumber(name string) (int, bool) {
	if len(name) <= runNumberOffset {
		return 0, false
	}
	rest := name[runNumberOffset:]
	end := strings.IndexByte(rest, '_')
	if end < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// New starts a sequencer for one run, resetting the in-run frame counter to
// zero (spec §4.5: "the sequence counter resets at the first frame of each
// run").
func New(dir string, runNo, imgCycle int) *Sequencer {
	return &Sequencer{Dir: dir, RunNo: runNo, ImgCycle: imgCycle}
}

// Next returns the next filename for cameraID/frameType at time now, along
// with the 1-based rotation and sequence numbers it encodes, then advances
// the in-run counter.
func (s *Sequencer) Next(cameraID string, frameType byte, now time.Time) (filename string, rotation, sequence int) {
	year, month, day := AdjustedDate(now)
	rotation = 1 + s.counter/s.ImgCycle
	sequence = 1 + s.counter%s.ImgCycle
	filename = fmt.Sprintf("%s/%s_%c_%04d%02d%02d_%d_%d_%d_0.fits",
		s.Dir, cameraID, frameType, year, month, day, s.RunNo, rotation, sequence)
	s.counter++
	return filename, rotation, sequence
}
