// Package report turns trial outcomes into the brief glyph stream, the final
// results table and a machine-readable JSON document.
package report

import (
	"fmt"
	"io"
	"time"
)

// TrialResult is the outcome of one round trip.
type TrialResult struct {
	Index    int           `json:"index"` // 1-based
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"durationNs"`
	// Mismatches is the number of failed pairings found by the comparison.
	Mismatches int `json:"mismatches,omitempty"`
	// Evidence is the archive holding the trees of a failed trial, if kept.
	Evidence string `json:"evidence,omitempty"`
}

// Summary is derived from a full result sequence.
type Summary struct {
	Trips   int     `json:"trips"`
	OK      int     `json:"ok"`
	Failed  int     `json:"failed"`
	Percent float64 `json:"percent"`
}

// Glyph renders a single outcome.
func Glyph(ok bool) string {
	if ok {
		return "+"
	}
	return "-"
}

// Summarize counts the outcomes. The percentage is only meaningful for a
// non-empty sequence; an empty one yields the zero Summary.
func Summarize(results []TrialResult) Summary {
	var s Summary
	s.Trips = len(results)
	for _, r := range results {
		if r.OK {
			s.OK++
		} else {
			s.Failed++
		}
	}
	if s.Trips > 0 {
		s.Percent = 100 * float64(s.OK) / float64(s.Trips)
	}
	return s
}

// Brief writes one glyph per trial after a "Results: " prefix.
func Brief(w io.Writer, results []TrialResult) error {
	if _, err := io.WriteString(w, "Results: "); err != nil {
		return err
	}
	for _, r := range results {
		if _, err := io.WriteString(w, Glyph(r.OK)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteTable renders the per-trip table followed by the aggregate line.
func WriteTable(w io.Writer, results []TrialResult) error {
	ew := &errWriter{w: w}
	ew.printf("Total Results\n=============\n")
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "failed"
		}
		ew.printf("Pass %d:  %s", r.Index, status)
		if r.Duration > 0 {
			ew.printf("  (%s)", r.Duration.Round(time.Millisecond))
		}
		ew.printf("\n")
	}
	s := Summarize(results)
	ew.printf("\nRESULTS\n=======\n")
	ew.printf("%d trips, %d passed, %d failed, %.02f %% success\n", s.Trips, s.OK, s.Failed, s.Percent)
	return ew.err
}

// errWriter keeps the first write error and skips everything after it.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
