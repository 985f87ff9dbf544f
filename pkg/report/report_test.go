package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func results(oks ...bool) []TrialResult {
	out := make([]TrialResult, len(oks))
	for i, ok := range oks {
		out[i] = TrialResult{Index: i + 1, OK: ok}
	}
	return out
}

func TestSummarize(t *testing.T) {
	testCases := []struct {
		name string
		in   []TrialResult
		want Summary
	}{
		{"three of four", results(true, true, false, true), Summary{Trips: 4, OK: 3, Failed: 1, Percent: 75}},
		{"all ok", results(true, true), Summary{Trips: 2, OK: 2, Percent: 100}},
		{"all failed", results(false), Summary{Trips: 1, Failed: 1, Percent: 0}},
		{"empty", nil, Summary{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Summarize(tc.in); got != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestBrief(t *testing.T) {
	var buf bytes.Buffer
	if err := Brief(&buf, results(true, false, true)); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "Results: +-+\n" {
		t.Errorf("unexpected brief output %q", got)
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	res := results(true, true, false, true)
	res[2].Duration = 1500 * time.Millisecond
	if err := WriteTable(&buf, res); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, want := range []string{
		"Total Results\n=============\n",
		"Pass 1:  ok\n",
		"Pass 3:  failed  (1.5s)\n",
		"\nRESULTS\n=======\n",
		"4 trips, 3 passed, 1 failed, 75.00 % success\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected table to contain %q, got:\n%s", want, out)
		}
	}
}

type failingWriter struct{ n int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.n++
	return 0, errors.New("disk full")
}

func TestWriteTable_StopsOnError(t *testing.T) {
	w := &failingWriter{}
	if err := WriteTable(w, results(true, false)); err == nil {
		t.Fatal("expected write error")
	}
	if w.n != 1 {
		t.Errorf("expected writing to stop after the first error, got %d writes", w.n)
	}
}

func TestWriteAndReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	doc := &Document{
		Version:    "1.0.0",
		RunID:      NewRunID(),
		StartedUTC: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Source:     "/data/src",
		Results:    results(true, false),
	}
	if err := WriteJSON(path, doc); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	got, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.RunID != doc.RunID || got.Source != doc.Source {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.Summary != (Summary{Trips: 2, OK: 1, Failed: 1, Percent: 50}) {
		t.Errorf("expected summary to be filled in, got %+v", got.Summary)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, found %d entries", len(entries))
	}
}

func TestReadJSON_Missing(t *testing.T) {
	_, err := ReadJSON(filepath.Join(t.TempDir(), "nope.json"))
	if !os.IsNotExist(err) {
		t.Errorf("expected os.IsNotExist error, got %v", err)
	}
}

func TestReadJSON_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadJSON(path); err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Errorf("expected corrupt error, got %v", err)
	}
}
