package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// Document is the JSON form of a finished run.
type Document struct {
	Version      string        `json:"version"`
	RunID        string        `json:"runID"`
	StartedUTC   time.Time     `json:"startedUTC"`
	FinishedUTC  time.Time     `json:"finishedUTC"`
	Source       string        `json:"source"`
	Mirror       string        `json:"mirror"`
	Remote       string        `json:"remote"`
	Generation   string        `json:"generation"`
	Compare      string        `json:"compare"`
	Summary      Summary       `json:"summary"`
	Results      []TrialResult `json:"results"`
	Interrupted  bool          `json:"interrupted,omitempty"`
	ErrorMessage string        `json:"error,omitempty"`
}

// NewRunID returns a fresh identifier for a run.
func NewRunID() string {
	return uuid.NewString()
}

// WriteJSON writes doc to path, creating parent directories as needed. The
// file is written to a temporary name first and renamed into place.
func WriteJSON(path string, doc *Document) error {
	doc.Summary = Summarize(doc.Results)
	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal report: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create report directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("could not create report file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write report %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not write report %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not set permissions on report %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("could not move report into place at %s: %w", path, err)
	}
	return nil
}

// ReadJSON parses a report written by WriteJSON.
func ReadJSON(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		// Return the original error so os.IsNotExist works.
		return Document{}, err
	}
	defer f.Close()

	var doc Document
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("could not parse report %s: %w. It may be corrupt", path, err)
	}
	return doc, nil
}
