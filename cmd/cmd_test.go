package cmd_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/cmd"
	"github.com/paulschiretz/pgl-roundtrip/pkg/filelock"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/report"
	"github.com/paulschiretz/pgl-roundtrip/pkg/treegen"
)

func TestRunGendata(t *testing.T) {
	plog.SetOutput(&bytes.Buffer{})
	root := filepath.Join(t.TempDir(), "T")

	flags := map[string]interface{}{
		"config": t.TempDir(),
		"source": root,
		"size":   "unit",
		"seed":   uint64(7),
	}
	if err := cmd.RunGendata(context.Background(), flags); err != nil {
		t.Fatalf("RunGendata() error = %v", err)
	}
	tree, err := treegen.Describe(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Files) != 8 {
		t.Errorf("generated %d files, want 8", len(tree.Files))
	}

	// A clean run replaces the tree instead of adding to it.
	flags["clean"] = true
	if err := cmd.RunGendata(context.Background(), flags); err != nil {
		t.Fatalf("RunGendata() clean error = %v", err)
	}
	tree, _ = treegen.Describe(root)
	if len(tree.Files) != 8 {
		t.Errorf("clean regeneration left %d files, want 8", len(tree.Files))
	}
	if _, err := os.Stat(filelock.PathFor(root)); err == nil {
		t.Error("lock file left behind")
	}
}

func TestRunCompare(t *testing.T) {
	plog.SetOutput(&bytes.Buffer{})
	base := t.TempDir()
	a, b := filepath.Join(base, "a"), filepath.Join(base, "b")
	for _, dir := range []string{a, b} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "parcelTest001.dat"), []byte("same"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	flags := map[string]interface{}{"config": base, "source": a, "target": b}

	if err := cmd.RunCompare(context.Background(), flags); err != nil {
		t.Fatalf("RunCompare() on equal trees error = %v", err)
	}

	os.WriteFile(filepath.Join(b, "parcelTest001.dat"), []byte("diff"), 0644)
	if err := cmd.RunCompare(context.Background(), flags); !errors.Is(err, cmd.ErrTreesDiffer) {
		t.Errorf("RunCompare() on different trees error = %v, want ErrTreesDiffer", err)
	}

	empty := filepath.Join(base, "empty")
	os.MkdirAll(empty, 0755)
	flags["target"] = empty
	if err := cmd.RunCompare(context.Background(), flags); !errors.Is(err, cmd.ErrTreesDiffer) {
		t.Errorf("RunCompare() against an empty tree error = %v, want ErrTreesDiffer", err)
	}
}

func TestRunTrips_RejectsSourceAsLocalTarget(t *testing.T) {
	plog.SetOutput(&bytes.Buffer{})
	base := t.TempDir()
	src := filepath.Join(base, "T")

	err := cmd.RunTrips(context.Background(), map[string]interface{}{
		"config":     base,
		"source":     src,
		"target":     src,
		"remotehost": "localhost",
		"gendata":    true,
	})
	if err == nil || !strings.Contains(err.Error(), "preflight failed") {
		t.Fatalf("RunTrips() error = %v, want a preflight failure", err)
	}
	entries, _ := os.ReadDir(base)
	if len(entries) != 0 {
		t.Errorf("rejected run left %d entries behind", len(entries))
	}
}

func TestRunTrips_DryRunWritesReport(t *testing.T) {
	plog.SetOutput(&bytes.Buffer{})
	base := t.TempDir()
	src := filepath.Join(base, "T")
	reportPath := filepath.Join(base, "out", "report.json")

	err := cmd.RunTrips(context.Background(), map[string]interface{}{
		"config":     base,
		"source":     src,
		"target":     filepath.Join(base, "remote"),
		"remotehost": "localhost",
		"genloop":    true,
		"trips":      2,
		"dry-run":    true,
		"settle":     time.Duration(0),
		"report":     reportPath,
	})
	if err != nil {
		t.Fatalf("RunTrips() error = %v", err)
	}
	if _, err := os.Stat(src + "1"); !os.IsNotExist(err) {
		t.Error("dry run created a mirror directory")
	}

	doc, err := report.ReadJSON(reportPath)
	if err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if doc.Generation != "every-trial" || len(doc.Results) != 0 || doc.Mirror != src+"1" {
		t.Errorf("unexpected report: %+v", doc)
	}
}
