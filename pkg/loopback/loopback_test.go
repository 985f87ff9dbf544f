package loopback

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulschiretz/pgl-roundtrip/pkg/treecompare"
)

func TestLocalPath(t *testing.T) {
	testCases := map[string]string{
		"/plain/path":             "/plain/path",
		"bob@localhost:/tmp/dest": "/tmp/dest",
		"bob@host:relative":       "relative",
		"weird@nocolon":           "weird@nocolon",
	}
	for in, want := range testCases {
		if got := LocalPath(in); got != want {
			t.Errorf("LocalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseArgs(t *testing.T) {
	a, err := ParseArgs("parcel", []string{"-v", "-b", "-n", "-c", "/opt/parcel", "src", "bob@host:/dst"})
	if err != nil {
		t.Fatal(err)
	}
	if !a.Verbose || !a.Logging || !a.Encryption || a.RemoteToolPath != "/opt/parcel" {
		t.Errorf("flags not parsed: %+v", a)
	}
	if a.Src != "src" || a.Dest != "/dst" {
		t.Errorf("unexpected positional args: %+v", a)
	}

	if _, err := ParseArgs("parcel", []string{"only-one"}); err == nil {
		t.Error("expected error for a single positional argument")
	}
	if _, err := ParseArgs("parcel", []string{"-x", "a", "b"}); err == nil {
		t.Error("expected error for an unknown flag")
	}
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"a.dat":           "alpha",
		"sub/b.dat":       "bravo",
		"sub/deep/c.dat":  "charlie",
		"other/empty.dat": "",
	}
	for rel, content := range files {
		p := filepath.Join(src, rel)
		os.MkdirAll(filepath.Dir(p), 0755)
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	dest := filepath.Join(t.TempDir(), "dest")
	if err := NewCopier().CopyTree(context.Background(), src, dest); err != nil {
		t.Fatalf("CopyTree failed: %v", err)
	}
	if !treecompare.New(treecompare.ByName, nil).Compare(src, dest) {
		t.Error("expected copy to compare equal to the source")
	}

	entries, _ := os.ReadDir(dest)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCopyTree_MissingSource(t *testing.T) {
	if err := NewCopier().CopyTree(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir()); err == nil {
		t.Error("expected error for a missing source")
	}
}

func TestRun_WritesLog(t *testing.T) {
	work := t.TempDir()
	t.Chdir(work)

	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "f"), []byte("x"), 0644)
	dest := t.TempDir()

	var out bytes.Buffer
	if err := Run(context.Background(), "parcel", []string{"-v", "-b", src, "me@localhost:" + dest}, &out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Len() == 0 {
		t.Error("expected verbose output")
	}
	data, err := os.ReadFile(filepath.Join(work, LogName))
	if err != nil {
		t.Fatalf("expected debug log: %v", err)
	}
	if !bytes.Contains(data, []byte(": ok")) {
		t.Errorf("unexpected log content %q", data)
	}
	if _, err := os.Stat(filepath.Join(dest, "f")); err != nil {
		t.Errorf("expected file to be copied: %v", err)
	}
}
