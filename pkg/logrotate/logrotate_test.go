package logrotate

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-roundtrip/pkg/hints"
)

type fakeRenamer struct {
	from, to string
	err      error
}

func (f *fakeRenamer) Rename(ctx context.Context, from, to string) error {
	f.from, f.to = from, to
	return f.err
}

var testNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestBackupName(t *testing.T) {
	if got := BackupName(LocalLogName, testNow); got != "20260304-050607-debug-master.log" {
		t.Errorf("unexpected backup name %s", got)
	}
}

func TestRotateLocal(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, LocalLogName), []byte("hello log"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := New(Plan{Enabled: true, LocalDir: dir}, nil).RotateLocal(testNow)
	if err != nil {
		t.Fatalf("RotateLocal failed: %v", err)
	}
	if filepath.Base(got) != "20260304-050607-debug-master.log" {
		t.Errorf("unexpected rotated path %s", got)
	}
	if _, err := os.Stat(filepath.Join(dir, LocalLogName)); !os.IsNotExist(err) {
		t.Error("expected original log to be gone")
	}
}

func TestRotateLocal_Compress(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, LocalLogName), []byte("hello log"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := New(Plan{Enabled: true, LocalDir: dir, Compress: true}, nil).RotateLocal(testNow)
	if err != nil {
		t.Fatalf("RotateLocal failed: %v", err)
	}
	if filepath.Ext(got) != ".gz" {
		t.Fatalf("expected a .gz file, got %s", got)
	}

	f, err := os.Open(got)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(zr)
	if string(data) != "hello log" {
		t.Errorf("unexpected decompressed content %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the compressed log to remain, found %d entries", len(entries))
	}
}

func TestRotateLocal_Missing(t *testing.T) {
	_, err := New(Plan{Enabled: true, LocalDir: t.TempDir()}, nil).RotateLocal(testNow)
	if !errors.Is(err, ErrNothingToRotate) || !hints.IsHint(err) {
		t.Errorf("expected ErrNothingToRotate hint, got %v", err)
	}
}

func TestRotate(t *testing.T) {
	remote := &fakeRenamer{}
	r := New(Plan{Enabled: true, LocalDir: t.TempDir(), RemoteDir: "/opt/parcel"}, remote)

	// The missing local log is skipped, the remote one is still rotated.
	if err := r.Rotate(context.Background(), testNow); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if remote.from != "/opt/parcel/debug-minion.log" || remote.to != "/opt/parcel/20260304-050607-debug-minion.log" {
		t.Errorf("unexpected remote rename %s -> %s", remote.from, remote.to)
	}

	remote.err = errors.New("ssh down")
	if err := r.Rotate(context.Background(), testNow); err == nil {
		t.Error("expected remote failure to surface")
	}
}

func TestRotate_Disabled(t *testing.T) {
	if err := New(Plan{}, nil).Rotate(context.Background(), testNow); !hints.IsHint(err) {
		t.Errorf("expected a hint when disabled, got %v", err)
	}
}
