package cmd_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/cmd"
	"github.com/paulschiretz/pgl-roundtrip/pkg/config"
	"github.com/paulschiretz/pgl-roundtrip/pkg/filelock"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
)

// withStdio feeds input on stdin while fn runs and returns what fn printed.
func withStdio(t *testing.T, input string, fn func()) string {
	t.Helper()
	rIn, wIn, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	rOut, wOut, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	origStdin, origStdout := os.Stdin, os.Stdout
	os.Stdin, os.Stdout = rIn, wOut
	defer func() {
		os.Stdin, os.Stdout = origStdin, origStdout
		rIn.Close()
		rOut.Close()
	}()

	go func() {
		_, _ = wIn.WriteString(input)
		_ = wIn.Close()
	}()

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, rOut)
		close(done)
	}()

	fn()
	_ = wOut.Close()
	<-done
	return buf.String()
}

func TestPromptForConfirmation(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		defaultYes bool
		want       bool
		wantPrompt string
	}{
		{"yes", "y\n", false, true, "Overwrite? [y/N]: "},
		{"no over default yes", "n\n", true, false, "Overwrite? [Y/n]: "},
		{"empty takes default yes", "\n", true, true, "Overwrite? [Y/n]: "},
		{"empty takes default no", "\n", false, false, "Overwrite? [y/N]: "},
		{"upper case", "YES\n", false, true, "Overwrite? [y/N]: "},
		{"padded", "   y   \n", false, true, "Overwrite? [y/N]: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			output := withStdio(t, tt.input, func() {
				got = cmd.PromptForConfirmation("Overwrite?", tt.defaultYes)
			})
			if got != tt.want {
				t.Errorf("PromptForConfirmation() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(output, tt.wantPrompt) {
				t.Errorf("output = %q, want substring %q", output, tt.wantPrompt)
			}
		})
	}
}

func TestRunInit(t *testing.T) {
	plog.SetOutput(&bytes.Buffer{})
	configDir := t.TempDir()
	src := filepath.Join(t.TempDir(), "data")

	err := cmd.RunInit(context.Background(), map[string]interface{}{
		"config": configDir,
		"source": src,
		"target": "/srv/parcel/",
		"trips":  5,
	})
	if err != nil {
		t.Fatalf("RunInit() error = %v", err)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source != src || cfg.Target != "/srv/parcel" || cfg.Trips != 5 {
		t.Errorf("unexpected config written: source=%q target=%q trips=%d", cfg.Source, cfg.Target, cfg.Trips)
	}

	// Updating keeps earlier settings.
	if err := cmd.RunInit(context.Background(), map[string]interface{}{"config": configDir, "remotehost": "box"}); err != nil {
		t.Fatalf("RunInit() update error = %v", err)
	}
	cfg, _ = config.Load(configDir)
	if cfg.Trips != 5 || cfg.Remote.Host != "box" {
		t.Errorf("update lost settings: trips=%d host=%q", cfg.Trips, cfg.Remote.Host)
	}
}

func TestRunInit_RequiresPaths(t *testing.T) {
	plog.SetOutput(&bytes.Buffer{})
	err := cmd.RunInit(context.Background(), map[string]interface{}{"config": t.TempDir()})
	if err == nil {
		t.Fatal("RunInit() without source and target succeeded")
	}
}

func TestRunInit_DryRun(t *testing.T) {
	plog.SetOutput(&bytes.Buffer{})
	configDir := t.TempDir()
	err := cmd.RunInit(context.Background(), map[string]interface{}{
		"config":  configDir,
		"source":  t.TempDir(),
		"target":  "/srv/parcel",
		"dry-run": true,
	})
	if err != nil {
		t.Fatalf("RunInit() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(configDir, config.ConfigFileName)); !os.IsNotExist(err) {
		t.Error("dry run wrote a config file")
	}
}

func TestRunInit_DefaultOverwrite(t *testing.T) {
	plog.SetOutput(&bytes.Buffer{})

	tests := []struct {
		name       string
		existing   bool
		force      bool
		answer     string
		wantPrompt bool
		wantTrips  int
	}{
		{name: "declined keeps config", existing: true, answer: "n\n", wantPrompt: true, wantTrips: 5},
		{name: "confirmed resets config", existing: true, answer: "y\n", wantPrompt: true, wantTrips: 1},
		{name: "force skips prompt", existing: true, force: true, wantTrips: 1},
		{name: "no config no prompt", wantTrips: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configDir := t.TempDir()
			src := filepath.Join(t.TempDir(), "data")
			if tt.existing {
				err := cmd.RunInit(context.Background(), map[string]interface{}{
					"config": configDir, "source": src, "target": "/srv/parcel", "trips": 5,
				})
				if err != nil {
					t.Fatalf("seeding RunInit() error = %v", err)
				}
			}

			var runErr error
			output := withStdio(t, tt.answer, func() {
				runErr = cmd.RunInit(context.Background(), map[string]interface{}{
					"config":  configDir,
					"source":  src,
					"target":  "/srv/parcel",
					"default": true,
					"force":   tt.force,
				})
			})
			if runErr != nil {
				t.Fatalf("RunInit() error = %v", runErr)
			}
			if prompted := strings.Contains(output, "Are you sure"); prompted != tt.wantPrompt {
				t.Errorf("prompted = %v, want %v (output %q)", prompted, tt.wantPrompt, output)
			}

			cfg, err := config.Load(configDir)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Trips != tt.wantTrips {
				t.Errorf("trips = %d, want %d", cfg.Trips, tt.wantTrips)
			}
		})
	}
}

func TestRunInit_ConfigLockHeld(t *testing.T) {
	plog.SetOutput(&bytes.Buffer{})
	configDir := t.TempDir()
	configPath := filepath.Join(configDir, config.ConfigFileName)

	held, err := filelock.Acquire(context.Background(), filelock.PathFor(configPath), filelock.Owner{RunID: "other", Source: configDir}, 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer held.Release()

	err = cmd.RunInit(context.Background(), map[string]interface{}{
		"config": configDir,
		"source": filepath.Join(t.TempDir(), "data"),
		"target": "/srv/parcel",
	})
	var active *filelock.ErrLockActive
	if !errors.As(err, &active) {
		t.Fatalf("RunInit() error = %v, want *filelock.ErrLockActive", err)
	}
	if active.Owner.RunID != "other" {
		t.Errorf("holder run = %q, want %q", active.Owner.RunID, "other")
	}
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Error("config written while the lock was held")
	}

	held.Release()
	if err := cmd.RunInit(context.Background(), map[string]interface{}{
		"config": configDir,
		"source": filepath.Join(t.TempDir(), "data"),
		"target": "/srv/parcel",
	}); err != nil {
		t.Fatalf("RunInit() after release error = %v", err)
	}
}
