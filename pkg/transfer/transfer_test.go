package transfer

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) > 0 && strings.Contains(strings.Join(args, " "), "bad-src") {
		os.Exit(3)
	}
	os.Exit(0)
}

type fakeWaiter struct {
	calls    []string
	maxPolls []int
	err      error
}

func (f *fakeWaiter) WaitForExit(ctx context.Context, name string, maxPolls int) error {
	f.calls = append(f.calls, name)
	f.maxPolls = append(f.maxPolls, maxPolls)
	return f.err
}

func TestOptions_Args(t *testing.T) {
	testCases := []struct {
		name string
		opts Options
		want string
	}{
		{"none", Options{}, ""},
		{"verbose", Options{Verbose: true}, "-v"},
		{"all", Options{Verbose: true, Logging: true, Encryption: true, RemoteToolPath: "/opt/bin/parcel"}, "-v -b -n -c /opt/bin/parcel"},
		{"crypto only", Options{Encryption: true}, "-n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := strings.Join(tc.opts.Args(), " "); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddressSpec(t *testing.T) {
	if got := AddressSpec("bob", "localhost", "/tmp/x"); got != "bob@localhost:/tmp/x" {
		t.Errorf("unexpected spec %q", got)
	}
	if got := AddressSpec("", "host", "d"); got != "host:d" {
		t.Errorf("unexpected spec without user %q", got)
	}
}

func TestProcessName(t *testing.T) {
	for tool, want := range map[string]string{
		"./parcel":        "parcel",
		"/usr/bin/parcel": "parcel",
		"parcel.exe":      "parcel",
	} {
		if got := ProcessName(tool); got != want {
			t.Errorf("ProcessName(%q) = %q, want %q", tool, got, want)
		}
	}
}

func TestInvoker_Invoke(t *testing.T) {
	testCases := []struct {
		name        string
		src         string
		waitErr     error
		expectError bool
	}{
		{"success", "src", nil, false},
		{"non-zero exit is not an error", "bad-src", nil, false},
		{"watcher error is returned", "src", errors.New("liveness"), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var gotName string
			var gotArgs []string
			mock := func(ctx context.Context, name string, arg ...string) *exec.Cmd {
				gotName, gotArgs = name, arg
				cs := append([]string{"-test.run=TestHelperProcess", "--"}, arg...)
				cmd := exec.CommandContext(ctx, os.Args[0], cs...)
				cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
				return cmd
			}
			w := &fakeWaiter{err: tc.waitErr}
			inv := NewInvoker(Plan{Tool: "/opt/parcel/parcel", WorkDir: t.TempDir(), MaxPolls: 3}, w, nil, mock)

			err := inv.Invoke(context.Background(), Options{Logging: true}, "bob@host:/dst", tc.src)
			if tc.expectError != (err != nil) {
				t.Fatalf("expectError=%v, got %v", tc.expectError, err)
			}

			if gotName != "/opt/parcel/parcel" {
				t.Errorf("expected tool path, got %q", gotName)
			}
			wantArgs := "-b " + tc.src + " bob@host:/dst"
			if strings.Join(gotArgs, " ") != wantArgs {
				t.Errorf("expected args %q, got %q", wantArgs, strings.Join(gotArgs, " "))
			}
			if len(w.calls) != 1 || w.calls[0] != "parcel" || w.maxPolls[0] != 3 {
				t.Errorf("expected one wait for parcel with 3 polls, got %v %v", w.calls, w.maxPolls)
			}
		})
	}
}

func TestInvoker_MissingTool(t *testing.T) {
	w := &fakeWaiter{}
	inv := NewInvoker(Plan{Tool: "/definitely/not/here/parcel", WorkDir: t.TempDir()}, w, nil, nil)
	err := inv.Invoke(context.Background(), Options{}, "dst", "src")
	if err == nil {
		t.Fatal("expected start failure for a missing tool")
	}
	if len(w.calls) != 0 {
		t.Error("expected no wait after a start failure")
	}
}

func TestInvoker_DryRun(t *testing.T) {
	called := false
	mock := func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		called = true
		return exec.CommandContext(ctx, name, arg...)
	}
	w := &fakeWaiter{}
	inv := NewInvoker(Plan{Tool: "parcel", DryRun: true}, w, nil, mock)
	if err := inv.Invoke(context.Background(), Options{}, "dst", "src"); err != nil {
		t.Fatal(err)
	}
	if called || len(w.calls) != 0 {
		t.Error("expected dry run to neither exec nor wait")
	}
}
