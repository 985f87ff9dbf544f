package procwatch

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/metrics"
)

// fakeLister reports the tool as running for a fixed number of List calls.
type fakeLister struct {
	mu        sync.Mutex
	runsLeft  int
	pids      []int
	lists     int
	kills     int
	killStops bool // a kill empties the table
	listErr   error
}

func (f *fakeLister) List(ctx context.Context, name string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.runsLeft <= 0 {
		return nil, nil
	}
	f.runsLeft--
	return append([]int(nil), f.pids...), nil
}

func (f *fakeLister) KillAll(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
	if f.killStops {
		f.runsLeft = 0
	}
	return nil
}

func fastPlan() Plan {
	return Plan{Interval: time.Millisecond}
}

func TestWaitForExit_NothingRunning(t *testing.T) {
	f := &fakeLister{}
	if err := New(f, fastPlan(), nil).WaitForExit(context.Background(), "parcel", 3); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.lists != 1 || f.kills != 0 {
		t.Errorf("expected a single list and no kill, got lists=%d kills=%d", f.lists, f.kills)
	}
}

func TestWaitForExit_ExitsWithinPolls(t *testing.T) {
	f := &fakeLister{runsLeft: 3, pids: []int{100}}
	m := &metrics.RunMetrics{}
	if err := New(f, fastPlan(), m).WaitForExit(context.Background(), "parcel", 3); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.kills != 0 {
		t.Errorf("expected no kill, got %d", f.kills)
	}
	if got := m.Polls.Load(); got != 3 {
		t.Errorf("expected 3 polls, got %d", got)
	}
}

func TestWaitForExit_KillCadence(t *testing.T) {
	testCases := []struct {
		name      string
		maxPolls  int
		runsLeft  int
		wantKills int
	}{
		// maxPolls+1 sleeps, then one kill, then the counter starts over.
		{"zero tolerance kills after one sleep", 0, 2, 1},
		{"below ceiling", 3, 4, 0},
		{"one exceedance", 3, 5, 1},
		{"two exceedances", 3, 10, 2},
		{"just short of a third", 3, 14, 2},
		{"third exceedance", 3, 15, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeLister{runsLeft: tc.runsLeft, pids: []int{100, 101}}
			m := &metrics.RunMetrics{}
			if err := New(f, fastPlan(), m).WaitForExit(context.Background(), "parcel", tc.maxPolls); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if f.kills != tc.wantKills {
				t.Errorf("expected %d kills, got %d", tc.wantKills, f.kills)
			}
			if got := m.Kills.Load(); got != int64(tc.wantKills) {
				t.Errorf("expected metrics to count %d kills, got %d", tc.wantKills, got)
			}
		})
	}
}

func TestWaitForExit_KillEndsWait(t *testing.T) {
	f := &fakeLister{runsLeft: 1000, pids: []int{100}, killStops: true}
	if err := New(f, fastPlan(), nil).WaitForExit(context.Background(), "parcel", 2); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.kills != 1 {
		t.Errorf("expected exactly one kill, got %d", f.kills)
	}
}

func TestWaitForExit_SelfExcluded(t *testing.T) {
	testCases := []struct {
		name      string
		pids      []int
		wantPolls bool
	}{
		{"only self", []int{os.Getpid()}, false},
		{"self and another", []int{os.Getpid(), 100}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeLister{runsLeft: 2, pids: tc.pids}
			m := &metrics.RunMetrics{}
			if err := New(f, fastPlan(), m).WaitForExit(context.Background(), "parcel", 5); err != nil {
				t.Fatal(err)
			}
			if polled := m.Polls.Load() > 0; polled != tc.wantPolls {
				t.Errorf("expected polling=%v, got %d polls", tc.wantPolls, m.Polls.Load())
			}
		})
	}
}

func TestWaitForExit_HardTimeout(t *testing.T) {
	f := &fakeLister{runsLeft: 1 << 30, pids: []int{100}}
	plan := Plan{Interval: time.Millisecond, HardTimeout: 20 * time.Millisecond}
	err := New(f, plan, nil).WaitForExit(context.Background(), "parcel", 1)
	if !errors.Is(err, ErrLivenessTimeout) {
		t.Fatalf("expected ErrLivenessTimeout, got %v", err)
	}
	if f.kills == 0 {
		t.Error("expected kills to be attempted before giving up")
	}
}

func TestWaitForExit_Canceled(t *testing.T) {
	f := &fakeLister{runsLeft: 1 << 30, pids: []int{100}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := New(f, Plan{Interval: time.Hour}, nil).WaitForExit(ctx, "parcel", 3)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}

func TestWaitForExit_ListError(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeLister{listErr: boom}
	err := New(f, fastPlan(), nil).WaitForExit(context.Background(), "parcel", 3)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped list error, got %v", err)
	}
}
