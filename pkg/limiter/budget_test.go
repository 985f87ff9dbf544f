package limiter

import (
	"sync"
	"testing"
	"time"
)

func TestWriteBudget_ReserveFile(t *testing.T) {
	tests := []struct {
		name      string
		limit     int64
		maxFile   int64
		held      int64
		size      int64
		want      bool
		wantAvail int64
	}{
		{"fits", 100, 64, 0, 60, true, 40},
		{"larger than threshold", 100, 64, 0, 65, false, 100},
		{"budget exhausted", 100, 64, 60, 50, false, 40},
		{"exactly the remainder", 100, 64, 60, 40, true, 0},
		{"empty file", 100, 64, 100, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewWriteBudget(tt.limit, tt.maxFile)
			if tt.held > 0 && !b.ReserveFile(min(tt.held, tt.maxFile)) {
				t.Fatal("could not set up held bytes")
			}
			if tt.held > tt.maxFile && !b.ReserveFile(tt.held-tt.maxFile) {
				t.Fatal("could not set up held bytes")
			}
			if got := b.ReserveFile(tt.size); got != tt.want {
				t.Errorf("ReserveFile(%d) = %v, want %v", tt.size, got, tt.want)
			}
			if got := b.Available(); got != tt.wantAvail {
				t.Errorf("Available() = %d, want %d", got, tt.wantAvail)
			}
		})
	}
}

func TestWriteBudget_ReleaseFile(t *testing.T) {
	b := NewWriteBudget(100, 100)
	if !b.ReserveFile(50) {
		t.Fatal("expected to reserve 50 bytes")
	}
	b.ReleaseFile(50)
	b.ReleaseFile(50)
	if got := b.Available(); got != 100 {
		t.Errorf("expected available to stay at capacity 100, got %d", got)
	}
}

func TestWriteBudget_Counts(t *testing.T) {
	b := NewWriteBudget(100, 50)
	b.ReserveFile(40)
	b.ReserveFile(60)
	b.ReserveFile(40)
	b.ReserveFile(40)

	whole, streamed := b.Counts()
	if whole != 2 || streamed != 2 {
		t.Errorf("Counts() = (%d, %d), want (2, 2)", whole, streamed)
	}
}

func TestWriteBudget_ConcurrentWriters(t *testing.T) {
	// Many writers compete for a budget that fits only a few files at a time.
	const capacity, fileSize = int64(1000), int64(100)
	b := NewWriteBudget(capacity, fileSize)

	var wg sync.WaitGroup
	var inUse, maxInUse int64
	var mu sync.Mutex

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !b.ReserveFile(fileSize) {
				return
			}
			mu.Lock()
			inUse += fileSize
			maxInUse = max(maxInUse, inUse)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inUse -= fileSize
			mu.Unlock()
			b.ReleaseFile(fileSize)
		}()
	}
	wg.Wait()

	if got := b.Available(); got != capacity {
		t.Errorf("expected full capacity %d after all writers finished, got %d", capacity, got)
	}
	if maxInUse > capacity {
		t.Errorf("budget exceeded: %d bytes held at once, capacity %d", maxInUse, capacity)
	}
	whole, streamed := b.Counts()
	if whole+streamed != 100 {
		t.Errorf("expected 100 decisions, got %d whole and %d streamed", whole, streamed)
	}
}
