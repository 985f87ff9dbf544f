package metrics

import (
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// Metrics collects counters for a harness run.
type Metrics interface {
	AddFilesGenerated(n int64)
	AddBytesGenerated(n int64)
	AddFilesCompared(n int64)
	AddBytesCompared(n int64)
	AddPolls(n int64)
	AddKills(n int64)
	AddTransfers(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// RunMetrics holds the atomic counters. It is the concrete implementation of Metrics.
type RunMetrics struct {
	FilesGenerated atomic.Int64
	BytesGenerated atomic.Int64
	FilesCompared  atomic.Int64
	BytesCompared  atomic.Int64
	Polls          atomic.Int64
	Kills          atomic.Int64
	Transfers      atomic.Int64

	stopChan  chan struct{}
	startTime time.Time
}

func (m *RunMetrics) AddFilesGenerated(n int64) { m.FilesGenerated.Add(n) }
func (m *RunMetrics) AddBytesGenerated(n int64) { m.BytesGenerated.Add(n) }
func (m *RunMetrics) AddFilesCompared(n int64)  { m.FilesCompared.Add(n) }
func (m *RunMetrics) AddBytesCompared(n int64)  { m.BytesCompared.Add(n) }
func (m *RunMetrics) AddPolls(n int64)          { m.Polls.Add(n) }
func (m *RunMetrics) AddKills(n int64)          { m.Kills.Add(n) }
func (m *RunMetrics) AddTransfers(n int64)      { m.Transfers.Add(n) }

// StartProgress logs a summary every interval until StopProgress is called.
func (m *RunMetrics) StartProgress(msg string, interval time.Duration) {
	m.startTime = time.Now()
	m.stopChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *RunMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

// LogSummary prints the counters with a custom message.
func (m *RunMetrics) LogSummary(msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	plog.Info(msg,
		"files_generated", m.FilesGenerated.Load(),
		"bytes_generated", util.ByteCountIEC(m.BytesGenerated.Load()),
		"files_compared", m.FilesCompared.Load(),
		"bytes_compared", util.ByteCountIEC(m.BytesCompared.Load()),
		"transfers", m.Transfers.Load(),
		"polls", m.Polls.Load(),
		"kills", m.Kills.Load(),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesGenerated(n int64)                        {}
func (m *NoopMetrics) AddBytesGenerated(n int64)                        {}
func (m *NoopMetrics) AddFilesCompared(n int64)                         {}
func (m *NoopMetrics) AddBytesCompared(n int64)                         {}
func (m *NoopMetrics) AddPolls(n int64)                                 {}
func (m *NoopMetrics) AddKills(n int64)                                 {}
func (m *NoopMetrics) AddTransfers(n int64)                             {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*RunMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
