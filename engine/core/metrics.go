package core

import (
	"sync"
	"sync/atomic"
	"time"
)

const AVG_COUNT uint8 = 30

// LoaderMetrics counts what the resource loaders did. All methods are safe
// for concurrent use.
type LoaderMetrics struct {
	Scheduled atomic.Int64
	Loaded    atomic.Int64
	Failed    atomic.Int64
	Unloaded  atomic.Int64
	Reloaded  atomic.Int64
	Cleanups  atomic.Int64

	mutex        sync.Mutex
	loadAVGIndex uint8
	loadTimes    [AVG_COUNT]time.Duration
	loadSamples  uint8
}

// LoaderMetricsSnapshot is a point-in-time copy of LoaderMetrics.
type LoaderMetricsSnapshot struct {
	Scheduled       int64
	Loaded          int64
	Failed          int64
	Unloaded        int64
	Reloaded        int64
	Cleanups        int64
	AverageLoadTime time.Duration
}

// RecordLoadTime adds the time from scheduling to a loaded status to the
// rolling average over the last AVG_COUNT loads.
func (m *LoaderMetrics) RecordLoadTime(d time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.loadTimes[m.loadAVGIndex] = d
	m.loadAVGIndex = (m.loadAVGIndex + 1) % AVG_COUNT
	if m.loadSamples < AVG_COUNT {
		m.loadSamples++
	}
}

func (m *LoaderMetrics) AverageLoadTime() time.Duration {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.loadSamples == 0 {
		return 0
	}
	var sum time.Duration
	for i := uint8(0); i < m.loadSamples; i++ {
		sum += m.loadTimes[i]
	}
	return sum / time.Duration(m.loadSamples)
}

func (m *LoaderMetrics) Snapshot() LoaderMetricsSnapshot {
	return LoaderMetricsSnapshot{
		Scheduled:       m.Scheduled.Load(),
		Loaded:          m.Loaded.Load(),
		Failed:          m.Failed.Load(),
		Unloaded:        m.Unloaded.Load(),
		Reloaded:        m.Reloaded.Load(),
		Cleanups:        m.Cleanups.Load(),
		AverageLoadTime: m.AverageLoadTime(),
	}
}
