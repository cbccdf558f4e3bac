package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. All methods are safe for concurrent use
// and no-ops on a nil receiver.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	rejects   atomic.Int64
	maxSize   atomic.Int64
	startTime atomic.Int64 // unix nanoseconds
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	s := &Statistics{}
	s.startTime.Store(time.Now().UnixNano())
	return s
}

// Write records an accepted item and the size after it was added.
func (s *Statistics) Write(size int) {
	if s == nil {
		return
	}
	s.writes.Add(1)
	for {
		current := s.maxSize.Load()
		if int64(size) <= current || s.maxSize.CompareAndSwap(current, int64(size)) {
			return
		}
	}
}

// Read records a removed item.
func (s *Statistics) Read(_ int) {
	if s == nil {
		return
	}
	s.reads.Add(1)
}

// Reject records an item refused because the buffer was full.
func (s *Statistics) Reject() {
	if s == nil {
		return
	}
	s.rejects.Add(1)
}

// Writes returns the total number of accepted items.
func (s *Statistics) Writes() int64 {
	if s == nil {
		return 0
	}
	return s.writes.Load()
}

// Reads returns the total number of removed items.
func (s *Statistics) Reads() int64 {
	if s == nil {
		return 0
	}
	return s.reads.Load()
}

// Rejects returns the total number of items refused while full.
func (s *Statistics) Rejects() int64 {
	if s == nil {
		return 0
	}
	return s.rejects.Load()
}

// MaxSize returns the high-water mark of buffered items.
func (s *Statistics) MaxSize() int64 {
	if s == nil {
		return 0
	}
	return s.maxSize.Load()
}

// RejectRate returns the fraction of put attempts that were refused (0.0 to 1.0).
func (s *Statistics) RejectRate() float64 {
	writes := s.Writes()
	rejects := s.Rejects()
	if writes+rejects == 0 {
		return 0.0
	}
	return float64(rejects) / float64(writes+rejects)
}

// Uptime returns how long the statistics have been collected since creation or reset.
func (s *Statistics) Uptime() time.Duration {
	if s == nil {
		return 0
	}
	return time.Since(time.Unix(0, s.startTime.Load()))
}

// Reset resets all statistics to zero.
func (s *Statistics) Reset() {
	if s == nil {
		return
	}
	s.writes.Store(0)
	s.reads.Store(0)
	s.rejects.Store(0)
	s.maxSize.Store(0)
	s.startTime.Store(time.Now().UnixNano())
}

// StatsSummary is a point-in-time snapshot of Statistics.
type StatsSummary struct {
	Writes     int64         `json:"writes"`
	Reads      int64         `json:"reads"`
	Rejects    int64         `json:"rejects"`
	MaxSize    int64         `json:"max_size"`
	RejectRate float64       `json:"reject_rate"`
	Uptime     time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:     s.Writes(),
		Reads:      s.Reads(),
		Rejects:    s.Rejects(),
		MaxSize:    s.MaxSize(),
		RejectRate: s.RejectRate(),
		Uptime:     s.Uptime(),
	}
}
