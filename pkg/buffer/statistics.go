package buffer

import "sync/atomic"

// Statistics counts buffer traffic. Counters are updated under the buffer
// lock and read lock-free.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	drops     atomic.Int64
	highWater atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Statistics.
type StatsSnapshot struct {
	Writes    int64 `json:"writes"`
	Reads     int64 `json:"reads"`
	Drops     int64 `json:"drops"`
	HighWater int64 `json:"high_water"`
}

// Writes returns the number of accepted writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items read.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of items discarded by the overflow policy.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// HighWater returns the largest size the buffer has reached.
func (s *Statistics) HighWater() int64 { return s.highWater.Load() }

// Snapshot copies the counters.
func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Writes:    s.Writes(),
		Reads:     s.Reads(),
		Drops:     s.Drops(),
		HighWater: s.HighWater(),
	}
}

func (s *Statistics) write(size int) {
	s.writes.Add(1)
	for {
		hw := s.highWater.Load()
		if int64(size) <= hw || s.highWater.CompareAndSwap(hw, int64(size)) {
			return
		}
	}
}

func (s *Statistics) read() { s.reads.Add(1) }

func (s *Statistics) drop() { s.drops.Add(1) }
