// Package history keeps the bounded issuance snapshot series the emission
// estimator reads from, plus the backends that persist it across restarts.
package history

import (
	"sync"

	"github.com/web3-frozen/tao-metrics/internal/emission"
)

// DefaultCapacity is the number of snapshots retained (5 days at 10 minute
// polling, 7.5 days at 15 minute polling).
const DefaultCapacity = 720

// Buffer is a fixed-size ring of snapshots ordered by timestamp. Appends and
// reads are serialized by a single mutex.
type Buffer struct {
	mu       sync.Mutex
	data     []emission.Snapshot
	capacity int
	index    int // next write position
	size     int
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		data:     make([]emission.Snapshot, capacity),
		capacity: capacity,
	}
}

// Append adds s if its timestamp is strictly after the latest one. It
// returns false for duplicate or out-of-order samples, which are dropped.
// The oldest snapshot is evicted once the buffer is full.
func (b *Buffer) Append(s emission.Snapshot) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size > 0 {
		last := b.data[(b.index-1+b.capacity)%b.capacity]
		if s.Timestamp <= last.Timestamp {
			return false
		}
	}
	b.data[b.index] = s
	b.index = (b.index + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	return true
}

// Load appends every snapshot in order, applying the same ordering guard as
// Append. It returns how many were accepted.
func (b *Buffer) Load(snaps []emission.Snapshot) int {
	n := 0
	for _, s := range snaps {
		if b.Append(s) {
			n++
		}
	}
	return n
}

// Snapshots returns a copy of the buffer, oldest first.
func (b *Buffer) Snapshots() []emission.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]emission.Snapshot, b.size)
	start := 0
	if b.size == b.capacity {
		start = b.index
	}
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(start+i)%b.capacity]
	}
	return out
}

// Latest returns the newest snapshot.
func (b *Buffer) Latest() (emission.Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return emission.Snapshot{}, false
	}
	return b.data[(b.index-1+b.capacity)%b.capacity], true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Capacity() int { return b.capacity }
