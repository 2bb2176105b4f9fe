package progress

import (
	"sync"
	"time"
)

// MiB is the milestone granularity.
const MiB = 1024 * 1024

// Stats represents a point-in-time snapshot of a transfer.
type Stats struct {
	Transferred uint64
	Total       uint64
	RateBps     float64
	ETA         time.Duration
	Percent     float64
	StartedAt   time.Time
	Elapsed     time.Duration
}

// Meter tracks the bytes moved by one upload or download. Transferred only
// grows and is capped at Total.
type Meter struct {
	mu          sync.Mutex
	total       uint64
	transferred uint64
	startedAt   time.Time
	lastAt      time.Time
	lastDone    uint64
	rateBps     float64
	alpha       float64
	now         func() time.Time
}

// NewMeter starts a meter for a transfer of total bytes.
func NewMeter(total uint64) *Meter {
	return NewMeterWithNow(total, time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(total uint64, now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	start := now()
	return &Meter{
		total:     total,
		startedAt: start,
		lastAt:    start,
		alpha:     0.2,
		now:       now,
	}
}

// Add records n more bytes. It reports whether a whole-MiB boundary was
// crossed or the transfer just completed, which is when callers emit a
// progress record.
func (m *Meter) Add(n int) (milestone bool) {
	if n <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.transferred
	m.transferred += uint64(n)
	if m.transferred > m.total {
		m.transferred = m.total
	}

	now := m.now()
	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime > 0 {
		inst := float64(m.transferred-m.lastDone) / deltaTime
		if m.rateBps == 0 {
			m.rateBps = inst
		} else {
			m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
		}
		m.lastAt = now
		m.lastDone = m.transferred
	}

	if m.transferred == m.total && before < m.total {
		return true
	}
	return before/MiB != m.transferred/MiB
}

// Done reports whether every expected byte has been recorded.
func (m *Meter) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transferred >= m.total
}

// Remaining is the number of bytes still expected.
func (m *Meter) Remaining() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total - m.transferred
}

// Snapshot returns a current snapshot of progress stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		Transferred: m.transferred,
		Total:       m.total,
		RateBps:     m.rateBps,
		StartedAt:   m.startedAt,
		Elapsed:     m.now().Sub(m.startedAt),
	}
	if m.total > 0 {
		stats.Percent = float64(m.transferred) / float64(m.total) * 100
	} else {
		stats.Percent = 100
	}
	if m.rateBps > 0 && m.total > m.transferred {
		remaining := float64(m.total - m.transferred)
		stats.ETA = time.Duration(remaining / m.rateBps * float64(time.Second))
	}
	return stats
}
