package receiver

import "time"

// Clock is the opaque monotonic time source the receiver is driven
// from. Production code wires in RealClock; tests inject a fake to make
// jitter and timeout calculations deterministic.
type Clock interface {
	// NowMs returns the current monotonic time in milliseconds.
	NowMs() int64

	// CurrentRTPTimestamp returns the current time expressed in RTP
	// samples at the given media clock rate, i.e. NowMs() * frequencyHz /
	// 1000, at arbitrary (but consistent) epoch.
	CurrentRTPTimestamp(frequencyHz uint32) uint32
}

// RealClock is a Clock backed by time.Now, anchored at construction so
// CurrentRTPTimestamp returns small, readable sample counts instead of
// wrapping the full Unix epoch into RTP samples.
type RealClock struct {
	epoch time.Time
}

// NewRealClock creates a RealClock anchored at the current time.
func NewRealClock() *RealClock {
	return &RealClock{epoch: time.Now()}
}

// NowMs implements Clock.
func (c *RealClock) NowMs() int64 {
	return time.Since(c.epoch).Milliseconds()
}

// CurrentRTPTimestamp implements Clock.
func (c *RealClock) CurrentRTPTimestamp(frequencyHz uint32) uint32 {
	elapsed := time.Since(c.epoch)
	samples := elapsed.Seconds() * float64(frequencyHz)
	return uint32(int64(samples))
}
