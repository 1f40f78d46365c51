package receiver

import "sync"

// bitrateMeter accumulates byte and packet counts per packet and turns
// them into rates on each periodic process call. Windows shorter than
// 100 ms are folded into the next one; a window over 10 s is discarded
// as stale.
type bitrateMeter struct {
	clock Clock

	mu               sync.Mutex
	packetCount      uint32
	byteCount        uint32
	lastRateUpdateMs int64
	bitrate          uint32 // bits per second
	packetRate       uint32 // packets per second
}

func newBitrateMeter(clock Clock) *bitrateMeter {
	return &bitrateMeter{clock: clock}
}

// update ticks the meter with one received packet.
func (b *bitrateMeter) update(bytes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packetCount++
	b.byteCount += uint32(bytes)
}

// process closes the current window and publishes its rates.
func (b *bitrateMeter) process() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.NowMs()
	if b.lastRateUpdateMs == 0 {
		b.lastRateUpdateMs = now
		return
	}
	diffMs := now - b.lastRateUpdateMs
	if diffMs < 100 {
		return
	}
	if diffMs > 10000 {
		// Stale window, restart the measurement.
		b.lastRateUpdateMs = now
		b.byteCount = 0
		b.packetCount = 0
		return
	}
	b.packetRate = uint32(int64(b.packetCount) * 1000 / diffMs)
	b.bitrate = uint32(int64(b.byteCount) * 8 * 1000 / diffMs)
	b.lastRateUpdateMs = now
	b.byteCount = 0
	b.packetCount = 0
}

// BitrateLast returns the bitrate of the last closed window in bits per
// second.
func (b *bitrateMeter) BitrateLast() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bitrate
}

// PacketRate returns the packet rate of the last closed window in
// packets per second.
func (b *bitrateMeter) PacketRate() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.packetRate
}
