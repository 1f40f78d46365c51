package receiver

import (
	"log/slog"
	"math"
)

// Report is the receiver-report block computed by Statistics. Jitter
// values are in samples at the media clock, already scaled down from the
// internal Q4 representation. CumulativeLost carries 24 valid bits.
type Report struct {
	FractionLost                 uint8
	CumulativeLost               uint32
	ExtendedHighSeqNum           uint32
	Jitter                       uint32
	MaxJitter                    uint32
	JitterTransmissionTimeOffset uint32
	Missing                      int32
}

// updateStatistics folds one packet into the reception statistics.
// Caller must hold r.mu.
func (r *Receiver) updateStatistics(h *Header, bytes int, oldPacket bool) {
	frequencyHz := r.strategy.FrequencyHz()

	r.meter.update(bytes)
	r.receivedByteCount += uint32(bytes)

	if r.receivedInorderPacketCount == 0 && r.receivedOldPacketCount == 0 {
		// First packet after construction or a statistics reset.
		r.receivedSeqFirst = h.SequenceNumber
		r.receivedSeqMax = h.SequenceNumber
		r.receivedInorderPacketCount = 1
		r.localTimeLastReceivedTimestamp = r.clock.CurrentRTPTimestamp(frequencyHz)
		return
	}

	if r.inOrderPacket(h.SequenceNumber) {
		arrivalSamples := r.clock.CurrentRTPTimestamp(frequencyHz)
		r.receivedInorderPacketCount++

		seqDiff := int32(h.SequenceNumber) - int32(r.receivedSeqMax)
		if seqDiff < 0 {
			// Wrap around detected.
			r.receivedSeqWraps++
		}
		r.receivedSeqMax = h.SequenceNumber

		if h.Timestamp != r.lastReceivedTimestamp && r.receivedInorderPacketCount > 1 {
			timeDiffSamples := int32((arrivalSamples - r.localTimeLastReceivedTimestamp) -
				(h.Timestamp - r.lastReceivedTimestamp))
			if timeDiffSamples < 0 {
				timeDiffSamples = -timeDiffSamples
			}

			// Some senders deliver wild timestamp jumps mid-stream. Skip the
			// update past 5 seconds of 90 kHz video rather than poison the
			// estimate. Computed in Q4 to avoid float.
			if timeDiffSamples < 450000 {
				jitterDiffQ4 := int32(uint32(timeDiffSamples)<<4 - r.jitterQ4)
				r.jitterQ4 = uint32(int32(r.jitterQ4) + ((jitterDiffQ4 + 8) >> 4))
			}

			// Extended jitter report, RFC 5450: network jitter with the
			// source-introduced send-time offset removed.
			timeDiffSamplesExt := int32((arrivalSamples - r.localTimeLastReceivedTimestamp) -
				((h.Timestamp + uint32(h.TransmissionTimeOffset)) -
					(r.lastReceivedTimestamp + uint32(r.lastReceivedTransmissionTimeOffset))))
			if timeDiffSamplesExt < 0 {
				timeDiffSamplesExt = -timeDiffSamplesExt
			}
			if timeDiffSamplesExt < 450000 {
				jitterDiffQ4 := int32(uint32(timeDiffSamplesExt)<<4 - r.jitterQ4TransmissionTimeOffset)
				r.jitterQ4TransmissionTimeOffset = uint32(int32(r.jitterQ4TransmissionTimeOffset) + ((jitterDiffQ4 + 8) >> 4))
			}
		}
		r.localTimeLastReceivedTimestamp = arrivalSamples
	} else {
		if oldPacket {
			r.receivedOldPacketCount++
		} else {
			r.receivedInorderPacketCount++
		}
	}

	// Measured overhead, one-pole filter from RFC 5104 4.2.1.2:
	// avg_OH (new) = 15/16*avg_OH (old) + 1/16*pckt_OH.
	packetOH := uint16(h.HeaderLength + h.PaddingLength)
	r.receivedPacketOH = (15*r.receivedPacketOH + packetOH) >> 4
}

// inOrderPacket reports whether a sequence number advances the received
// maximum, accounting for 16-bit wraparound and remote restarts.
// Caller must hold r.mu.
func (r *Receiver) inOrderPacket(sequenceNumber uint16) bool {
	if r.receivedSeqMax >= sequenceNumber {
		// Detect wrap-around.
		if !(r.receivedSeqMax > 0xff00 && sequenceNumber < 0x0ff) {
			if int(r.receivedSeqMax)-r.maxReorderingThreshold > int(sequenceNumber) {
				// Restart of the remote side.
			} else {
				// Retransmit of a packet we already have.
				return false
			}
		}
	} else {
		// Detect wrap-around.
		if sequenceNumber > 0xff00 && r.receivedSeqMax < 0x0ff {
			if int(r.receivedSeqMax)-r.maxReorderingThreshold > int(sequenceNumber) {
				// Restart of the remote side.
			} else {
				// Retransmit of a packet we already have.
				return false
			}
		}
	}
	return true
}

// retransmitOfOldPacket classifies an out-of-order packet as a
// retransmission rather than a benign reorder by comparing its arrival
// delay against the expected network delay. Caller must hold r.mu.
func (r *Receiver) retransmitOfOldPacket(sequenceNumber uint16, timestamp uint32) bool {
	if r.inOrderPacket(sequenceNumber) {
		return false
	}

	frequencyKHz := r.strategy.FrequencyHz() / 1000
	if frequencyKHz == 0 {
		frequencyKHz = 1
	}
	timeDiffMs := r.clock.NowMs() - r.lastReceiveTimeMs

	// Timestamp distance to the last in-order packet, in milliseconds.
	// Truncates toward zero for negative deltas.
	rtpTimeStampDiffMs := int64(int32(timestamp-r.lastReceivedTimestamp) / int32(frequencyKHz))

	minRTT := r.rtcp.RTT()
	var maxDelayMs int64
	if minRTT == 0 {
		// Jitter variance in samples; two standard deviations gives 95%
		// confidence, scaled to milliseconds by the frequency in kHz.
		jitterStd := math.Sqrt(float64(r.jitterQ4 >> 4))
		maxDelayMs = int64((2 * jitterStd) / float64(frequencyKHz))
		if maxDelayMs == 0 {
			maxDelayMs = 1
		}
	} else {
		maxDelayMs = int64(minRTT/3) + 1
	}
	return timeDiffMs > rtpTimeStampDiffMs+maxDelayMs
}

// Statistics computes the receiver-report numbers. With reset=true the
// delta counters are folded into a fresh report and snapshotted; with
// reset=false the previous snapshot is returned unchanged.
func (r *Receiver) Statistics(reset bool) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.receivedSeqFirst == 0 && r.receivedByteCount == 0 {
		// We have not received anything.
		return Report{}, ErrNoReportAvailable
	}

	if !reset {
		if r.lastReportInorderPackets == 0 {
			return Report{}, ErrNoReportAvailable
		}
		return Report{
			FractionLost:                 r.lastReportFractionLost,
			CumulativeLost:               r.lastReportCumulativeLost & 0xffffff,
			ExtendedHighSeqNum:           r.lastReportExtendedHighSeqNum,
			Jitter:                       r.lastReportJitter,
			MaxJitter:                    r.jitterMaxQ4 >> 4,
			JitterTransmissionTimeOffset: r.lastReportJitterTransmissionTimeOffset,
		}, nil
	}

	if r.lastReportInorderPackets == 0 {
		// First report spans [seq_first, seq_max].
		r.lastReportSeqMax = r.receivedSeqFirst - 1
	}

	expSinceLast := r.receivedSeqMax - r.lastReportSeqMax
	if r.lastReportSeqMax > r.receivedSeqMax {
		expSinceLast = 0
	}

	// Received since last report. Without NACK, reordered old packets are
	// ordinary receptions; with NACK they are presumed retransmissions and
	// left out so they don't mask real loss.
	recSinceLast := r.receivedInorderPacketCount - r.lastReportInorderPackets
	if r.nackMethod == NACKOff {
		recSinceLast += r.receivedOldPacketCount - r.lastReportOldPackets
	}

	var missing int32
	if uint32(expSinceLast) > recSinceLast {
		missing = int32(uint32(expSinceLast) - recSinceLast)
	}
	var fractionLost uint8
	if expSinceLast != 0 {
		// Scale 0 to 255, where 255 is 100% loss.
		fractionLost = uint8((255 * uint32(missing)) / uint32(expSinceLast))
	}

	r.cumulativeLoss += uint32(missing)

	if r.jitterQ4 > r.jitterMaxQ4 {
		r.jitterMaxQ4 = r.jitterQ4
	}

	report := Report{
		FractionLost:                 fractionLost,
		CumulativeLost:               r.cumulativeLoss & 0xffffff,
		ExtendedHighSeqNum:           (r.receivedSeqWraps << 16) | uint32(r.receivedSeqMax),
		Jitter:                       r.jitterQ4 >> 4,
		MaxJitter:                    r.jitterMaxQ4 >> 4,
		JitterTransmissionTimeOffset: r.jitterQ4TransmissionTimeOffset >> 4,
		Missing:                      missing,
	}

	r.lastReportFractionLost = fractionLost
	r.lastReportCumulativeLost = r.cumulativeLoss
	r.lastReportExtendedHighSeqNum = report.ExtendedHighSeqNum
	r.lastReportJitter = report.Jitter
	r.lastReportJitterTransmissionTimeOffset = report.JitterTransmissionTimeOffset
	r.lastReportInorderPackets = r.receivedInorderPacketCount
	r.lastReportOldPackets = r.receivedOldPacketCount
	r.lastReportSeqMax = r.receivedSeqMax

	return report, nil
}

// ResetStatistics clears all reception statistics and the last-report
// snapshot.
func (r *Receiver) ResetStatistics() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetStatisticsLocked()
}

// resetStatisticsLocked is ResetStatistics for callers already holding
// r.mu.
func (r *Receiver) resetStatisticsLocked() {
	r.lastReportInorderPackets = 0
	r.lastReportOldPackets = 0
	r.lastReportSeqMax = 0
	r.lastReportFractionLost = 0
	r.lastReportCumulativeLost = 0
	r.lastReportExtendedHighSeqNum = 0
	r.lastReportJitter = 0
	r.lastReportJitterTransmissionTimeOffset = 0
	r.jitterQ4 = 0
	r.jitterMaxQ4 = 0
	r.cumulativeLoss = 0
	r.jitterQ4TransmissionTimeOffset = 0
	r.receivedSeqWraps = 0
	r.receivedSeqMax = 0
	r.receivedSeqFirst = 0
	r.receivedByteCount = 0
	r.receivedOldPacketCount = 0
	r.receivedInorderPacketCount = 0
}

// ResetDataCounters clears the raw byte/packet counters and the in-order
// packet count of the last report, so the next Statistics(true) is
// computed as a first report. Jitter and cumulative loss are not touched.
func (r *Receiver) ResetDataCounters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivedByteCount = 0
	r.receivedOldPacketCount = 0
	r.receivedInorderPacketCount = 0
	r.lastReportInorderPackets = 0
}

// DataCounters returns total bytes and packets received, independent of
// the report delta snapshot.
func (r *Receiver) DataCounters() (bytesReceived, packetsReceived uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receivedByteCount, r.receivedOldPacketCount + r.receivedInorderPacketCount
}

// PacketTimeout checks whether the configured silence window elapsed and
// fires OnPacketTimeout once if so.
func (r *Receiver) PacketTimeout() {
	packetTimeOut := false

	r.mu.Lock()
	if r.packetTimeoutMs == 0 || r.lastReceiveTimeMs == 0 {
		// Not configured, or not active.
		r.mu.Unlock()
		return
	}
	now := r.clock.NowMs()
	if now-r.lastReceiveTimeMs > int64(r.packetTimeoutMs) {
		packetTimeOut = true
		r.lastReceiveTimeMs = 0 // Only one callback.
		r.registry.ResetLastReceivedPayloadTypes()
	}
	r.mu.Unlock()

	if packetTimeOut {
		slog.Info("[Receiver] Packet timeout", "id", r.id)
		r.feedback.OnPacketTimeout(r.id)
	}
}

// ProcessDeadOrAlive decides stream liveness at the given time and fires
// OnPeriodicDeadOrAlive.
func (r *Receiver) ProcessDeadOrAlive(rtcpAlive bool, nowMs int64) {
	r.mu.Lock()
	lastReceiveTimeMs := r.lastReceiveTimeMs
	lastPayloadLength := r.lastReceivedPayloadLength
	r.mu.Unlock()

	alive := LivenessDead
	if lastReceiveTimeMs+1000 > nowMs {
		// Always alive if we have received an RTP packet the last second.
		alive = LivenessAlive
	} else if rtcpAlive {
		alive = r.strategy.ProcessDeadOrAlive(lastPayloadLength)
	}
	// No RTP for a second and no RTCP: dead.

	r.feedback.OnPeriodicDeadOrAlive(r.id, alive)
}

// ProcessBitrate closes the current bitrate window.
func (r *Receiver) ProcessBitrate() {
	r.meter.process()
}

// Bitrate returns the byte rate of the last closed window in bits per
// second.
func (r *Receiver) Bitrate() uint32 {
	return r.meter.BitrateLast()
}

// PacketRate returns the packet rate of the last closed window.
func (r *Receiver) PacketRate() uint32 {
	return r.meter.PacketRate()
}

// EstimatedRemoteTimeStamp extrapolates the remote RTP timestamp of
// "now" from the last received timestamp and the local clock.
func (r *Receiver) EstimatedRemoteTimeStamp() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.localTimeLastReceivedTimestamp == 0 {
		return 0, ErrNoTimestampAvailable
	}
	frequencyHz := r.strategy.FrequencyHz()
	diff := r.clock.CurrentRTPTimestamp(frequencyHz) - r.localTimeLastReceivedTimestamp
	return r.lastReceivedTimestamp + diff, nil
}

// HaveNotReceivedPackets reports whether the receiver is idle.
func (r *Receiver) HaveNotReceivedPackets() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReceiveTimeMs == 0
}

// SSRC returns the current remote SSRC, 0 until the first packet.
func (r *Receiver) SSRC() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ssrc
}

// SequenceNumber returns the sequence number of the last received
// non-retransmitted packet.
func (r *Receiver) SequenceNumber() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReceivedSequenceNumber
}

// TimeStamp returns the RTP timestamp of the last received
// non-retransmitted packet.
func (r *Receiver) TimeStamp() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReceivedTimestamp
}

// LastReceivedFrameTimeMs returns the local arrival time of the last
// packet that advanced the RTP timestamp.
func (r *Receiver) LastReceivedFrameTimeMs() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReceivedFrameTimeMs
}

// PacketOverhead returns the smoothed header+padding overhead in bytes.
func (r *Receiver) PacketOverhead() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receivedPacketOH
}

// CSRCs returns a snapshot of the currently advertised contributing
// sources.
func (r *Receiver) CSRCs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, r.numCSRCs)
	copy(out, r.currentRemoteCSRC[:r.numCSRCs])
	return out
}

// Energy returns a snapshot of the per-CSRC audio energy levels.
func (r *Receiver) Energy() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint8, r.numEnergy)
	copy(out, r.currentRemoteEnergy[:r.numEnergy])
	return out
}

// SetPacketTimeout configures the silence timeout; 0 disables it.
func (r *Receiver) SetPacketTimeout(timeoutMs uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packetTimeoutMs = timeoutMs
}

// SetNACKStatus turns negative acknowledgment on or off. The reordering
// threshold only applies while NACK is active; turning NACK off restores
// the default.
func (r *Receiver) SetNACKStatus(method NACKMethod, maxReorderingThreshold int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxReorderingThreshold < 0 {
		return ErrInvalidReorderingThreshold
	}
	if method == NACKRTCP {
		r.maxReorderingThreshold = maxReorderingThreshold
	} else {
		r.maxReorderingThreshold = DefaultMaxReorderingThreshold
	}
	r.nackMethod = method
	return nil
}

// NACK returns the configured NACK method.
func (r *Receiver) NACK() NACKMethod {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nackMethod
}

// SetRTXStatus configures retransmission-over-RTX demultiplexing.
func (r *Receiver) SetRTXStatus(enable bool, ssrc uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rtx = enable
	r.ssrcRTX = ssrc
}

// RTXStatus returns the current RTX configuration.
func (r *Receiver) RTXStatus() (enabled bool, ssrc uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rtx, r.ssrcRTX
}

// SetSSRCFilter restricts ingress to a single SSRC.
func (r *Receiver) SetSSRCFilter(enable bool, allowedSSRC uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.useSSRCFilter = enable
	if enable {
		r.ssrcFilter = allowedSSRC
	} else {
		r.ssrcFilter = 0
	}
}

// SSRCFilter returns the configured filter SSRC, if enabled.
func (r *Receiver) SSRCFilter() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.useSSRCFilter {
		return r.ssrcFilter, true
	}
	return 0, false
}

// VideoCodecType returns the codec of the current video stream.
func (r *Receiver) VideoCodecType() VideoCodecType {
	return r.strategy.VideoCodecType()
}
