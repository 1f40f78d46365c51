package receiver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const defaultVideoFrequency = 90000

// VideoStrategy handles video streams. All video payloads run on the
// 90 kHz RTP clock.
type VideoStrategy struct {
	sink DataSink

	mu             sync.Mutex
	lastPayload    Payload
	hasLastPayload bool
}

// NewVideoStrategy creates a video strategy forwarding media to sink.
func NewVideoStrategy(sink DataSink) *VideoStrategy {
	return &VideoStrategy{sink: sink}
}

// FrequencyHz implements Strategy.
func (v *VideoStrategy) FrequencyHz() uint32 {
	return defaultVideoFrequency
}

// ShouldReportCSRCChanges implements Strategy.
func (v *VideoStrategy) ShouldReportCSRCChanges(payloadType uint8) bool {
	return true
}

// CheckPayloadChanged implements Strategy. Video has no interleaved
// signaling payloads; every switch proceeds to rebinding.
func (v *VideoStrategy) CheckPayloadChanged(payloadType uint8) (resetStatistics, discardChanges bool) {
	return false, false
}

// LastMediaPayload implements Strategy.
func (v *VideoStrategy) LastMediaPayload() (Payload, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastPayload, v.hasLastPayload
}

// SetLastMediaPayload implements Strategy.
func (v *VideoStrategy) SetLastMediaPayload(p Payload) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastPayload = p
	v.hasLastPayload = true
}

// OnNewPayloadTypeCreated implements Strategy.
func (v *VideoStrategy) OnNewPayloadTypeCreated(payloadType uint8, p Payload) {
	slog.Debug("[Media] Video payload type created", "pt", payloadType, "codec", p.Name)
}

// ParseRTPPacket implements Strategy.
func (v *VideoStrategy) ParseRTPPacket(pkt *Packet, payload *Payload, isRED bool, nowMs int64, isFirstPacket bool) error {
	body := pkt.PayloadBody()
	if isFirstPacket {
		slog.Debug("[Media] First packet in frame",
			"timestamp", pkt.Header.Timestamp,
			"seq", pkt.Header.SequenceNumber,
			"codec", payload.Name,
		)
	}
	if v.sink == nil || len(body) == 0 {
		return nil
	}
	if err := v.sink.OnReceivedPayloadData(body, pkt); err != nil {
		return fmt.Errorf("video payload delivery failed: %w", err)
	}
	return nil
}

// InvokeOnInitializeDecoder implements Strategy.
func (v *VideoStrategy) InvokeOnInitializeDecoder(fb Feedback, id uuid.UUID, payloadType uint8, p Payload) error {
	if !fb.OnInitializeDecoder(id, payloadType, p.Name, defaultVideoFrequency, 1, p.Rate) {
		return fmt.Errorf("host rejected decoder for payload type %d (%s)", payloadType, p.Name)
	}
	return nil
}

// ProcessDeadOrAlive implements Strategy. A video sender with no packets
// for a second has nothing comparable to comfort noise; it is dead.
func (v *VideoStrategy) ProcessDeadOrAlive(lastPayloadLength int) Liveness {
	return LivenessDead
}

// VideoCodecType implements Strategy.
func (v *VideoStrategy) VideoCodecType() VideoCodecType {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.hasLastPayload {
		return VideoCodecNone
	}
	return v.lastPayload.VideoCodec
}
