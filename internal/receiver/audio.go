package receiver

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultAudioFrequency = 8000

// AudioStrategy handles audio streams: G.711-family codecs, comfort
// noise, and RFC 4733 telephone events.
type AudioStrategy struct {
	sink     DataSink
	feedback AudioFeedback

	mu             sync.Mutex
	lastPayload    Payload
	hasLastPayload bool

	telephoneEventPayloadType int8
	// Comfort-noise payload types, one per sample rate the peer offered.
	cngPayloadTypes map[uint8]uint32
	cngPayloadType  int8
}

// NewAudioStrategy creates an audio strategy forwarding media to sink.
// feedback may be nil when the host has no use for telephone events.
func NewAudioStrategy(sink DataSink, feedback AudioFeedback) *AudioStrategy {
	return &AudioStrategy{
		sink:                      sink,
		feedback:                  feedback,
		telephoneEventPayloadType: -1,
		cngPayloadTypes:           make(map[uint8]uint32),
		cngPayloadType:            -1,
	}
}

// FrequencyHz implements Strategy. Audio defaults to 8 kHz until a
// payload with an explicit frequency is bound.
func (a *AudioStrategy) FrequencyHz() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hasLastPayload && a.lastPayload.FrequencyHz > 0 {
		return a.lastPayload.FrequencyHz
	}
	return defaultAudioFrequency
}

// ShouldReportCSRCChanges implements Strategy. Telephone-event packets
// carry no mixer contributions worth reporting.
func (a *AudioStrategy) ShouldReportCSRCChanges(payloadType uint8) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.telephoneEventPayloadType != int8(payloadType)
}

// CheckPayloadChanged implements Strategy. Telephone events and comfort
// noise interleave with the media codec without rebinding it; a comfort
// noise packet at a new sample rate resets statistics since the media
// clock changed.
func (a *AudioStrategy) CheckPayloadChanged(payloadType uint8) (resetStatistics, discardChanges bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.telephoneEventPayloadType == int8(payloadType) {
		return false, true
	}
	if _, ok := a.cngPayloadTypes[payloadType]; ok {
		changed := a.cngPayloadType != -1 && a.cngPayloadType != int8(payloadType)
		a.cngPayloadType = int8(payloadType)
		return changed, true
	}
	return false, false
}

// LastMediaPayload implements Strategy.
func (a *AudioStrategy) LastMediaPayload() (Payload, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPayload, a.hasLastPayload
}

// SetLastMediaPayload implements Strategy.
func (a *AudioStrategy) SetLastMediaPayload(p Payload) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastPayload = p
	a.hasLastPayload = true
}

// OnNewPayloadTypeCreated implements Strategy.
func (a *AudioStrategy) OnNewPayloadTypeCreated(payloadType uint8, p Payload) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case strings.EqualFold(p.Name, "telephone-event"):
		a.telephoneEventPayloadType = int8(payloadType)
	case strings.EqualFold(p.Name, "CN"):
		a.cngPayloadTypes[payloadType] = p.FrequencyHz
	}
}

// ParseRTPPacket implements Strategy. Telephone events are reported to
// the audio feedback and swallowed; everything else is forwarded to the
// data sink.
func (a *AudioStrategy) ParseRTPPacket(pkt *Packet, payload *Payload, isRED bool, nowMs int64, isFirstPacket bool) error {
	body := pkt.PayloadBody()

	a.mu.Lock()
	isTelephoneEvent := a.telephoneEventPayloadType == int8(pkt.Header.PayloadType)
	_, isCNG := a.cngPayloadTypes[pkt.Header.PayloadType]
	a.mu.Unlock()

	if isTelephoneEvent {
		if len(body) < 4 {
			return fmt.Errorf("telephone-event payload too short: %d bytes", len(body))
		}
		event := body[0]
		end := body[1]&0x80 != 0
		slog.Debug("[Media] Telephone event", "event", event, "end", end)
		if a.feedback != nil {
			a.feedback.OnReceivedTelephoneEvent(event, end)
		}
		return nil
	}
	if isCNG {
		slog.Debug("[Media] Comfort noise", "bytes", len(body))
	}
	if isRED {
		slog.Debug("[Media] RED wrapped payload", "inner_pt", payload.Name, "bytes", len(body))
	}
	if a.sink == nil || len(body) == 0 {
		return nil
	}
	if err := a.sink.OnReceivedPayloadData(body, pkt); err != nil {
		return fmt.Errorf("audio payload delivery failed: %w", err)
	}
	return nil
}

// InvokeOnInitializeDecoder implements Strategy.
func (a *AudioStrategy) InvokeOnInitializeDecoder(fb Feedback, id uuid.UUID, payloadType uint8, p Payload) error {
	if !fb.OnInitializeDecoder(id, payloadType, p.Name, p.FrequencyHz, p.Channels, p.Rate) {
		return fmt.Errorf("host rejected decoder for payload type %d (%s)", payloadType, p.Name)
	}
	return nil
}

// ProcessDeadOrAlive implements Strategy. A sender that has dropped into
// comfort noise sends payloads under 10 bytes; with RTCP still flowing
// that counts as alive.
func (a *AudioStrategy) ProcessDeadOrAlive(lastPayloadLength int) Liveness {
	if lastPayloadLength < 10 {
		return LivenessAlive
	}
	return LivenessDead
}

// VideoCodecType implements Strategy.
func (a *AudioStrategy) VideoCodecType() VideoCodecType {
	return VideoCodecNone
}
