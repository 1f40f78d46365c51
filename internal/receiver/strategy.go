package receiver

import "github.com/google/uuid"

// DataSink receives depacketized media payloads from a Strategy. The
// receiver's mutex is never held across this call.
type DataSink interface {
	OnReceivedPayloadData(payload []byte, pkt *Packet) error
}

// AudioFeedback receives audio-specific signaling parsed out of the RTP
// stream, currently RFC 4733 telephone events.
type AudioFeedback interface {
	OnReceivedTelephoneEvent(event uint8, end bool)
}

// Strategy is the media-specific half of the receiver: it parses codec
// payload bytes, knows the media clock rate, and decides how payload
// changes and liveness are interpreted for its media kind.
//
// ParseRTPPacket, CheckPayloadChanged, and InvokeOnInitializeDecoder are
// always invoked with the receiver's mutex released; a Strategy may take
// its own locks freely.
type Strategy interface {
	// ParseRTPPacket parses the codec-specific payload and forwards the
	// result to the strategy's data sink.
	ParseRTPPacket(pkt *Packet, payload *Payload, isRED bool, nowMs int64, isFirstPacket bool) error

	// FrequencyHz returns the media clock rate of the current stream.
	FrequencyHz() uint32

	// ShouldReportCSRCChanges reports whether CSRC add/remove callbacks
	// apply to packets of the given payload type.
	ShouldReportCSRCChanges(payloadType uint8) bool

	// CheckPayloadChanged inspects a payload-type switch before the
	// receiver rebinds it. resetStatistics asks the receiver to clear its
	// reception statistics; discardChanges asks it to leave the current
	// binding untouched.
	CheckPayloadChanged(payloadType uint8) (resetStatistics, discardChanges bool)

	// LastMediaPayload returns the most recent media payload descriptor.
	LastMediaPayload() (Payload, bool)

	// SetLastMediaPayload records the payload descriptor the stream is
	// currently carrying.
	SetLastMediaPayload(p Payload)

	// OnNewPayloadTypeCreated lets the strategy note payload types it
	// treats specially (telephone-event, comfort noise).
	OnNewPayloadTypeCreated(payloadType uint8, p Payload)

	// InvokeOnInitializeDecoder asks the host to (re)create a decoder for
	// the given payload type, with media-kind-appropriate parameters.
	InvokeOnInitializeDecoder(fb Feedback, id uuid.UUID, payloadType uint8, p Payload) error

	// ProcessDeadOrAlive gives the strategy's liveness opinion when no RTP
	// has arrived for a second but RTCP says the peer is up.
	ProcessDeadOrAlive(lastPayloadLength int) Liveness

	// VideoCodecType returns the codec of the current video payload, or
	// VideoCodecNone for audio strategies.
	VideoCodecType() VideoCodecType
}
