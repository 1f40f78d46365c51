package receiver

import "github.com/google/uuid"

// PacketKind tags the first-arrival notification fired from the ingress
// path.
type PacketKind int

const (
	// PacketRTP is a normal RTP packet carrying a payload.
	PacketRTP PacketKind = iota
	// PacketKeepAlive is a zero-length-payload packet used to hold a NAT
	// binding open.
	PacketKeepAlive
)

func (k PacketKind) String() string {
	if k == PacketKeepAlive {
		return "keep_alive"
	}
	return "rtp"
}

// Liveness is the alive/dead verdict from ProcessDeadOrAlive.
type Liveness int

const (
	// LivenessDead means no RTP packet for at least a second and no RTCP
	// (or the Media Strategy's opinion on the last payload says dead).
	LivenessDead Liveness = iota
	// LivenessAlive means a packet arrived recently, or the Media
	// Strategy judged the last payload consistent with a live stream.
	LivenessAlive
)

func (l Liveness) String() string {
	if l == LivenessAlive {
		return "alive"
	}
	return "dead"
}

// Feedback is the host callback surface. Every method MUST be invoked with
// the Receiver's mutex released; arguments are snapshotted before the
// lock is dropped. id identifies the Receiver instance the event belongs
// to.
type Feedback interface {
	// OnReceivedPacket fires on the first packet to arrive while the
	// receiver is idle: after construction or after a timeout. A zero-body
	// packet with an unregistered payload type does not end the idle
	// state, so the packet after it fires this again.
	OnReceivedPacket(id uuid.UUID, kind PacketKind)

	// OnIncomingSSRCChanged fires once per identity transition.
	OnIncomingSSRCChanged(id uuid.UUID, newSSRC uint32)

	// OnIncomingCSRCChanged fires once per CSRC entering or leaving the
	// advertised set, or once with csrc=0 when only the number of
	// duplicate entries changed.
	OnIncomingCSRCChanged(id uuid.UUID, csrc uint32, added bool)

	// OnInitializeDecoder requests the host (re)create a decoder for the
	// given payload type. Return false to indicate the payload type is
	// unsupported.
	OnInitializeDecoder(id uuid.UUID, payloadType uint8, name string, frequencyHz uint32, channels uint8, rate uint32) bool

	// OnPacketTimeout fires once when no packet has arrived for
	// packet_timeout_ms milliseconds.
	OnPacketTimeout(id uuid.UUID)

	// OnPeriodicDeadOrAlive fires on every call to ProcessDeadOrAlive.
	OnPeriodicDeadOrAlive(id uuid.UUID, alive Liveness)
}

// RTCPSender is the companion control-protocol sender, consumed only
// through the two operations the receiver needs: a round-trip-time query
// used to classify retransmissions, and a notification that the sender
// should adopt a new remote SSRC.
type RTCPSender interface {
	// RTT returns the current smoothed minimum round-trip-time estimate in
	// milliseconds, or 0 if none is available yet.
	RTT() uint32

	// SetRemoteSSRC notifies the sender of a new remote SSRC so it can
	// target receiver reports correctly.
	SetRemoteSSRC(ssrc uint32)
}
