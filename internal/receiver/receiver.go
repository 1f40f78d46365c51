package receiver

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultMaxReorderingThreshold is how far a sequence number may fall
// behind the maximum before the comparator treats it as a remote restart
// instead of a retransmission.
const DefaultMaxReorderingThreshold = 50

// NACKMethod selects how lost packets are recovered.
type NACKMethod int

const (
	// NACKOff treats out-of-order packets as benign reorders.
	NACKOff NACKMethod = iota
	// NACKRTCP presumes out-of-order packets are RTCP-requested
	// retransmissions and excludes them from loss accounting.
	NACKRTCP
)

func (m NACKMethod) String() string {
	if m == NACKRTCP {
		return "rtcp"
	}
	return "off"
}

// Config carries the receiver knobs the host can set up front. Zero
// values leave each feature disabled or at its default.
type Config struct {
	PacketTimeoutMs        uint32
	NACKMethod             NACKMethod
	MaxReorderingThreshold int
	RTXEnabled             bool
	RTXSSRC                uint32
	SSRCFilterEnabled      bool
	SSRCFilter             uint32
}

// Receiver is the receive-side RTP state machine: it ingests parsed
// packets, tracks per-stream reception statistics, detects stream
// identity changes, and produces the numbers receiver reports are built
// from.
//
// One mutex guards all mutable state. Host callbacks and media strategy
// calls that may reenter are made strictly outside that mutex, with
// their arguments snapshotted first.
type Receiver struct {
	id       uuid.UUID
	clock    Clock
	registry *PayloadRegistry
	strategy Strategy
	feedback Feedback
	rtcp     RTCPSender

	extensions *ExtensionMap
	meter      *bitrateMeter

	mu sync.Mutex

	lastReceiveTimeMs         int64
	lastReceivedPayloadLength int
	packetTimeoutMs           uint32

	ssrc                uint32
	numCSRCs            int
	currentRemoteCSRC   [MaxCSRC]uint32
	numEnergy           int
	currentRemoteEnergy [MaxCSRC]uint8
	useSSRCFilter       bool
	ssrcFilter          uint32

	jitterQ4                           uint32
	jitterMaxQ4                        uint32
	cumulativeLoss                     uint32
	jitterQ4TransmissionTimeOffset     uint32
	localTimeLastReceivedTimestamp     uint32
	lastReceivedFrameTimeMs            int64
	lastReceivedTimestamp              uint32
	lastReceivedSequenceNumber         uint16
	lastReceivedTransmissionTimeOffset int32

	receivedSeqFirst uint16
	receivedSeqMax   uint16
	receivedSeqWraps uint32

	receivedPacketOH           uint16
	receivedByteCount          uint32
	receivedOldPacketCount     uint32
	receivedInorderPacketCount uint32

	lastReportInorderPackets               uint32
	lastReportOldPackets                   uint32
	lastReportSeqMax                       uint16
	lastReportFractionLost                 uint8
	lastReportCumulativeLost               uint32
	lastReportExtendedHighSeqNum           uint32
	lastReportJitter                       uint32
	lastReportJitterTransmissionTimeOffset uint32

	nackMethod             NACKMethod
	maxReorderingThreshold int
	rtx                    bool
	ssrcRTX                uint32
}

// New creates a Receiver wired to its collaborators. The strategy,
// feedback sink, and RTCP sender must all be non-nil.
func New(clock Clock, registry *PayloadRegistry, strategy Strategy, feedback Feedback, rtcp RTCPSender) *Receiver {
	r := &Receiver{
		id:                     uuid.New(),
		clock:                  clock,
		registry:               registry,
		strategy:               strategy,
		feedback:               feedback,
		rtcp:                   rtcp,
		extensions:             NewExtensionMap(),
		receivedPacketOH:       12, // RTP fixed header.
		maxReorderingThreshold: DefaultMaxReorderingThreshold,
	}
	r.meter = newBitrateMeter(clock)
	slog.Debug("[Receiver] Created", "id", r.id)
	return r
}

// ID returns the receiver's instance id, carried on every callback.
func (r *Receiver) ID() uuid.UUID {
	return r.id
}

// ApplyConfig applies the full configuration surface in one call.
func (r *Receiver) ApplyConfig(cfg Config) error {
	r.SetPacketTimeout(cfg.PacketTimeoutMs)
	if err := r.SetNACKStatus(cfg.NACKMethod, cfg.MaxReorderingThreshold); err != nil {
		return err
	}
	r.SetRTXStatus(cfg.RTXEnabled, cfg.RTXSSRC)
	r.SetSSRCFilter(cfg.SSRCFilterEnabled, cfg.SSRCFilter)
	return nil
}

// Close tears the receiver down, reporting every currently tracked CSRC
// as removed.
func (r *Receiver) Close() {
	r.mu.Lock()
	numCSRCs := r.numCSRCs
	var csrcs [MaxCSRC]uint32
	copy(csrcs[:], r.currentRemoteCSRC[:numCSRCs])
	r.numCSRCs = 0
	r.mu.Unlock()

	for i := 0; i < numCSRCs; i++ {
		r.feedback.OnIncomingCSRCChanged(r.id, csrcs[i], false)
	}
	slog.Debug("[Receiver] Closed", "id", r.id)
}

// RegisterReceivePayload registers a payload type with the registry and,
// for newly created bindings, with the media strategy.
func (r *Receiver) RegisterReceivePayload(name string, payloadType uint8, frequencyHz uint32, channels uint8, rate uint32) error {
	created, err := r.registry.Register(name, payloadType, frequencyHz, channels, rate)
	if err != nil {
		return err
	}
	if created {
		p, _ := r.registry.Payload(payloadType)
		r.strategy.OnNewPayloadTypeCreated(payloadType, p)
	}
	return nil
}

// DeregisterReceivePayload removes a payload-type binding.
func (r *Receiver) DeregisterReceivePayload(payloadType uint8) {
	r.registry.Deregister(payloadType)
}

// RegisterHeaderExtension binds a header-extension type to a 1-byte id.
func (r *Receiver) RegisterHeaderExtension(t ExtensionType, id uint8) error {
	return r.extensions.Register(t, id)
}

// DeregisterHeaderExtension removes a header-extension binding.
func (r *Receiver) DeregisterHeaderExtension(t ExtensionType) {
	r.extensions.Deregister(t)
}

// HeaderExtensions returns a snapshot of the extension map.
func (r *Receiver) HeaderExtensions() *ExtensionMap {
	return r.extensions.Copy()
}

// IngressRTP runs one packet through the receive path: length
// validation, RTX remapping, SSRC filtering, identity-change detection,
// media dispatch, and statistics. The header inside pkt may be rewritten
// by RTX remapping.
func (r *Receiver) IngressRTP(pkt *Packet) error {
	length := pkt.Length - pkt.Header.PaddingLength
	if length-pkt.Header.HeaderLength < 0 {
		slog.Warn("[Receiver] Dropping malformed packet",
			"id", r.id, "length", pkt.Length,
			"header_length", pkt.Header.HeaderLength,
			"padding_length", pkt.Header.PaddingLength,
		)
		return ErrMalformedLength
	}

	r.mu.Lock()
	if r.rtx && r.ssrcRTX == pkt.Header.SSRC {
		if pkt.Header.HeaderLength+2 > pkt.Length {
			r.mu.Unlock()
			return ErrRTXTooShort
		}
		// The first two payload bytes carry the original sequence number.
		pkt.Header.SSRC = r.ssrc
		pkt.Header.SequenceNumber = binary.BigEndian.Uint16(pkt.Raw[pkt.Header.HeaderLength:])
		pkt.Header.HeaderLength += 2
	}
	if r.useSSRCFilter && pkt.Header.SSRC != r.ssrcFilter {
		r.mu.Unlock()
		slog.Warn("[Receiver] Dropping packet due to SSRC filter",
			"id", r.id, "ssrc", pkt.Header.SSRC, "filter", r.ssrcFilter)
		return ErrSSRCFilterMiss
	}
	firstEver := r.lastReceiveTimeMs == 0
	r.mu.Unlock()

	if firstEver {
		if length-pkt.Header.HeaderLength == 0 {
			r.feedback.OnReceivedPacket(r.id, PacketKeepAlive)
		} else {
			r.feedback.OnReceivedPacket(r.id, PacketRTP)
		}
	}

	var firstPayloadByte byte
	if length > pkt.Header.HeaderLength && pkt.Header.HeaderLength < len(pkt.Raw) {
		firstPayloadByte = pkt.Raw[pkt.Header.HeaderLength]
	}

	r.checkSSRCChanged(&pkt.Header)

	specificPayload, isRED, err := r.checkPayloadChanged(&pkt.Header, firstPayloadByte)
	if err != nil {
		if length-pkt.Header.HeaderLength == 0 {
			slog.Debug("[Receiver] Received keepalive", "id", r.id, "ssrc", pkt.Header.SSRC)
			return nil
		}
		slog.Warn("[Receiver] Dropping packet with invalid payload type",
			"id", r.id, "pt", pkt.Header.PayloadType, "error", err)
		return err
	}

	r.checkCSRC(pkt)

	payloadDataLength := pkt.Length - pkt.Header.PaddingLength - pkt.Header.HeaderLength

	isFirstPacketInFrame := r.SequenceNumber()+1 == pkt.Header.SequenceNumber &&
		r.TimeStamp() != pkt.Header.Timestamp
	isFirstPacket := isFirstPacketInFrame || r.HaveNotReceivedPackets()

	if err := r.strategy.ParseRTPPacket(pkt, &specificPayload, isRED, r.clock.NowMs(), isFirstPacket); err != nil {
		return fmt.Errorf("media strategy rejected packet: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Classify against receivedSeqMax before updateStatistics advances it.
	oldPacket := r.retransmitOfOldPacket(pkt.Header.SequenceNumber, pkt.Header.Timestamp)

	r.updateStatistics(&pkt.Header, payloadDataLength, oldPacket)

	r.lastReceiveTimeMs = r.clock.NowMs()
	r.lastReceivedPayloadLength = payloadDataLength

	if !oldPacket {
		if r.lastReceivedTimestamp != pkt.Header.Timestamp {
			r.lastReceivedTimestamp = pkt.Header.Timestamp
			r.lastReceivedFrameTimeMs = r.lastReceiveTimeMs
		}
		r.lastReceivedSequenceNumber = pkt.Header.SequenceNumber
		r.lastReceivedTransmissionTimeOffset = pkt.Header.TransmissionTimeOffset
	}
	return nil
}

// checkSSRCChanged handles stream identity transitions. Must be called
// without the receiver mutex held.
func (r *Receiver) checkSSRCChanged(h *Header) {
	var (
		newSSRC             bool
		reinitializeDecoder bool
		payloadName         string
		frequency           uint32 = defaultVideoFrequency
		channels            uint8  = 1
		rate                uint32
	)

	r.mu.Lock()
	lastReceivedPT := r.registry.LastReceivedPayloadType()
	if r.ssrc != h.SSRC || (lastReceivedPT == -1 && r.ssrc == 0) {
		newSSRC = true

		r.resetStatisticsLocked()

		r.lastReceivedTimestamp = 0
		r.lastReceivedSequenceNumber = 0
		r.lastReceivedTransmissionTimeOffset = 0
		r.lastReceivedFrameTimeMs = 0

		// A non-zero old SSRC means the stream restarted; with the same
		// codec bound, the decoder survives but must be reset.
		if r.ssrc != 0 && int8(h.PayloadType) == lastReceivedPT {
			payload, ok := r.registry.Payload(h.PayloadType)
			if !ok {
				r.mu.Unlock()
				return
			}
			reinitializeDecoder = true
			payloadName = payload.Name
			if payload.Kind == KindAudio {
				frequency = payload.FrequencyHz
				channels = payload.Channels
				rate = payload.Rate
			}
		}
		r.ssrc = h.SSRC
	}
	r.mu.Unlock()

	if newSSRC {
		slog.Info("[Receiver] SSRC changed", "id", r.id, "ssrc", h.SSRC)
		r.rtcp.SetRemoteSSRC(h.SSRC)
		r.feedback.OnIncomingSSRCChanged(r.id, h.SSRC)
	}
	if reinitializeDecoder {
		if !r.feedback.OnInitializeDecoder(r.id, h.PayloadType, payloadName, frequency, channels, rate) {
			slog.Error("[Receiver] Failed to create decoder",
				"id", r.id, "pt", h.PayloadType, "codec", payloadName)
		}
	}
}

// checkPayloadChanged resolves the packet's payload descriptor, handling
// RED unwrapping and payload-type switches. Must be called without the
// receiver mutex held.
func (r *Receiver) checkPayloadChanged(h *Header, firstPayloadByte byte) (Payload, bool, error) {
	payloadType := h.PayloadType
	isRED := false

	lastReceivedPT := r.registry.LastReceivedPayloadType()
	if int8(payloadType) == lastReceivedPT {
		p, _ := r.strategy.LastMediaPayload()
		return p, false, nil
	}

	if r.registry.IsRED(payloadType) {
		// The inner media payload type rides in the low 7 bits of the
		// first payload byte.
		payloadType = firstPayloadByte & 0x7f
		isRED = true

		if r.registry.IsRED(payloadType) {
			return Payload{}, false, ErrNestedRED
		}
		if int8(payloadType) == lastReceivedPT {
			p, _ := r.strategy.LastMediaPayload()
			return p, true, nil
		}
	}

	shouldResetStatistics, shouldDiscardChanges := r.strategy.CheckPayloadChanged(payloadType)
	if shouldResetStatistics {
		r.ResetStatistics()
	}
	if shouldDiscardChanges {
		p, _ := r.strategy.LastMediaPayload()
		return p, false, nil
	}

	payload, ok := r.registry.Payload(payloadType)
	if !ok {
		return Payload{}, false, ErrUnknownPayloadType
	}

	r.registry.SetLastReceivedPayloadType(payloadType)
	r.strategy.SetLastMediaPayload(payload)

	reinitializeDecoder := true
	if payload.Kind == KindVideo {
		if r.strategy.VideoCodecType() == VideoCodecFEC {
			// Repair-only packet, the decoder stays as is.
			reinitializeDecoder = false
		} else if r.registry.ReportMediaPayloadType(payloadType) {
			// Same media codec as before.
			reinitializeDecoder = false
		}
	}
	if reinitializeDecoder {
		r.ResetStatistics()
		if err := r.strategy.InvokeOnInitializeDecoder(r.feedback, r.id, payloadType, payload); err != nil {
			return Payload{}, false, err
		}
	}
	return payload, isRED, nil
}

// checkCSRC diffs the packet's CSRC list against the tracked one and
// reports additions and removals. Must be called without the receiver
// mutex held.
func (r *Receiver) checkCSRC(pkt *Packet) {
	if !r.strategy.ShouldReportCSRCChanges(pkt.Header.PayloadType) {
		return
	}

	var (
		oldRemoteCSRC [MaxCSRC]uint32
		oldNumCSRCs   int
		numCSRCsDiff  int
	)
	newCSRCs := pkt.Header.CSRC
	numCSRCs := len(newCSRCs)
	if numCSRCs > MaxCSRC {
		numCSRCs = MaxCSRC
	}

	r.mu.Lock()
	r.numEnergy = pkt.Audio.NumEnergy
	if pkt.Audio.NumEnergy > 0 && pkt.Audio.NumEnergy <= MaxCSRC {
		copy(r.currentRemoteEnergy[:], pkt.Audio.Energy[:pkt.Audio.NumEnergy])
	}
	oldNumCSRCs = r.numCSRCs
	if oldNumCSRCs > 0 {
		copy(oldRemoteCSRC[:], r.currentRemoteCSRC[:oldNumCSRCs])
	}
	if numCSRCs > 0 {
		for i := 0; i < numCSRCs; i++ {
			r.currentRemoteCSRC[i] = newCSRCs[i]
		}
	}
	if numCSRCs > 0 || oldNumCSRCs > 0 {
		numCSRCsDiff = numCSRCs - oldNumCSRCs
		r.numCSRCs = numCSRCs
	} else {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	haveCalledCallback := false
	// New CSRCs not present in the old set.
	for i := 0; i < numCSRCs; i++ {
		csrc := newCSRCs[i]
		found := false
		for j := 0; j < oldNumCSRCs; j++ {
			if csrc == oldRemoteCSRC[j] {
				found = true
				break
			}
		}
		if !found && csrc != 0 {
			haveCalledCallback = true
			r.feedback.OnIncomingCSRCChanged(r.id, csrc, true)
		}
	}
	// Old CSRCs absent from the new set.
	for i := 0; i < oldNumCSRCs; i++ {
		csrc := oldRemoteCSRC[i]
		found := false
		for j := 0; j < numCSRCs; j++ {
			if csrc == newCSRCs[j] {
				found = true
				break
			}
		}
		if !found && csrc != 0 {
			haveCalledCallback = true
			r.feedback.OnIncomingCSRCChanged(r.id, csrc, false)
		}
	}
	if !haveCalledCallback {
		// Duplicate entries changed only the cardinality. CSRC 0 signals
		// this; not interop safe, but peers expect it.
		if numCSRCsDiff > 0 {
			r.feedback.OnIncomingCSRCChanged(r.id, 0, true)
		} else if numCSRCsDiff < 0 {
			r.feedback.OnIncomingCSRCChanged(r.id, 0, false)
		}
	}
}
