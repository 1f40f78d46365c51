package receiver

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	ms int64
}

func (c *fakeClock) NowMs() int64 { return c.ms }

func (c *fakeClock) CurrentRTPTimestamp(frequencyHz uint32) uint32 {
	return uint32(c.ms * int64(frequencyHz) / 1000)
}

func (c *fakeClock) advance(ms int64) { c.ms += ms }

type csrcEvent struct {
	csrc  uint32
	added bool
}

type decoderInit struct {
	payloadType uint8
	name        string
	frequencyHz uint32
	channels    uint8
	rate        uint32
}

// recordingFeedback captures every host callback for assertions.
type recordingFeedback struct {
	received    []PacketKind
	ssrcChanges []uint32
	csrcEvents  []csrcEvent
	decoders    []decoderInit
	timeouts    int
	liveness    []Liveness
	rejectInit  bool
}

func (f *recordingFeedback) OnReceivedPacket(id uuid.UUID, kind PacketKind) {
	f.received = append(f.received, kind)
}

func (f *recordingFeedback) OnIncomingSSRCChanged(id uuid.UUID, newSSRC uint32) {
	f.ssrcChanges = append(f.ssrcChanges, newSSRC)
}

func (f *recordingFeedback) OnIncomingCSRCChanged(id uuid.UUID, csrc uint32, added bool) {
	f.csrcEvents = append(f.csrcEvents, csrcEvent{csrc, added})
}

func (f *recordingFeedback) OnInitializeDecoder(id uuid.UUID, payloadType uint8, name string, frequencyHz uint32, channels uint8, rate uint32) bool {
	f.decoders = append(f.decoders, decoderInit{payloadType, name, frequencyHz, channels, rate})
	return !f.rejectInit
}

func (f *recordingFeedback) OnPacketTimeout(id uuid.UUID) {
	f.timeouts++
}

func (f *recordingFeedback) OnPeriodicDeadOrAlive(id uuid.UUID, alive Liveness) {
	f.liveness = append(f.liveness, alive)
}

// fakeRTCP records SetRemoteSSRC calls and serves a fixed RTT.
type fakeRTCP struct {
	rtt    uint32
	remote []uint32
}

func (s *fakeRTCP) RTT() uint32 { return s.rtt }

func (s *fakeRTCP) SetRemoteSSRC(ssrc uint32) {
	s.remote = append(s.remote, ssrc)
}

// testSink counts forwarded payloads.
type testSink struct {
	packets int
	bytes   int
	err     error
}

func (s *testSink) OnReceivedPayloadData(payload []byte, pkt *Packet) error {
	if s.err != nil {
		return s.err
	}
	s.packets++
	s.bytes += len(payload)
	return nil
}

// dtmfRecorder captures telephone events from the audio strategy.
type dtmfRecorder struct {
	events []uint8
	ends   []bool
}

func (d *dtmfRecorder) OnReceivedTelephoneEvent(event uint8, end bool) {
	d.events = append(d.events, event)
	d.ends = append(d.ends, end)
}

type testEnv struct {
	clock    *fakeClock
	registry *PayloadRegistry
	strategy *AudioStrategy
	feedback *recordingFeedback
	rtcp     *fakeRTCP
	sink     *testSink
	dtmf     *dtmfRecorder
	rx       *Receiver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:    &fakeClock{ms: 10000},
		registry: NewPayloadRegistry(),
		feedback: &recordingFeedback{},
		rtcp:     &fakeRTCP{},
		sink:     &testSink{},
		dtmf:     &dtmfRecorder{},
	}
	env.strategy = NewAudioStrategy(env.sink, env.dtmf)
	env.rx = New(env.clock, env.registry, env.strategy, env.feedback, env.rtcp)

	payloads := []struct {
		name string
		pt   uint8
		freq uint32
	}{
		{"PCMU", 0, 8000},
		{"PCMA", 8, 8000},
		{"CN", 13, 8000},
		{"telephone-event", 101, 8000},
		{"red", 127, 8000},
	}
	for _, p := range payloads {
		if err := env.rx.RegisterReceivePayload(p.name, p.pt, p.freq, 1, 0); err != nil {
			t.Fatalf("RegisterReceivePayload(%s) failed: %v", p.name, err)
		}
	}
	return env
}

// audioPacket builds a packet with a 12-byte header and bodyLen payload
// bytes.
func audioPacket(ssrc uint32, seq uint16, ts uint32, pt uint8, bodyLen int) *Packet {
	raw := make([]byte, 12+bodyLen)
	return &Packet{
		Header: Header{
			Header: rtp.Header{
				SSRC:           ssrc,
				SequenceNumber: seq,
				Timestamp:      ts,
				PayloadType:    pt,
			},
			HeaderLength: 12,
		},
		Raw:    raw,
		Length: len(raw),
	}
}

func mustIngress(t *testing.T, rx *Receiver, pkt *Packet) {
	t.Helper()
	if err := rx.IngressRTP(pkt); err != nil {
		t.Fatalf("IngressRTP(seq=%d) failed: %v", pkt.Header.SequenceNumber, err)
	}
}

func TestFirstPacketBootstrap(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))

	if env.rx.receivedSeqFirst != 100 || env.rx.receivedSeqMax != 100 {
		t.Errorf("seqFirst/seqMax = %d/%d, want 100/100", env.rx.receivedSeqFirst, env.rx.receivedSeqMax)
	}
	if env.rx.receivedInorderPacketCount != 1 {
		t.Errorf("inorder count = %d, want 1", env.rx.receivedInorderPacketCount)
	}
	if env.rx.jitterQ4 != 0 {
		t.Errorf("jitterQ4 = %d, want 0", env.rx.jitterQ4)
	}
	bytes, packets := env.rx.DataCounters()
	if bytes != 160 || packets != 1 {
		t.Errorf("DataCounters() = %d bytes, %d packets, want 160, 1", bytes, packets)
	}
	if len(env.feedback.received) != 1 || env.feedback.received[0] != PacketRTP {
		t.Errorf("received callbacks = %v, want [rtp]", env.feedback.received)
	}
	if env.rx.SSRC() != 1 {
		t.Errorf("SSRC() = %d, want 1", env.rx.SSRC())
	}

	report, err := env.rx.Statistics(true)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if report.Missing != 0 || report.FractionLost != 0 {
		t.Errorf("missing/fraction = %d/%d, want 0/0", report.Missing, report.FractionLost)
	}
	if report.ExtendedHighSeqNum != 100 {
		t.Errorf("extended high = %d, want 100", report.ExtendedHighSeqNum)
	}
}

func TestPerfectSpacingZeroJitter(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))
	env.clock.advance(20)
	mustIngress(t, env.rx, audioPacket(1, 101, 1160, 0, 160))

	if env.rx.jitterQ4 != 0 {
		t.Errorf("jitterQ4 = %d, want 0 for perfectly spaced packets", env.rx.jitterQ4)
	}
	if env.rx.receivedInorderPacketCount != 2 {
		t.Errorf("inorder count = %d, want 2", env.rx.receivedInorderPacketCount)
	}
}

func TestGapReportedAsLoss(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))
	env.clock.advance(60)
	mustIngress(t, env.rx, audioPacket(1, 103, 1480, 0, 160))

	report, err := env.rx.Statistics(true)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	// First report spans [100, 103]: 4 expected, 2 received.
	if report.Missing != 2 {
		t.Errorf("missing = %d, want 2", report.Missing)
	}
	if want := uint8(255 * 2 / 4); report.FractionLost != want {
		t.Errorf("fraction lost = %d, want %d", report.FractionLost, want)
	}
	if report.CumulativeLost != 2 {
		t.Errorf("cumulative lost = %d, want 2", report.CumulativeLost)
	}
}

func TestDuplicateClassifiedAsRetransmit(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))
	env.clock.advance(20)
	mustIngress(t, env.rx, audioPacket(1, 101, 1160, 0, 160))
	env.clock.advance(5)
	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))

	if env.rx.receivedInorderPacketCount != 2 {
		t.Errorf("inorder count = %d, want 2", env.rx.receivedInorderPacketCount)
	}
	if env.rx.receivedOldPacketCount != 1 {
		t.Errorf("old packet count = %d, want 1", env.rx.receivedOldPacketCount)
	}
}

func TestSequenceWrap(t *testing.T) {
	env := newTestEnv(t)

	seqs := []uint16{0xfffe, 0xffff, 0x0000, 0x0001}
	ts := uint32(1000)
	for _, seq := range seqs {
		mustIngress(t, env.rx, audioPacket(1, seq, ts, 0, 160))
		env.clock.advance(20)
		ts += 160
	}

	if env.rx.receivedSeqWraps != 1 {
		t.Errorf("wraps = %d, want 1", env.rx.receivedSeqWraps)
	}
	if env.rx.receivedSeqMax != 0x0001 {
		t.Errorf("seqMax = %#x, want 0x0001", env.rx.receivedSeqMax)
	}
	if env.rx.receivedInorderPacketCount != 4 {
		t.Errorf("inorder count = %d, want 4", env.rx.receivedInorderPacketCount)
	}

	report, err := env.rx.Statistics(true)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if report.ExtendedHighSeqNum != 0x10001 {
		t.Errorf("extended high = %#x, want 0x10001", report.ExtendedHighSeqNum)
	}
}

func TestWrapBoundaryPair(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 0xffff, 1000, 0, 160))
	env.clock.advance(20)
	mustIngress(t, env.rx, audioPacket(1, 0x0000, 1160, 0, 160))

	if env.rx.receivedSeqWraps != 1 {
		t.Errorf("wraps = %d, want 1", env.rx.receivedSeqWraps)
	}
	report, err := env.rx.Statistics(true)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if report.ExtendedHighSeqNum != 0x10000 {
		t.Errorf("extended high = %#x, want 0x10000", report.ExtendedHighSeqNum)
	}
}

func TestRTXRemap(t *testing.T) {
	env := newTestEnv(t)
	env.rx.SetRTXStatus(true, 9)

	mustIngress(t, env.rx, audioPacket(1, 99, 1000, 0, 160))
	env.clock.advance(20)

	pkt := audioPacket(9, 7, 1160, 0, 160)
	pkt.Raw[12] = 0x00
	pkt.Raw[13] = 0x64 // original sequence number 100
	mustIngress(t, env.rx, pkt)

	if pkt.Header.SSRC != 1 {
		t.Errorf("remapped SSRC = %d, want 1", pkt.Header.SSRC)
	}
	if pkt.Header.SequenceNumber != 100 {
		t.Errorf("remapped sequence = %d, want 100", pkt.Header.SequenceNumber)
	}
	if pkt.Header.HeaderLength != 14 {
		t.Errorf("header length = %d, want 14", pkt.Header.HeaderLength)
	}
	if env.rx.receivedSeqMax != 100 {
		t.Errorf("seqMax = %d, want 100", env.rx.receivedSeqMax)
	}
}

func TestRTXTooShort(t *testing.T) {
	env := newTestEnv(t)
	env.rx.SetRTXStatus(true, 9)

	pkt := audioPacket(9, 7, 1000, 0, 1)
	if err := env.rx.IngressRTP(pkt); !errors.Is(err, ErrRTXTooShort) {
		t.Errorf("IngressRTP = %v, want ErrRTXTooShort", err)
	}
}

func TestMalformedLengthRejected(t *testing.T) {
	env := newTestEnv(t)

	pkt := audioPacket(1, 100, 1000, 0, 0)
	pkt.Header.PaddingLength = 4
	if err := env.rx.IngressRTP(pkt); !errors.Is(err, ErrMalformedLength) {
		t.Errorf("IngressRTP = %v, want ErrMalformedLength", err)
	}
}

func TestSSRCFilter(t *testing.T) {
	env := newTestEnv(t)
	env.rx.SetSSRCFilter(true, 5)

	if err := env.rx.IngressRTP(audioPacket(1, 100, 1000, 0, 160)); !errors.Is(err, ErrSSRCFilterMiss) {
		t.Errorf("IngressRTP = %v, want ErrSSRCFilterMiss", err)
	}
	mustIngress(t, env.rx, audioPacket(5, 100, 1000, 0, 160))
	if env.rx.SSRC() != 5 {
		t.Errorf("SSRC() = %d, want 5", env.rx.SSRC())
	}

	if ssrc, ok := env.rx.SSRCFilter(); !ok || ssrc != 5 {
		t.Errorf("SSRCFilter() = %d, %v, want 5, true", ssrc, ok)
	}
	env.rx.SetSSRCFilter(false, 0)
	if _, ok := env.rx.SSRCFilter(); ok {
		t.Error("SSRCFilter() enabled after disabling")
	}
}

func TestSSRCChangeResetsAndNotifies(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))
	env.clock.advance(20)
	mustIngress(t, env.rx, audioPacket(1, 101, 1160, 0, 160))
	env.clock.advance(20)
	mustIngress(t, env.rx, audioPacket(2, 500, 9000, 0, 160))

	wantSSRCs := []uint32{1, 2}
	if len(env.feedback.ssrcChanges) != 2 ||
		env.feedback.ssrcChanges[0] != wantSSRCs[0] ||
		env.feedback.ssrcChanges[1] != wantSSRCs[1] {
		t.Errorf("ssrc changes = %v, want %v", env.feedback.ssrcChanges, wantSSRCs)
	}
	if len(env.rtcp.remote) != 2 || env.rtcp.remote[1] != 2 {
		t.Errorf("rtcp remote ssrcs = %v, want [1 2]", env.rtcp.remote)
	}

	// The first packet bound the payload type (one init); the restart on
	// the same codec re-initializes the decoder a second time.
	if len(env.feedback.decoders) != 2 {
		t.Fatalf("decoder inits = %d, want 2", len(env.feedback.decoders))
	}
	d := env.feedback.decoders[1]
	if d.payloadType != 0 || d.name != "PCMU" || d.frequencyHz != 8000 {
		t.Errorf("decoder init = %+v, want PCMU pt 0 at 8000", d)
	}

	// Statistics bootstrapped fresh from the new stream.
	if env.rx.receivedInorderPacketCount != 1 {
		t.Errorf("inorder count after ssrc change = %d, want 1", env.rx.receivedInorderPacketCount)
	}
	if env.rx.receivedSeqFirst != 500 {
		t.Errorf("seqFirst = %d, want 500", env.rx.receivedSeqFirst)
	}
	if env.rx.jitterQ4 != 0 {
		t.Errorf("jitterQ4 = %d, want 0 after reset", env.rx.jitterQ4)
	}
}

func TestKeepAliveFirstPacket(t *testing.T) {
	env := newTestEnv(t)

	// Zero body, unregistered payload type: accepted as keep-alive.
	pkt := audioPacket(1, 100, 1000, 77, 0)
	if err := env.rx.IngressRTP(pkt); err != nil {
		t.Fatalf("keep-alive rejected: %v", err)
	}
	if len(env.feedback.received) != 1 || env.feedback.received[0] != PacketKeepAlive {
		t.Errorf("received callbacks = %v, want [keep_alive]", env.feedback.received)
	}
}

func TestUnknownPayloadTypeRejected(t *testing.T) {
	env := newTestEnv(t)

	pkt := audioPacket(1, 100, 1000, 77, 160)
	if err := env.rx.IngressRTP(pkt); !errors.Is(err, ErrUnknownPayloadType) {
		t.Errorf("IngressRTP = %v, want ErrUnknownPayloadType", err)
	}
}

func TestREDUnwrapping(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))
	env.clock.advance(20)

	// RED wrapping the already bound codec: no rebinding, no decoder init.
	pkt := audioPacket(1, 101, 1160, 127, 160)
	pkt.Raw[12] = 0x00 // inner payload type PCMU
	mustIngress(t, env.rx, pkt)
	if got := env.registry.LastReceivedPayloadType(); got != 0 {
		t.Errorf("last received pt = %d, want 0", got)
	}
	if len(env.feedback.decoders) != 1 {
		t.Errorf("decoder inits = %d, want 1 (initial binding only)", len(env.feedback.decoders))
	}

	// RED wrapping a different codec: rebinds and re-initializes.
	env.clock.advance(20)
	pkt = audioPacket(1, 102, 1320, 127, 160)
	pkt.Raw[12] = 0x08 // inner payload type PCMA
	mustIngress(t, env.rx, pkt)
	if got := env.registry.LastReceivedPayloadType(); got != 8 {
		t.Errorf("last received pt = %d, want 8", got)
	}
	if len(env.feedback.decoders) != 2 || env.feedback.decoders[1].name != "PCMA" {
		t.Errorf("decoder inits = %+v, want PCMU then PCMA", env.feedback.decoders)
	}
}

func TestNestedREDRejected(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))
	env.clock.advance(20)

	pkt := audioPacket(1, 101, 1160, 127, 160)
	pkt.Raw[12] = 127 // inner payload type is RED again
	if err := env.rx.IngressRTP(pkt); !errors.Is(err, ErrNestedRED) {
		t.Errorf("IngressRTP = %v, want ErrNestedRED", err)
	}
}

func TestPayloadChangeReinitializesDecoder(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))
	env.clock.advance(20)
	mustIngress(t, env.rx, audioPacket(1, 101, 1160, 8, 160))

	if len(env.feedback.decoders) != 2 {
		t.Fatalf("decoder inits = %d, want 2", len(env.feedback.decoders))
	}
	if d := env.feedback.decoders[1]; d.payloadType != 8 || d.name != "PCMA" {
		t.Errorf("decoder init = %+v, want PCMA pt 8", d)
	}
	// Switching codecs resets statistics; the new stream bootstraps.
	if env.rx.receivedInorderPacketCount != 1 {
		t.Errorf("inorder count = %d, want 1 after payload switch", env.rx.receivedInorderPacketCount)
	}
}

func TestTelephoneEventDoesNotRebind(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))
	env.clock.advance(20)

	pkt := audioPacket(1, 101, 1160, 101, 4)
	pkt.Raw[12] = 5    // event 5
	pkt.Raw[13] = 0x8a // end bit set
	mustIngress(t, env.rx, pkt)

	if got := env.registry.LastReceivedPayloadType(); got != 0 {
		t.Errorf("last received pt = %d, want 0 (binding untouched)", got)
	}
	if len(env.feedback.decoders) != 1 {
		t.Errorf("decoder inits = %d, want 1 (initial binding only)", len(env.feedback.decoders))
	}
	if len(env.dtmf.events) != 1 || env.dtmf.events[0] != 5 || !env.dtmf.ends[0] {
		t.Errorf("dtmf events = %v ends = %v, want [5] [true]", env.dtmf.events, env.dtmf.ends)
	}
}

func TestCSRCChangeCallbacks(t *testing.T) {
	env := newTestEnv(t)

	pkt := audioPacket(1, 100, 1000, 0, 160)
	pkt.Header.CSRC = []uint32{5, 6}
	mustIngress(t, env.rx, pkt)

	want := []csrcEvent{{5, true}, {6, true}}
	if len(env.feedback.csrcEvents) != 2 ||
		env.feedback.csrcEvents[0] != want[0] ||
		env.feedback.csrcEvents[1] != want[1] {
		t.Fatalf("csrc events = %v, want %v", env.feedback.csrcEvents, want)
	}

	env.clock.advance(20)
	pkt = audioPacket(1, 101, 1160, 0, 160)
	pkt.Header.CSRC = []uint32{6, 7}
	mustIngress(t, env.rx, pkt)

	tail := env.feedback.csrcEvents[2:]
	if len(tail) != 2 || tail[0] != (csrcEvent{7, true}) || tail[1] != (csrcEvent{5, false}) {
		t.Errorf("csrc events after update = %v, want [{7 true} {5 false}]", tail)
	}

	if got := env.rx.CSRCs(); len(got) != 2 || got[0] != 6 || got[1] != 7 {
		t.Errorf("CSRCs() = %v, want [6 7]", got)
	}
}

func TestCSRCDuplicateSentinel(t *testing.T) {
	env := newTestEnv(t)

	pkt := audioPacket(1, 100, 1000, 0, 160)
	pkt.Header.CSRC = []uint32{6, 7}
	mustIngress(t, env.rx, pkt)

	env.clock.advance(20)
	pkt = audioPacket(1, 101, 1160, 0, 160)
	pkt.Header.CSRC = []uint32{6, 6, 7}
	mustIngress(t, env.rx, pkt)

	last := env.feedback.csrcEvents[len(env.feedback.csrcEvents)-1]
	if last != (csrcEvent{0, true}) {
		t.Errorf("sentinel event = %v, want {0 true}", last)
	}
}

func TestCloseReportsCSRCRemovals(t *testing.T) {
	env := newTestEnv(t)

	pkt := audioPacket(1, 100, 1000, 0, 160)
	pkt.Header.CSRC = []uint32{5, 6}
	mustIngress(t, env.rx, pkt)

	env.rx.Close()

	adds := 0
	removes := 0
	for _, e := range env.feedback.csrcEvents {
		if e.added {
			adds++
		} else {
			removes++
		}
	}
	if adds != removes {
		t.Errorf("csrc adds = %d, removes = %d, want matched pairs", adds, removes)
	}
	if got := env.rx.CSRCs(); len(got) != 0 {
		t.Errorf("CSRCs() after close = %v, want empty", got)
	}
}

func TestCSRCEnergyCaptured(t *testing.T) {
	env := newTestEnv(t)

	pkt := audioPacket(1, 100, 1000, 0, 160)
	pkt.Header.CSRC = []uint32{5, 6}
	pkt.Audio.NumEnergy = 2
	pkt.Audio.Energy[0] = 30
	pkt.Audio.Energy[1] = 40
	mustIngress(t, env.rx, pkt)

	if got := env.rx.Energy(); len(got) != 2 || got[0] != 30 || got[1] != 40 {
		t.Errorf("Energy() = %v, want [30 40]", got)
	}
}

func TestPacketTimeoutFiresOnce(t *testing.T) {
	env := newTestEnv(t)
	env.rx.SetPacketTimeout(1000)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))

	env.clock.advance(500)
	env.rx.PacketTimeout()
	if env.feedback.timeouts != 0 {
		t.Fatalf("timeout fired early")
	}

	env.clock.advance(1000)
	env.rx.PacketTimeout()
	if env.feedback.timeouts != 1 {
		t.Fatalf("timeouts = %d, want 1", env.feedback.timeouts)
	}
	if got := env.registry.LastReceivedPayloadType(); got != -1 {
		t.Errorf("last received pt = %d, want -1 after timeout", got)
	}
	if !env.rx.HaveNotReceivedPackets() {
		t.Error("receiver should be idle after timeout")
	}

	// One-shot: a second process call stays quiet.
	env.clock.advance(5000)
	env.rx.PacketTimeout()
	if env.feedback.timeouts != 1 {
		t.Errorf("timeouts = %d, want 1 (one-shot)", env.feedback.timeouts)
	}
}

func TestProcessDeadOrAlive(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 100, 1000, 0, 160))

	env.rx.ProcessDeadOrAlive(false, env.clock.NowMs()+500)
	env.rx.ProcessDeadOrAlive(false, env.clock.NowMs()+1500)
	// Payload was 160 bytes, well above comfort-noise size: dead even with
	// RTCP flowing.
	env.rx.ProcessDeadOrAlive(true, env.clock.NowMs()+1500)

	want := []Liveness{LivenessAlive, LivenessDead, LivenessDead}
	if len(env.feedback.liveness) != 3 {
		t.Fatalf("liveness callbacks = %d, want 3", len(env.feedback.liveness))
	}
	for i, w := range want {
		if env.feedback.liveness[i] != w {
			t.Errorf("liveness[%d] = %v, want %v", i, env.feedback.liveness[i], w)
		}
	}

	// A comfort-noise-sized payload keeps an RTCP-alive stream alive.
	env.clock.advance(20)
	mustIngress(t, env.rx, audioPacket(1, 101, 1160, 13, 5))
	env.rx.ProcessDeadOrAlive(true, env.clock.NowMs()+1500)
	if got := env.feedback.liveness[3]; got != LivenessAlive {
		t.Errorf("liveness with comfort noise = %v, want alive", got)
	}
}

func TestRemoteRestartAcceptedInOrder(t *testing.T) {
	env := newTestEnv(t)

	mustIngress(t, env.rx, audioPacket(1, 1000, 1000, 0, 160))
	env.clock.advance(20)
	mustIngress(t, env.rx, audioPacket(1, 1001, 1160, 0, 160))
	env.clock.advance(20)
	// Far below the max: the comparator treats it as a remote restart.
	mustIngress(t, env.rx, audioPacket(1, 100, 50000, 0, 160))

	if env.rx.receivedSeqMax != 100 {
		t.Errorf("seqMax = %d, want 100 after restart", env.rx.receivedSeqMax)
	}
	if env.rx.receivedOldPacketCount != 0 {
		t.Errorf("old packet count = %d, want 0", env.rx.receivedOldPacketCount)
	}
}

func TestMediaStrategyErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.sink.err = errors.New("sink full")

	if err := env.rx.IngressRTP(audioPacket(1, 100, 1000, 0, 160)); err == nil {
		t.Error("IngressRTP should propagate strategy parse errors")
	}
}

func TestApplyConfig(t *testing.T) {
	env := newTestEnv(t)

	err := env.rx.ApplyConfig(Config{
		PacketTimeoutMs:        2000,
		NACKMethod:             NACKRTCP,
		MaxReorderingThreshold: 25,
		RTXEnabled:             true,
		RTXSSRC:                9,
		SSRCFilterEnabled:      true,
		SSRCFilter:             5,
	})
	if err != nil {
		t.Fatalf("ApplyConfig failed: %v", err)
	}
	if env.rx.NACK() != NACKRTCP {
		t.Errorf("NACK() = %v, want rtcp", env.rx.NACK())
	}
	if enabled, ssrc := env.rx.RTXStatus(); !enabled || ssrc != 9 {
		t.Errorf("RTXStatus() = %v, %d, want true, 9", enabled, ssrc)
	}
	if ssrc, ok := env.rx.SSRCFilter(); !ok || ssrc != 5 {
		t.Errorf("SSRCFilter() = %d, %v, want 5, true", ssrc, ok)
	}

	if err := env.rx.SetNACKStatus(NACKRTCP, -1); !errors.Is(err, ErrInvalidReorderingThreshold) {
		t.Errorf("SetNACKStatus(-1) = %v, want ErrInvalidReorderingThreshold", err)
	}
}

func newVideoTestEnv(t *testing.T) (*fakeClock, *recordingFeedback, *Receiver) {
	t.Helper()
	clock := &fakeClock{ms: 10000}
	registry := NewPayloadRegistry()
	feedback := &recordingFeedback{}
	rx := New(clock, registry, NewVideoStrategy(&testSink{}), feedback, &fakeRTCP{})

	payloads := []struct {
		name string
		pt   uint8
	}{
		{"VP8", 96},
		{"H264", 97},
		{"ULPFEC", 116},
	}
	for _, p := range payloads {
		if err := rx.RegisterReceivePayload(p.name, p.pt, 90000, 1, 0); err != nil {
			t.Fatalf("RegisterReceivePayload(%s) failed: %v", p.name, err)
		}
	}
	return clock, feedback, rx
}

func TestVideoPayloadSwitchReinitializes(t *testing.T) {
	clock, feedback, rx := newVideoTestEnv(t)

	mustIngress(t, rx, audioPacket(1, 100, 3000, 96, 500))
	if len(feedback.decoders) != 1 || feedback.decoders[0].name != "VP8" {
		t.Fatalf("decoder inits = %+v, want one VP8 init", feedback.decoders)
	}

	clock.advance(33)
	mustIngress(t, rx, audioPacket(1, 101, 6000, 97, 500))
	if len(feedback.decoders) != 2 || feedback.decoders[1].name != "H264" {
		t.Errorf("decoder inits = %+v, want VP8 then H264", feedback.decoders)
	}
	if d := feedback.decoders[1]; d.frequencyHz != 90000 {
		t.Errorf("video decoder frequency = %d, want 90000", d.frequencyHz)
	}
}

func TestVideoFECPacketDoesNotReinitialize(t *testing.T) {
	clock, feedback, rx := newVideoTestEnv(t)

	mustIngress(t, rx, audioPacket(1, 100, 3000, 96, 500))
	inits := len(feedback.decoders)

	// A repair-only FEC packet switches the payload type without touching
	// the decoder.
	clock.advance(33)
	mustIngress(t, rx, audioPacket(1, 101, 6000, 116, 200))
	if len(feedback.decoders) != inits {
		t.Errorf("decoder inits = %d, want %d (FEC must not re-initialize)", len(feedback.decoders), inits)
	}
	// Statistics kept accumulating across the FEC switch.
	if rx.receivedInorderPacketCount != 2 {
		t.Errorf("inorder count = %d, want 2", rx.receivedInorderPacketCount)
	}
}
