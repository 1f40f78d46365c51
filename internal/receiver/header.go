package receiver

import "github.com/pion/rtp"

// MaxCSRC is the largest number of contributing sources (or per-CSRC audio
// energy levels) a single RTP packet can carry — 4 bits per RFC 3550.
const MaxCSRC = 15

// Header is the pre-parsed RTP header the Receiver Core consumes. Wire-level
// parsing is an external concern: callers unmarshal with github.com/pion/rtp
// and fill in the fields below that pion's Header does not model
// (header/padding length in bytes, and the signed transmission-time-offset
// header extension, RFC 5450).
type Header struct {
	rtp.Header

	// HeaderLength is the number of bytes occupied by the fixed header,
	// CSRC list, and any header extension. RTX remapping extends it by 2.
	HeaderLength int

	// PaddingLength is the number of trailing padding bytes declared by
	// the RTP padding bit, if any.
	PaddingLength int

	// TransmissionTimeOffset is the signed 24-bit sample offset carried by
	// the transmission-time-offset header extension, or 0 if absent.
	TransmissionTimeOffset int32
}

// AudioHeader carries the per-packet audio extras the Media Strategy needs
// and the Receiver Core snapshots for CSRC reporting: the per-CSRC energy
// levels some audio mixers signal alongside the CSRC list.
type AudioHeader struct {
	NumEnergy int
	Energy    [MaxCSRC]uint8
}

// Packet is the full ingress input to Receiver.IngressRTP: a parsed header,
// its audio-specific extras (ignored for video payloads), and the raw wire
// bytes the header was parsed from.
type Packet struct {
	Header Header
	Audio  AudioHeader

	// Raw is the full RTP packet as received from the wire, header and
	// payload together. RTX remapping and RED inner-payload lookups read
	// bytes directly out of it at offsets derived from Header.HeaderLength.
	Raw []byte

	// Length is the packet's declared length in bytes, normally len(Raw).
	Length int
}

// PayloadBodyLength returns packet_length - padding_length - header_length,
// the number of payload bytes after the fixed header and any trailing
// padding. It is negative for a malformed packet.
func (p *Packet) PayloadBodyLength() int {
	return p.Length - p.Header.PaddingLength - p.Header.HeaderLength
}

// PayloadBody returns the payload bytes following the header, or nil if
// the packet carries no payload (a keep-alive).
func (p *Packet) PayloadBody() []byte {
	n := p.PayloadBodyLength()
	if n <= 0 {
		return nil
	}
	start := p.Header.HeaderLength
	if start+n > len(p.Raw) {
		n = len(p.Raw) - start
	}
	if n <= 0 {
		return nil
	}
	return p.Raw[start : start+n]
}
