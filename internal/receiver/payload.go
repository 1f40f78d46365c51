package receiver

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// MediaKind tags a payload descriptor as audio or video.
type MediaKind int

const (
	KindAudio MediaKind = iota
	KindVideo
)

func (k MediaKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// VideoCodecType identifies the codec a video payload descriptor carries.
type VideoCodecType int

const (
	VideoCodecNone VideoCodecType = iota
	VideoCodecGeneric
	VideoCodecVP8
	VideoCodecH264
	VideoCodecI420
	// VideoCodecFEC marks repair-only payloads (ULPFEC). Packets carrying
	// it never trigger decoder re-initialization.
	VideoCodecFEC
)

// Payload describes a registered payload type: what codec the 7-bit
// payload-type number maps to and at which media clock it runs.
type Payload struct {
	Name        string
	Kind        MediaKind
	FrequencyHz uint32
	Channels    uint8
	Rate        uint32
	VideoCodec  VideoCodecType
}

// videoCodecFromName maps well-known video codec names to their type.
// Anything not listed is treated as generic video.
func videoCodecFromName(name string) VideoCodecType {
	switch strings.ToUpper(name) {
	case "VP8":
		return VideoCodecVP8
	case "H264":
		return VideoCodecH264
	case "I420":
		return VideoCodecI420
	case "ULPFEC":
		return VideoCodecFEC
	}
	return VideoCodecGeneric
}

// videoPayloadNames are the codec names registered as video; every other
// name registers as audio.
var videoPayloadNames = map[string]bool{
	"VP8":    true,
	"H264":   true,
	"I420":   true,
	"ULPFEC": true,
}

// PayloadRegistry maps payload-type numbers (0-127) to payload
// descriptors and remembers which payload types the stream last carried.
// The "last media payload type" excludes RED, which only wraps another
// payload.
type PayloadRegistry struct {
	mu       sync.Mutex
	payloads map[uint8]Payload

	lastReceivedPayloadType      int8
	lastReceivedMediaPayloadType int8
	redPayloadType               int8
}

// NewPayloadRegistry creates an empty registry. All "last received"
// markers start at -1 (nothing received).
func NewPayloadRegistry() *PayloadRegistry {
	return &PayloadRegistry{
		payloads:                     make(map[uint8]Payload),
		lastReceivedPayloadType:      -1,
		lastReceivedMediaPayloadType: -1,
		redPayloadType:               -1,
	}
}

// Register binds a payload-type number to a descriptor. Re-registering
// the same number with the same name, frequency and channel count is not
// a new binding (created=false) and only updates the rate; re-registering
// it with a different codec fails. Registering an audio
// codec whose name/frequency/channels already exist under another number
// moves the binding to the new number.
func (pr *PayloadRegistry) Register(name string, payloadType uint8, frequencyHz uint32, channels uint8, rate uint32) (created bool, err error) {
	if payloadType > 127 {
		return false, fmt.Errorf("payload type %d out of range", payloadType)
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	kind := KindAudio
	if videoPayloadNames[strings.ToUpper(name)] {
		kind = KindVideo
	}

	if existing, ok := pr.payloads[payloadType]; ok {
		if strings.EqualFold(existing.Name, name) &&
			existing.FrequencyHz == frequencyHz &&
			existing.Channels == channels {
			// Same codec; only the rate may change.
			existing.Rate = rate
			pr.payloads[payloadType] = existing
			return false, nil
		}
		return false, fmt.Errorf("payload type %d already registered as %s", payloadType, existing.Name)
	}

	// An audio codec may only be bound to one payload type at a time.
	if kind == KindAudio {
		for pt, p := range pr.payloads {
			if p.Kind == KindAudio && strings.EqualFold(p.Name, name) &&
				p.FrequencyHz == frequencyHz && p.Channels == channels {
				delete(pr.payloads, pt)
				slog.Debug("[Payload] Rebinding codec", "name", name, "old_pt", pt, "new_pt", payloadType)
			}
		}
	}

	pr.payloads[payloadType] = Payload{
		Name:        name,
		Kind:        kind,
		FrequencyHz: frequencyHz,
		Channels:    channels,
		Rate:        rate,
		VideoCodec:  videoCodecFromName(name),
	}
	if strings.EqualFold(name, "red") {
		pr.redPayloadType = int8(payloadType)
	}
	slog.Debug("[Payload] Registered", "name", name, "pt", payloadType, "frequency", frequencyHz, "channels", channels, "rate", rate)
	return true, nil
}

// Deregister removes a payload-type binding.
func (pr *PayloadRegistry) Deregister(payloadType uint8) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	delete(pr.payloads, payloadType)
	if pr.redPayloadType == int8(payloadType) {
		pr.redPayloadType = -1
	}
}

// Payload returns the descriptor registered for a payload-type number.
func (pr *PayloadRegistry) Payload(payloadType uint8) (Payload, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	p, ok := pr.payloads[payloadType]
	return p, ok
}

// PayloadType does a reverse lookup from codec parameters to the
// payload-type number they are bound to.
func (pr *PayloadRegistry) PayloadType(name string, frequencyHz uint32, channels uint8) (uint8, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for pt, p := range pr.payloads {
		if strings.EqualFold(p.Name, name) && p.FrequencyHz == frequencyHz && p.Channels == channels {
			return pt, nil
		}
	}
	return 0, fmt.Errorf("no payload type registered for %s/%d/%d", name, frequencyHz, channels)
}

// IsRED reports whether the given payload type is the registered RED
// wrapper type.
func (pr *PayloadRegistry) IsRED(payloadType uint8) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.redPayloadType != -1 && pr.redPayloadType == int8(payloadType)
}

// REDPayloadType returns the registered RED payload type, or -1.
func (pr *PayloadRegistry) REDPayloadType() int8 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.redPayloadType
}

// LastReceivedPayloadType returns the payload type of the most recent
// packet, or -1 if none has been bound yet.
func (pr *PayloadRegistry) LastReceivedPayloadType() int8 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.lastReceivedPayloadType
}

// SetLastReceivedPayloadType records the payload type of the current
// packet.
func (pr *PayloadRegistry) SetLastReceivedPayloadType(payloadType uint8) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.lastReceivedPayloadType = int8(payloadType)
}

// LastReceivedMediaPayloadType returns the most recent non-RED media
// payload type, or -1.
func (pr *PayloadRegistry) LastReceivedMediaPayloadType() int8 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.lastReceivedMediaPayloadType
}

// ReportMediaPayloadType records a media (non-RED) payload type and
// reports whether it is unchanged from the previous one.
func (pr *PayloadRegistry) ReportMediaPayloadType(payloadType uint8) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.lastReceivedMediaPayloadType == int8(payloadType) {
		return true
	}
	pr.lastReceivedMediaPayloadType = int8(payloadType)
	return false
}

// ResetLastReceivedPayloadTypes clears the last-received markers, e.g.
// after a packet timeout.
func (pr *PayloadRegistry) ResetLastReceivedPayloadTypes() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.lastReceivedPayloadType = -1
	pr.lastReceivedMediaPayloadType = -1
}
