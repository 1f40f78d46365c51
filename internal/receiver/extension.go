package receiver

import (
	"fmt"
	"sync"
)

// ExtensionType identifies an RTP header extension the receiver knows how
// to interpret.
type ExtensionType int

const (
	ExtensionNone ExtensionType = iota
	// ExtensionTransmissionTimeOffset is the RFC 5450 signed sample offset
	// between a packet's capture time and its send time.
	ExtensionTransmissionTimeOffset
	// ExtensionAudioLevel is the RFC 6464 per-packet audio level.
	ExtensionAudioLevel
	// ExtensionAbsSendTime is the 24-bit absolute send time extension.
	ExtensionAbsSendTime
)

func (t ExtensionType) String() string {
	switch t {
	case ExtensionTransmissionTimeOffset:
		return "transmission-time-offset"
	case ExtensionAudioLevel:
		return "audio-level"
	case ExtensionAbsSendTime:
		return "abs-send-time"
	}
	return "none"
}

// ExtensionMap maps extension types to the 1-byte ids negotiated for a
// stream. Valid ids are 1-14 per the one-byte header extension format.
type ExtensionMap struct {
	mu    sync.Mutex
	ids   map[ExtensionType]uint8
	types map[uint8]ExtensionType
}

// NewExtensionMap creates an empty extension map.
func NewExtensionMap() *ExtensionMap {
	return &ExtensionMap{
		ids:   make(map[ExtensionType]uint8),
		types: make(map[uint8]ExtensionType),
	}
}

// Register binds an extension type to an id. Re-registering the same
// type/id pair is a no-op; a conflicting binding fails.
func (em *ExtensionMap) Register(t ExtensionType, id uint8) error {
	if id < 1 || id > 14 {
		return fmt.Errorf("extension id %d out of range", id)
	}
	em.mu.Lock()
	defer em.mu.Unlock()

	if existing, ok := em.ids[t]; ok {
		if existing == id {
			return nil
		}
		return fmt.Errorf("extension %s already registered with id %d", t, existing)
	}
	if existing, ok := em.types[id]; ok {
		return fmt.Errorf("extension id %d already used by %s", id, existing)
	}
	em.ids[t] = id
	em.types[id] = t
	return nil
}

// Deregister removes an extension binding.
func (em *ExtensionMap) Deregister(t ExtensionType) {
	em.mu.Lock()
	defer em.mu.Unlock()
	if id, ok := em.ids[t]; ok {
		delete(em.ids, t)
		delete(em.types, id)
	}
}

// ID returns the id registered for an extension type.
func (em *ExtensionMap) ID(t ExtensionType) (uint8, bool) {
	em.mu.Lock()
	defer em.mu.Unlock()
	id, ok := em.ids[t]
	return id, ok
}

// Type returns the extension type registered under an id.
func (em *ExtensionMap) Type(id uint8) (ExtensionType, bool) {
	em.mu.Lock()
	defer em.mu.Unlock()
	t, ok := em.types[id]
	return t, ok
}

// Len returns the number of registered extensions.
func (em *ExtensionMap) Len() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.ids)
}

// Copy returns an independent snapshot of the map.
func (em *ExtensionMap) Copy() *ExtensionMap {
	em.mu.Lock()
	defer em.mu.Unlock()
	out := NewExtensionMap()
	for t, id := range em.ids {
		out.ids[t] = id
		out.types[id] = t
	}
	return out
}
