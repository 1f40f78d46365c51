package receiver

import "errors"

// Sentinel errors returned by the ingress path and statistics accessors.
// Callers branch on these with errors.Is.
var (
	// ErrMalformedLength is returned when packet_length - padding_length -
	// header_length is negative.
	ErrMalformedLength = errors.New("rtp: packet length shorter than header+padding")

	// ErrRTXTooShort is returned when RTX is enabled, the SSRC matches the
	// configured RTX SSRC, but the packet is too short to carry the 2-byte
	// original sequence number.
	ErrRTXTooShort = errors.New("rtp: rtx packet too short for original sequence number")

	// ErrSSRCFilterMiss is returned when an SSRC filter is configured and
	// the incoming (possibly RTX-remapped) SSRC does not match it.
	ErrSSRCFilterMiss = errors.New("rtp: ssrc does not match configured filter")

	// ErrUnknownPayloadType is returned when the payload-type number is not
	// RED and not registered with the Payload Registry.
	ErrUnknownPayloadType = errors.New("rtp: unregistered payload type")

	// ErrNestedRED is returned when a RED packet's inner payload type is
	// itself RED.
	ErrNestedRED = errors.New("rtp: nested RED payload is not allowed")

	// ErrNoReportAvailable is returned by Statistics when no packet has ever
	// been received, or (for a non-resetting read) no report has ever been
	// generated.
	ErrNoReportAvailable = errors.New("rtp: no receiver report available yet")

	// ErrNoTimestampAvailable is returned by EstimatedRemoteTimeStamp before
	// any packet has carried a usable timestamp.
	ErrNoTimestampAvailable = errors.New("rtp: no timestamp received yet")

	// ErrInvalidReorderingThreshold is returned by SetNACKStatus for a
	// negative reordering threshold.
	ErrInvalidReorderingThreshold = errors.New("rtp: reordering threshold must not be negative")
)
