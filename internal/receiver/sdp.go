package receiver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// LoadFromSDP parses a=rtpmap attributes out of a session description and
// registers a payload descriptor for each one. Returns the number of
// payload types registered.
func (pr *PayloadRegistry) LoadFromSDP(raw []byte) (int, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(raw); err != nil {
		return 0, fmt.Errorf("failed to parse SDP: %w", err)
	}

	count := 0
	for _, md := range desc.MediaDescriptions {
		for _, attr := range md.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			pt, name, frequency, channels, err := parseRtpmap(attr.Value)
			if err != nil {
				return count, fmt.Errorf("bad rtpmap %q: %w", attr.Value, err)
			}
			created, err := pr.Register(name, pt, frequency, channels, 0)
			if err != nil {
				return count, err
			}
			if created {
				count++
			}
		}
	}
	return count, nil
}

// parseRtpmap splits an rtpmap attribute value of the form
// "<pt> <name>/<clock>[/<channels>]".
func parseRtpmap(value string) (pt uint8, name string, frequency uint32, channels uint8, err error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return 0, "", 0, 0, fmt.Errorf("expected two fields, got %d", len(fields))
	}
	ptNum, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil || ptNum > 127 {
		return 0, "", 0, 0, fmt.Errorf("invalid payload type %q", fields[0])
	}
	parts := strings.Split(fields[1], "/")
	if len(parts) < 2 {
		return 0, "", 0, 0, fmt.Errorf("missing clock rate in %q", fields[1])
	}
	clock, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, "", 0, 0, fmt.Errorf("invalid clock rate %q", parts[1])
	}
	channels = 1
	if len(parts) > 2 {
		ch, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil {
			return 0, "", 0, 0, fmt.Errorf("invalid channel count %q", parts[2])
		}
		channels = uint8(ch)
	}
	return uint8(ptNum), parts[0], uint32(clock), channels, nil
}
