package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds the RTP receiver host configuration
type Config struct {
	BindAddr string
	Port     int
	Media    string // "audio" or "video"
	LogLevel string

	SDPPath string // optional SDP offer to load payload types from

	PacketTimeoutMs        int
	NACKMethod             string // "off" or "rtcp"
	MaxReorderingThreshold int
	RTXSSRC                uint // 0 disables RTX demultiplexing
	SSRCFilter             uint // 0 disables the filter
	TimeOffsetExtensionID  int  // 0 leaves the extension unregistered
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "UDP bind address")
	flag.IntVar(&cfg.Port, "port", 10000, "UDP port to receive RTP on")
	flag.StringVar(&cfg.Media, "media", "audio", "Media kind (audio or video)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "debug", "Log level")
	flag.StringVar(&cfg.SDPPath, "sdp", "", "Path to an SDP offer to load payload types from")
	flag.IntVar(&cfg.PacketTimeoutMs, "packet-timeout-ms", 0, "Packet timeout in milliseconds (0 disables)")
	flag.StringVar(&cfg.NACKMethod, "nack", "off", "NACK method (off or rtcp)")
	flag.IntVar(&cfg.MaxReorderingThreshold, "max-reordering", 50, "Max reordering threshold (with -nack rtcp)")
	flag.UintVar(&cfg.RTXSSRC, "rtx-ssrc", 0, "RTX SSRC to demultiplex (0 disables)")
	flag.UintVar(&cfg.SSRCFilter, "ssrc-filter", 0, "Only accept this SSRC (0 disables)")
	flag.IntVar(&cfg.TimeOffsetExtensionID, "tto-ext-id", 0, "Header extension id for transmission time offset (0 disables)")

	flag.Parse()

	// Environment overrides
	if v := os.Getenv("BIND"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port, _ = strconv.Atoi(v)
	}
	if v := os.Getenv("MEDIA"); v != "" {
		cfg.Media = v
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SDP_PATH"); v != "" {
		cfg.SDPPath = v
	}
	if v := os.Getenv("PACKET_TIMEOUT_MS"); v != "" {
		cfg.PacketTimeoutMs, _ = strconv.Atoi(v)
	}
	if v := os.Getenv("NACK"); v != "" {
		cfg.NACKMethod = v
	}
	if v := os.Getenv("RTX_SSRC"); v != "" {
		n, _ := strconv.ParseUint(v, 10, 32)
		cfg.RTXSSRC = uint(n)
	}
	if v := os.Getenv("SSRC_FILTER"); v != "" {
		n, _ := strconv.ParseUint(v, 10, 32)
		cfg.SSRCFilter = uint(n)
	}

	return cfg
}
