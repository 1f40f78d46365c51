package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"

	"github.com/sebas/rtpreceiver/internal/config"
	"github.com/sebas/rtpreceiver/internal/logger"
	"github.com/sebas/rtpreceiver/internal/receiver"
)

// logSink counts and discards depacketized media.
type logSink struct {
	packets atomic.Int64
	bytes   atomic.Int64
}

func (s *logSink) OnReceivedPayloadData(payload []byte, pkt *receiver.Packet) error {
	s.packets.Add(1)
	s.bytes.Add(int64(len(payload)))
	return nil
}

// logFeedback logs every host callback.
type logFeedback struct{}

func (logFeedback) OnReceivedPacket(id uuid.UUID, kind receiver.PacketKind) {
	slog.Info("[Host] First packet", "id", id, "kind", kind)
}

func (logFeedback) OnIncomingSSRCChanged(id uuid.UUID, newSSRC uint32) {
	slog.Info("[Host] SSRC changed", "id", id, "ssrc", newSSRC)
}

func (logFeedback) OnIncomingCSRCChanged(id uuid.UUID, csrc uint32, added bool) {
	slog.Info("[Host] CSRC changed", "id", id, "csrc", csrc, "added", added)
}

func (logFeedback) OnInitializeDecoder(id uuid.UUID, payloadType uint8, name string, frequencyHz uint32, channels uint8, rate uint32) bool {
	slog.Info("[Host] Initialize decoder",
		"id", id, "pt", payloadType, "codec", name,
		"frequency", frequencyHz, "channels", channels, "rate", rate)
	return true
}

func (logFeedback) OnPacketTimeout(id uuid.UUID) {
	slog.Warn("[Host] Packet timeout", "id", id)
}

func (logFeedback) OnPeriodicDeadOrAlive(id uuid.UUID, alive receiver.Liveness) {
	slog.Debug("[Host] Dead or alive", "id", id, "state", alive)
}

// noRTCP is the RTCP sender stub used when no companion sender runs.
type noRTCP struct{}

func (noRTCP) RTT() uint32 { return 0 }

func (noRTCP) SetRemoteSSRC(ssrc uint32) {
	slog.Debug("[Host] RTCP remote SSRC", "ssrc", ssrc)
}

func main() {
	cfg := config.Load()

	logger.Init(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	registry := receiver.NewPayloadRegistry()
	sink := &logSink{}

	var strategy receiver.Strategy
	if cfg.Media == "video" {
		strategy = receiver.NewVideoStrategy(sink)
	} else {
		strategy = receiver.NewAudioStrategy(sink, nil)
	}

	clk := receiver.NewRealClock()
	rx := receiver.New(clk, registry, strategy, logFeedback{}, noRTCP{})

	if err := registerPayloads(rx, registry, cfg); err != nil {
		slog.Error("Failed to register payload types", "error", err)
		os.Exit(1)
	}

	rxCfg := receiver.Config{
		PacketTimeoutMs:        uint32(cfg.PacketTimeoutMs),
		MaxReorderingThreshold: cfg.MaxReorderingThreshold,
		RTXEnabled:             cfg.RTXSSRC != 0,
		RTXSSRC:                uint32(cfg.RTXSSRC),
		SSRCFilterEnabled:      cfg.SSRCFilter != 0,
		SSRCFilter:             uint32(cfg.SSRCFilter),
	}
	if cfg.NACKMethod == "rtcp" {
		rxCfg.NACKMethod = receiver.NACKRTCP
	}
	if err := rx.ApplyConfig(rxCfg); err != nil {
		slog.Error("Invalid receiver configuration", "error", err)
		os.Exit(1)
	}
	if cfg.TimeOffsetExtensionID != 0 {
		if err := rx.RegisterHeaderExtension(receiver.ExtensionTransmissionTimeOffset, uint8(cfg.TimeOffsetExtensionID)); err != nil {
			slog.Error("Failed to register header extension", "error", err)
			os.Exit(1)
		}
	}

	listenAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		slog.Error("Failed to resolve bind address", "address", listenAddr, "error", err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		slog.Error("Failed to listen", "address", listenAddr, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	slog.Info("RTP receiver listening",
		"address", listenAddr,
		"media", cfg.Media,
		"receiver_id", rx.ID(),
	)

	done := make(chan struct{})
	go readLoop(conn, rx, done)
	go periodicLoop(rx, clk, done)

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	close(done)
	conn.Close()
	rx.Close()

	slog.Info("RTP receiver stopped",
		"payload_packets", sink.packets.Load(),
		"payload_bytes", sink.bytes.Load(),
	)
}

// registerPayloads seeds the registry, either from an SDP offer or with
// the static defaults for the configured media kind.
func registerPayloads(rx *receiver.Receiver, registry *receiver.PayloadRegistry, cfg *config.Config) error {
	if cfg.SDPPath != "" {
		raw, err := os.ReadFile(cfg.SDPPath)
		if err != nil {
			return fmt.Errorf("failed to read SDP offer: %w", err)
		}
		count, err := registry.LoadFromSDP(raw)
		if err != nil {
			return err
		}
		slog.Info("Loaded payload types from SDP", "path", cfg.SDPPath, "count", count)
		return nil
	}

	type entry struct {
		name        string
		payloadType uint8
		frequencyHz uint32
		channels    uint8
	}
	var defaults []entry
	if cfg.Media == "video" {
		defaults = []entry{
			{"VP8", 96, 90000, 1},
			{"H264", 97, 90000, 1},
			{"ULPFEC", 116, 90000, 1},
			{"red", 117, 90000, 1},
		}
	} else {
		defaults = []entry{
			{"PCMU", 0, 8000, 1},
			{"PCMA", 8, 8000, 1},
			{"G722", 9, 8000, 1},
			{"CN", 13, 8000, 1},
			{"opus", 111, 48000, 2},
			{"telephone-event", 101, 8000, 1},
			{"red", 127, 8000, 1},
		}
	}
	for _, e := range defaults {
		if err := rx.RegisterReceivePayload(e.name, e.payloadType, e.frequencyHz, e.channels, 0); err != nil {
			return err
		}
	}
	return nil
}

// readLoop parses datagrams off the wire and feeds them to the receiver.
func readLoop(conn *net.UDPConn, rx *receiver.Receiver, done chan struct{}) {
	extensions := rx.HeaderExtensions()
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			slog.Error("UDP read failed", "error", err)
			return
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		var h rtp.Header
		headerLength, err := h.Unmarshal(raw)
		if err != nil {
			slog.Debug("Discarding unparseable packet", "bytes", n, "error", err)
			continue
		}
		pkt := &receiver.Packet{
			Header: receiver.Header{
				Header:       h,
				HeaderLength: headerLength,
			},
			Raw:    raw,
			Length: n,
		}
		if h.Padding && n > 0 {
			pkt.Header.PaddingLength = int(raw[n-1])
		}
		if id, ok := extensions.ID(receiver.ExtensionTransmissionTimeOffset); ok {
			if ext := h.GetExtension(id); len(ext) == 3 {
				offset := int32(ext[0])<<16 | int32(ext[1])<<8 | int32(ext[2])
				// Sign-extend the 24-bit value.
				pkt.Header.TransmissionTimeOffset = offset << 8 >> 8
			}
		}

		if err := rx.IngressRTP(pkt); err != nil {
			slog.Debug("Packet rejected", "error", err)
		}
	}
}

// periodicLoop drives the timeout, liveness, bitrate, and report paths.
func periodicLoop(rx *receiver.Receiver, clock receiver.Clock, done chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	reportEvery := 5
	tick := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			rx.PacketTimeout()
			rx.ProcessDeadOrAlive(false, clock.NowMs())
			rx.ProcessBitrate()

			tick++
			if tick%reportEvery != 0 {
				continue
			}
			report, err := rx.Statistics(true)
			if err != nil {
				continue
			}
			slog.Info("Receiver report",
				"fraction_lost", report.FractionLost,
				"cumulative_lost", report.CumulativeLost,
				"extended_high_seq", report.ExtendedHighSeqNum,
				"jitter", report.Jitter,
				"bitrate_bps", rx.Bitrate(),
				"packet_rate", rx.PacketRate(),
			)
		}
	}
}
