// Package stats owns the per-session stream counters handed to reporting
// collaborators. Counters are plain values; nothing here prints on its own
// except LogReport, which callers opt into.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// Counters tracks cumulative stream activity. Safe for concurrent reads
// while the single stream reader updates it.
type Counters struct {
	startedAt time.Time

	packets         atomic.Uint64
	keyframes       atomic.Uint64
	configPackets   atomic.Uint64
	bytes           atomic.Uint64
	decodedFrames   atomic.Uint64
	decodeFailures  atomic.Uint64
	savedPictures   atomic.Uint64
	sinkFailures    atomic.Uint64
	lastTimestamp   atomic.Uint64
}

func NewCounters() *Counters {
	return &Counters{startedAt: time.Now()}
}

// AddPacket counts one packet under its precedence-resolved kind.
func (c *Counters) AddPacket(pkt frame.Packet) {
	c.packets.Add(1)
	c.bytes.Add(uint64(len(pkt.Payload)))
	switch pkt.Kind() {
	case frame.KindConfig:
		c.configPackets.Add(1)
	case frame.KindKeyframe:
		c.keyframes.Add(1)
	}
	if !pkt.IsConfig {
		c.lastTimestamp.Store(pkt.Timestamp)
	}
}

func (c *Counters) AddDecoded(n int) {
	if n > 0 {
		c.decodedFrames.Add(uint64(n))
	}
}

func (c *Counters) AddDecodeFailure() { c.decodeFailures.Add(1) }
func (c *Counters) AddSaved()         { c.savedPictures.Add(1) }
func (c *Counters) AddSinkFailure()   { c.sinkFailures.Add(1) }

func (c *Counters) Packets() uint64 { return c.packets.Load() }

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Packets        uint64        `json:"packets"`
	Keyframes      uint64        `json:"keyframes"`
	ConfigPackets  uint64        `json:"config_packets"`
	Bytes          uint64        `json:"bytes"`
	DecodedFrames  uint64        `json:"decoded_frames"`
	DecodeFailures uint64        `json:"decode_failures"`
	SavedPictures  uint64        `json:"saved_pictures"`
	SinkFailures   uint64        `json:"sink_failures"`
	LastTimestamp  uint64        `json:"last_timestamp"`
	Uptime         time.Duration `json:"uptime"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Packets:        c.packets.Load(),
		Keyframes:      c.keyframes.Load(),
		ConfigPackets:  c.configPackets.Load(),
		Bytes:          c.bytes.Load(),
		DecodedFrames:  c.decodedFrames.Load(),
		DecodeFailures: c.decodeFailures.Load(),
		SavedPictures:  c.savedPictures.Load(),
		SinkFailures:   c.sinkFailures.Load(),
		LastTimestamp:  c.lastTimestamp.Load(),
		Uptime:         time.Since(c.startedAt),
	}
}

// AvgPacketSize is zero before the first packet.
func (s Snapshot) AvgPacketSize() float64 {
	if s.Packets == 0 {
		return 0
	}
	return float64(s.Bytes) / float64(s.Packets)
}

// Frames is the count of packets that are neither config nor keyframe.
func (s Snapshot) Frames() uint64 {
	other := s.ConfigPackets + s.Keyframes
	if other > s.Packets {
		return 0
	}
	return s.Packets - other
}

func (s Snapshot) KB() float64 {
	return float64(s.Bytes) / 1024
}

// Line renders the periodic one-line report. Decoded counts are only shown
// when a decoder is attached.
func (s Snapshot) Line(withDecoder bool) string {
	line := fmt.Sprintf("Packets: %d | Keyframes: %d | Config: %d | Avg size: %.1f bytes | Total: %.1f KB",
		s.Packets, s.Keyframes, s.ConfigPackets, s.AvgPacketSize(), s.KB())
	if withDecoder {
		line += fmt.Sprintf(" | Decoded: %d", s.DecodedFrames)
	}
	return line
}

// ReportFunc receives cumulative snapshots.
type ReportFunc func(Snapshot)

// LogReport logs each snapshot through the global logger.
func LogReport(withDecoder bool) ReportFunc {
	return func(s Snapshot) {
		log.Info().
			Uint64("packets", s.Packets).
			Uint64("keyframes", s.Keyframes).
			Uint64("config", s.ConfigPackets).
			Uint64("bytes", s.Bytes).
			Msg(s.Line(withDecoder))
	}
}
