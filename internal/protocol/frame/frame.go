package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/streamctl/internal/protocol"
)

const (
	PacketHeaderLen = 12

	FlagConfig   uint64 = 1 << 63
	FlagKeyframe uint64 = 1 << 62
	TimestampMax uint64 = FlagKeyframe - 1
)

// Kind is the precedence-resolved classification of a packet.
type Kind int

const (
	KindFrame Kind = iota
	KindKeyframe
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "CONFIG"
	case KindKeyframe:
		return "KEYFRAME"
	default:
		return "FRAME"
	}
}

// Packet is one framed access unit (or config blob) in stream order.
// IsConfig and IsKeyframe mirror the wire bits and may both be set.
type Packet struct {
	Timestamp  uint64
	IsConfig   bool
	IsKeyframe bool
	Payload    []byte
}

// Kind reports the packet kind with config taking precedence over keyframe.
func (p Packet) Kind() Kind {
	switch {
	case p.IsConfig:
		return KindConfig
	case p.IsKeyframe:
		return KindKeyframe
	default:
		return KindFrame
	}
}

// Limits constrains packet decode memory use. Zero disables the cap.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024 * 1024,
	}
}

// DecodeFlags splits a pts_flags word into its timestamp and flag bits.
func DecodeFlags(ptsFlags uint64) (timestamp uint64, isConfig, isKeyframe bool) {
	return ptsFlags & TimestampMax, ptsFlags&FlagConfig != 0, ptsFlags&FlagKeyframe != 0
}

// EncodeFlags is the inverse of DecodeFlags. Timestamp bits above 61 are dropped.
func EncodeFlags(timestamp uint64, isConfig, isKeyframe bool) uint64 {
	v := timestamp & TimestampMax
	if isConfig {
		v |= FlagConfig
	}
	if isKeyframe {
		v |= FlagKeyframe
	}
	return v
}

func EncodePacketHeader(p Packet) []byte {
	buf := make([]byte, PacketHeaderLen)
	binary.BigEndian.PutUint64(buf[0:8], EncodeFlags(p.Timestamp, p.IsConfig, p.IsKeyframe))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(p.Payload)))
	return buf
}

// DecodePacketHeader returns the packet metadata and the announced payload size.
func DecodePacketHeader(b []byte) (Packet, uint32, error) {
	if len(b) != PacketHeaderLen {
		return Packet{}, 0, fmt.Errorf("frame: invalid packet header length: %d", len(b))
	}
	ts, cfg, key := DecodeFlags(binary.BigEndian.Uint64(b[0:8]))
	return Packet{Timestamp: ts, IsConfig: cfg, IsKeyframe: key}, binary.BigEndian.Uint32(b[8:12]), nil
}

// PacketReader reads packets sequentially from one stream. It keeps no
// state between calls other than the stream position and is not safe for
// concurrent use.
type PacketReader struct {
	r      io.Reader
	limits Limits
	header [PacketHeaderLen]byte
}

func NewPacketReader(r io.Reader, limits Limits) *PacketReader {
	return &PacketReader{r: r, limits: limits}
}

// Next reads one packet. ok is false with a nil error on a clean end of
// stream, which only happens when the stream ends exactly at a packet
// boundary.
func (pr *PacketReader) Next() (pkt Packet, ok bool, err error) {
	n, err := io.ReadFull(pr.r, pr.header[:])
	if err != nil {
		switch {
		case errors.Is(err, io.EOF) && n == 0:
			return Packet{}, false, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Packet{}, false, fmt.Errorf("%w: got %d of %d bytes", protocol.ErrTruncatedPacketHeader, n, PacketHeaderLen)
		default:
			return Packet{}, false, err
		}
	}

	pkt, size, err := DecodePacketHeader(pr.header[:])
	if err != nil {
		return Packet{}, false, err
	}
	if pr.limits.MaxPayloadBytes > 0 && size > pr.limits.MaxPayloadBytes {
		return Packet{}, false, fmt.Errorf("%w: %d > %d", protocol.ErrPayloadTooLarge, size, pr.limits.MaxPayloadBytes)
	}

	pkt.Payload = make([]byte, size)
	if size > 0 {
		if n, err := io.ReadFull(pr.r, pkt.Payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Packet{}, false, fmt.Errorf("%w: got %d of %d bytes", protocol.ErrTruncatedPacketPayload, n, size)
			}
			return Packet{}, false, err
		}
	}
	return pkt, true, nil
}

func WritePacket(w io.Writer, p Packet) error {
	if uint64(len(p.Payload)) > uint64(^uint32(0)) {
		return protocol.ErrPayloadTooLarge
	}
	if _, err := w.Write(EncodePacketHeader(p)); err != nil {
		return err
	}
	if len(p.Payload) > 0 {
		if _, err := w.Write(p.Payload); err != nil {
			return err
		}
	}
	return nil
}
