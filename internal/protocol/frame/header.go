package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/streamctl/internal/protocol"
)

const SessionHeaderLen = 12

// CodecTag is the 4-byte ASCII codec identifier sent as a big-endian u32.
type CodecTag uint32

const (
	CodecH264 CodecTag = 0x68323634 // "h264"
	CodecH265 CodecTag = 0x68323635 // "h265"
)

// Known reports whether the tag maps to a named codec.
func (c CodecTag) Known() bool {
	return c == CodecH264 || c == CodecH265
}

// Name is the short codec name, or "unknown".
func (c CodecTag) Name() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	default:
		return "unknown"
	}
}

func (c CodecTag) String() string {
	if c.Known() {
		return c.Name()
	}
	return fmt.Sprintf("unknown(0x%08x)", uint32(c))
}

// SessionHeader is the one-time preamble sent before any packet.
type SessionHeader struct {
	Codec  CodecTag
	Width  uint32
	Height uint32
}

// ReadSessionHeader consumes exactly SessionHeaderLen bytes. The tag and the
// dimensions are read as two separate fields; a short read of either one is
// ErrTruncatedHeader. Unknown codecs and odd dimensions are not rejected.
func ReadSessionHeader(r io.Reader) (SessionHeader, error) {
	var tag [4]byte
	if err := readHeaderField(r, tag[:], "codec tag"); err != nil {
		return SessionHeader{}, err
	}
	var size [8]byte
	if err := readHeaderField(r, size[:], "video size"); err != nil {
		return SessionHeader{}, err
	}
	return SessionHeader{
		Codec:  CodecTag(binary.BigEndian.Uint32(tag[:])),
		Width:  binary.BigEndian.Uint32(size[0:4]),
		Height: binary.BigEndian.Uint32(size[4:8]),
	}, nil
}

func readHeaderField(r io.Reader, buf []byte, field string) error {
	n, err := io.ReadFull(r, buf)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s got %d of %d bytes", protocol.ErrTruncatedHeader, field, n, len(buf))
	}
	return err
}

func EncodeSessionHeader(h SessionHeader) []byte {
	buf := make([]byte, SessionHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Codec))
	binary.BigEndian.PutUint32(buf[4:8], h.Width)
	binary.BigEndian.PutUint32(buf[8:12], h.Height)
	return buf
}

func WriteSessionHeader(w io.Writer, h SessionHeader) error {
	_, err := w.Write(EncodeSessionHeader(h))
	return err
}
