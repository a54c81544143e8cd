// Package decode owns the collaborator boundary between framed packets and
// pictures. Actual decompression lives behind Decoder; this package only
// carries results, keeps the latest picture and hands it to a Sink.
package decode

import (
	"errors"
	"fmt"

	"github.com/danmuck/streamctl/internal/protocol/frame"
)

var (
	ErrNoConfig         = errors.New("decode: no config packet received yet")
	ErrUnsupportedCodec = errors.New("decode: unsupported codec")
)

// Picture is one decoder output. Data layout is owned by the decoder.
type Picture struct {
	Codec     frame.CodecTag
	Width     uint32
	Height    uint32
	Timestamp uint64
	Keyframe  bool
	Data      []byte
}

// Decoder turns packet payloads into zero or more pictures.
type Decoder interface {
	Decode(codec frame.CodecTag, pkt frame.Packet) ([]Picture, error)
}

// Sink persists or displays a picture.
type Sink interface {
	Save(Picture) error
}

// Result is the per-packet decode outcome: either Pictures or Err.
type Result struct {
	Pictures []Picture
	Err      error
}

func (r Result) Failed() bool { return r.Err != nil }

// Run decodes one packet and never panics past its caller; a decoder panic
// is reported as a failed result.
func Run(d Decoder, codec frame.CodecTag, pkt frame.Packet) (res Result) {
	if d == nil {
		return Result{}
	}
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("decode: decoder panic: %v", r)}
		}
	}()
	pics, err := d.Decode(codec, pkt)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Pictures: pics}
}
