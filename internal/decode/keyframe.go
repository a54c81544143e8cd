package decode

import (
	"fmt"
	"sync"

	"github.com/danmuck/streamctl/internal/protocol/frame"
)

// KeyframeExtractor is a Decoder that emits each keyframe prefixed with the
// most recent config payload, giving a self-contained elementary-stream
// picture that an external tool can decode. Non-key frames emit nothing.
type KeyframeExtractor struct {
	Width  uint32
	Height uint32

	mu     sync.Mutex
	config []byte
}

func NewKeyframeExtractor(h frame.SessionHeader) *KeyframeExtractor {
	return &KeyframeExtractor{Width: h.Width, Height: h.Height}
}

func (k *KeyframeExtractor) Decode(codec frame.CodecTag, pkt frame.Packet) ([]Picture, error) {
	if !codec.Known() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	switch pkt.Kind() {
	case frame.KindConfig:
		k.config = append(k.config[:0], pkt.Payload...)
		return nil, nil
	case frame.KindKeyframe:
		if len(k.config) == 0 {
			return nil, ErrNoConfig
		}
		data := make([]byte, 0, len(k.config)+len(pkt.Payload))
		data = append(data, k.config...)
		data = append(data, pkt.Payload...)
		return []Picture{{
			Codec:     codec,
			Width:     k.Width,
			Height:    k.Height,
			Timestamp: pkt.Timestamp,
			Keyframe:  true,
			Data:      data,
		}}, nil
	default:
		return nil, nil
	}
}
