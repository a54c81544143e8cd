// Package relay republishes framed packets to NATS so other consumers can
// follow a stream without holding the single restream connection.
package relay

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/danmuck/streamctl/internal/decode"
	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSubject = "streamctl.packets"
	PictureSuffix  = ".pictures"

	HeaderCodec     = "Stream-Codec"
	HeaderSize      = "Stream-Size"
	HeaderTimestamp = "Stream-Timestamp"
	HeaderKind      = "Stream-Kind"
	HeaderConfig    = "Stream-Config"
	HeaderKeyframe  = "Stream-Keyframe"
	HeaderSession   = "Stream-Session"
)

var ErrSubjectRequired = errors.New("relay: subject required")

// Publisher is the subset of *nats.Conn the relay needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

type Relay struct {
	pub       Publisher
	subject   string
	sessionID string
}

func New(pub Publisher, subject, sessionID string) (*Relay, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, ErrSubjectRequired
	}
	return &Relay{pub: pub, subject: subject, sessionID: sessionID}, nil
}

// Connect opens a NATS connection for the relay.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("streamctl"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Msgf("relay.Connect disconnected err=%v", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("relay.Connect connected url=%s", nc.ConnectedUrl())
	return nc, nil
}

// Message builds the NATS message for one packet. The payload is shared,
// not copied.
func (r *Relay) Message(h frame.SessionHeader, pkt frame.Packet) *nats.Msg {
	msg := nats.NewMsg(r.subject)
	msg.Header.Set(HeaderCodec, h.Codec.Name())
	msg.Header.Set(HeaderSize, strconv.Itoa(int(h.Width))+"x"+strconv.Itoa(int(h.Height)))
	msg.Header.Set(HeaderTimestamp, strconv.FormatUint(pkt.Timestamp, 10))
	msg.Header.Set(HeaderKind, pkt.Kind().String())
	msg.Header.Set(HeaderConfig, strconv.FormatBool(pkt.IsConfig))
	msg.Header.Set(HeaderKeyframe, strconv.FormatBool(pkt.IsKeyframe))
	if r.sessionID != "" {
		msg.Header.Set(HeaderSession, r.sessionID)
	}
	msg.Data = pkt.Payload
	return msg
}

func (r *Relay) HandlePacket(ctx context.Context, h frame.SessionHeader, pkt frame.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.pub.PublishMsg(r.Message(h, pkt))
}

// PictureSubject is where Save publishes decoded pictures.
func (r *Relay) PictureSubject() string { return r.subject + PictureSuffix }

// Save publishes a decoded picture, so a Relay can sit next to a FileSink.
func (r *Relay) Save(p decode.Picture) error {
	msg := nats.NewMsg(r.PictureSubject())
	msg.Header.Set(HeaderCodec, p.Codec.Name())
	msg.Header.Set(HeaderSize, strconv.FormatUint(uint64(p.Width), 10)+"x"+strconv.FormatUint(uint64(p.Height), 10))
	msg.Header.Set(HeaderTimestamp, strconv.FormatUint(p.Timestamp, 10))
	msg.Header.Set(HeaderKeyframe, strconv.FormatBool(p.Keyframe))
	if r.sessionID != "" {
		msg.Header.Set(HeaderSession, r.sessionID)
	}
	msg.Data = p.Data
	return r.pub.PublishMsg(msg)
}
