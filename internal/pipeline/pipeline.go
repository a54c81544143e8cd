// Package pipeline drains one restream session: every packet is counted,
// optionally decoded and relayed, and the latest picture is kept and saved.
// Only framing and transport errors end a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/streamctl/internal/decode"
	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/danmuck/streamctl/internal/stats"
	"github.com/rs/zerolog/log"
)

const DefaultReportEvery = 30

// Stream is the packet source; client.Session satisfies it.
type Stream interface {
	Header() frame.SessionHeader
	Next(ctx context.Context) (frame.Packet, bool, error)
	Close() error
}

// PacketHandler observes every packet after it is counted. Errors are
// logged and never stop the run.
type PacketHandler interface {
	HandlePacket(ctx context.Context, h frame.SessionHeader, pkt frame.Packet) error
}

// DecoderFactory picks a decoder for a session; nil means packet-only mode.
type DecoderFactory func(frame.SessionHeader) decode.Decoder

type Config struct {
	ReportEvery int
	Report      stats.ReportFunc
	NewDecoder  DecoderFactory
	Sink        decode.Sink
	Handlers    []PacketHandler
}

type Pipeline struct {
	cfg      Config
	counters *stats.Counters
	latest   decode.LatestSlot
}

func New(cfg Config) *Pipeline {
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = DefaultReportEvery
	}
	return &Pipeline{cfg: cfg, counters: stats.NewCounters()}
}

func (p *Pipeline) Counters() *stats.Counters { return p.counters }

// Latest returns the most recent decoded picture.
func (p *Pipeline) Latest() (decode.Picture, bool) { return p.latest.Load() }

// Summary describes how a run ended. Err is nil for a clean end of stream
// and for cancellation.
type Summary struct {
	Header     frame.SessionHeader
	Stats      stats.Snapshot
	HasDecoder bool
	Cancelled  bool
	Err        error
}

func (s Summary) Lines() []string {
	lines := []string{fmt.Sprintf("Total packets: %d", s.Stats.Packets)}
	if s.HasDecoder {
		lines = append(lines, fmt.Sprintf("Decoded frames: %d", s.Stats.DecodedFrames))
	}
	if s.Stats.SavedPictures > 0 {
		lines = append(lines, fmt.Sprintf("Screenshots captured: %d", s.Stats.SavedPictures))
	}
	return lines
}

// Run drains st until it ends and closes it exactly once.
func (p *Pipeline) Run(ctx context.Context, st Stream) Summary {
	defer func() {
		if err := st.Close(); err != nil {
			log.Debug().Msgf("pipeline.Pipeline.Run close err=%v", err)
		}
	}()

	h := st.Header()
	var dec decode.Decoder
	if p.cfg.NewDecoder != nil {
		dec = p.cfg.NewDecoder(h)
	}
	if dec == nil {
		log.Warn().Msgf("pipeline.Pipeline.Run no decoder for codec=%s, packet-only mode", h.Codec)
	}
	sum := Summary{Header: h, HasDecoder: dec != nil}

	for {
		pkt, ok, err := st.Next(ctx)
		if err != nil {
			if errors.Is(err, protocol.ErrCancelled) {
				log.Info().Msg("pipeline.Pipeline.Run stopped by caller")
				sum.Cancelled = true
			} else {
				log.Error().Msgf("pipeline.Pipeline.Run stream failed err=%v", err)
				sum.Err = err
			}
			break
		}
		if !ok {
			log.Info().Msg("pipeline.Pipeline.Run connection closed by server")
			break
		}
		p.handle(ctx, h, dec, pkt)
	}

	sum.Stats = p.counters.Snapshot()
	return sum
}

func (p *Pipeline) handle(ctx context.Context, h frame.SessionHeader, dec decode.Decoder, pkt frame.Packet) {
	p.counters.AddPacket(pkt)
	log.Trace().Msgf("pipeline.Pipeline packet kind=%s ts=%d size=%d", pkt.Kind(), pkt.Timestamp, len(pkt.Payload))

	for _, hd := range p.cfg.Handlers {
		if err := hd.HandlePacket(ctx, h, pkt); err != nil {
			log.Warn().Msgf("pipeline.Pipeline handler failed ts=%d err=%v", pkt.Timestamp, err)
		}
	}

	if dec != nil {
		res := decode.Run(dec, h.Codec, pkt)
		if res.Failed() {
			p.counters.AddDecodeFailure()
			log.Debug().Msgf("pipeline.Pipeline decode skipped ts=%d err=%v", pkt.Timestamp, res.Err)
		}
		p.counters.AddDecoded(len(res.Pictures))
		for _, pic := range res.Pictures {
			p.latest.Store(pic)
			p.save(pic)
		}
	}

	if n := p.counters.Packets(); p.cfg.Report != nil && n%uint64(p.cfg.ReportEvery) == 0 {
		p.cfg.Report(p.counters.Snapshot())
	}
}

func (p *Pipeline) save(pic decode.Picture) {
	if p.cfg.Sink == nil {
		return
	}
	if err := p.cfg.Sink.Save(pic); err != nil {
		p.counters.AddSinkFailure()
		log.Warn().Msgf("pipeline.Pipeline sink failed ts=%d err=%v", pic.Timestamp, err)
		return
	}
	p.counters.AddSaved()
	log.Info().Msgf("pipeline.Pipeline picture saved ts=%d capture=%d", pic.Timestamp, p.counters.Snapshot().SavedPictures)
}
