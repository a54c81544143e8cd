package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/streamctl/internal/client"
	"github.com/danmuck/streamctl/internal/decode"
	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/danmuck/streamctl/internal/protocol/session"
	"github.com/danmuck/streamctl/internal/stats"
	"github.com/danmuck/streamctl/internal/testutil/streamtest"
	"github.com/danmuck/streamctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	header  frame.SessionHeader
	packets []frame.Packet
	end     error
	closes  int
}

func (f *fakeStream) Header() frame.SessionHeader { return f.header }

func (f *fakeStream) Next(ctx context.Context) (frame.Packet, bool, error) {
	if len(f.packets) == 0 {
		return frame.Packet{}, false, f.end
	}
	p := f.packets[0]
	f.packets = f.packets[1:]
	return p, true, nil
}

func (f *fakeStream) Close() error {
	f.closes++
	return nil
}

type failingDecoder struct{ calls int }

func (d *failingDecoder) Decode(frame.CodecTag, frame.Packet) ([]decode.Picture, error) {
	d.calls++
	return nil, errors.New("invalid data found when processing input")
}

type memorySink struct {
	saved []decode.Picture
	err   error
}

func (m *memorySink) Save(p decode.Picture) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, p)
	return nil
}

type recordingHandler struct {
	seen int
	err  error
}

func (r *recordingHandler) HandlePacket(context.Context, frame.SessionHeader, frame.Packet) error {
	r.seen++
	return r.err
}

var h264 = frame.SessionHeader{Codec: frame.CodecH264, Width: 1280, Height: 720}

func gop() []frame.Packet {
	return []frame.Packet{
		{Timestamp: 0, IsKeyframe: true, Payload: []byte{0x65}},
		{IsConfig: true, Payload: []byte{0x67, 0x68}},
		{Timestamp: 100, IsKeyframe: true, Payload: []byte{0x65, 0x01}},
		{Timestamp: 200, Payload: []byte{0x41}},
		{Timestamp: 300, IsKeyframe: true, Payload: []byte{0x65, 0x02}},
	}
}

func extractor(h frame.SessionHeader) decode.Decoder { return decode.NewKeyframeExtractor(h) }

func TestRunCountsDecodesAndKeepsLatest(t *testing.T) {
	testlog.Start(t)
	st := &fakeStream{header: h264, packets: gop()}
	sink := &memorySink{}
	p := New(Config{NewDecoder: extractor, Sink: sink})

	sum := p.Run(context.Background(), st)
	require.NoError(t, sum.Err)
	require.False(t, sum.Cancelled)
	require.Equal(t, 1, st.closes)
	require.True(t, sum.HasDecoder)

	require.Equal(t, uint64(5), sum.Stats.Packets)
	require.Equal(t, uint64(1), sum.Stats.ConfigPackets)
	require.Equal(t, uint64(3), sum.Stats.Keyframes)
	require.Equal(t, uint64(2), sum.Stats.DecodedFrames)
	require.Equal(t, uint64(1), sum.Stats.DecodeFailures, "keyframe before config fails without aborting")
	require.Equal(t, uint64(2), sum.Stats.SavedPictures)
	require.Len(t, sink.saved, 2)

	latest, ok := p.Latest()
	require.True(t, ok)
	require.Equal(t, uint64(300), latest.Timestamp)
	require.Equal(t, []byte{0x67, 0x68, 0x65, 0x02}, latest.Data)
}

func TestRunDecodeAndSinkFailuresAreNotFatal(t *testing.T) {
	testlog.Start(t)
	dec := &failingDecoder{}
	handler := &recordingHandler{err: errors.New("relay down")}
	st := &fakeStream{header: h264, packets: gop()}
	p := New(Config{
		NewDecoder: func(frame.SessionHeader) decode.Decoder { return dec },
		Handlers:   []PacketHandler{handler},
	})

	sum := p.Run(context.Background(), st)
	require.NoError(t, sum.Err)
	require.Equal(t, 5, dec.calls)
	require.Equal(t, 5, handler.seen)
	require.Equal(t, uint64(5), sum.Stats.DecodeFailures)

	st = &fakeStream{header: h264, packets: gop()}
	p = New(Config{NewDecoder: extractor, Sink: &memorySink{err: errors.New("read-only fs")}})
	sum = p.Run(context.Background(), st)
	require.NoError(t, sum.Err)
	require.Equal(t, uint64(2), sum.Stats.SinkFailures)
	require.Equal(t, uint64(0), sum.Stats.SavedPictures)
}

func TestRunPacketOnlyMode(t *testing.T) {
	testlog.Start(t)
	st := &fakeStream{header: frame.SessionHeader{Codec: 0}, packets: gop()}
	p := New(Config{NewDecoder: func(h frame.SessionHeader) decode.Decoder {
		if !h.Codec.Known() {
			return nil
		}
		return extractor(h)
	}})
	sum := p.Run(context.Background(), st)
	require.False(t, sum.HasDecoder)
	require.Equal(t, uint64(5), sum.Stats.Packets)
	require.Equal(t, []string{"Total packets: 5"}, sum.Lines())
}

func TestRunReportsEveryN(t *testing.T) {
	testlog.Start(t)
	var packets []frame.Packet
	for i := 0; i < 65; i++ {
		packets = append(packets, frame.Packet{Timestamp: uint64(i), Payload: []byte{byte(i)}})
	}
	var reports []stats.Snapshot
	p := New(Config{Report: func(s stats.Snapshot) { reports = append(reports, s) }})
	p.Run(context.Background(), &fakeStream{header: h264, packets: packets})

	require.Len(t, reports, 2)
	require.Equal(t, uint64(30), reports[0].Packets)
	require.Equal(t, uint64(60), reports[1].Packets)
}

func TestRunSeparatesFailureFromCancel(t *testing.T) {
	testlog.Start(t)
	framing := fmt.Errorf("%w: got 3 of 12 bytes", protocol.ErrTruncatedPacketHeader)
	st := &fakeStream{header: h264, packets: gop()[:2], end: framing}
	sum := New(Config{}).Run(context.Background(), st)
	require.ErrorIs(t, sum.Err, protocol.ErrTruncatedPacketHeader)
	require.False(t, sum.Cancelled)
	require.Equal(t, uint64(2), sum.Stats.Packets)
	require.Equal(t, 1, st.closes)

	st = &fakeStream{header: h264, end: fmt.Errorf("%w: %w", protocol.ErrCancelled, context.Canceled)}
	sum = New(Config{}).Run(context.Background(), st)
	require.NoError(t, sum.Err)
	require.True(t, sum.Cancelled)
	require.Equal(t, 1, st.closes)
}

func TestSummaryLines(t *testing.T) {
	testlog.Start(t)
	sum := Summary{HasDecoder: true, Stats: stats.Snapshot{Packets: 90, DecodedFrames: 88, SavedPictures: 3}}
	require.Equal(t, []string{
		"Total packets: 90",
		"Decoded frames: 88",
		"Screenshots captured: 3",
	}, sum.Lines())
}

func TestRunOverClientSession(t *testing.T) {
	testlog.Start(t)
	srv := streamtest.Start(t, streamtest.Trickle(streamtest.Encode(h264, gop()...), 5, 0))

	cfg := client.Config{Address: srv.Addr(), Session: session.DefaultConfig()}
	cfg.Session.ReadTimeout = 5 * time.Second
	c, err := client.New(cfg)
	require.NoError(t, err)
	s, err := c.Connect(context.Background())
	require.NoError(t, err)

	p := New(Config{NewDecoder: extractor})
	sum := p.Run(context.Background(), s)
	require.NoError(t, sum.Err)
	require.Equal(t, h264, sum.Header)
	require.Equal(t, uint64(5), sum.Stats.Packets)
	require.Equal(t, uint64(2), sum.Stats.DecodedFrames)

	_, _, err = s.Next(context.Background())
	require.ErrorIs(t, err, client.ErrSessionClosed)
}
