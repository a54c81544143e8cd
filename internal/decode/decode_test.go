package decode

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/danmuck/streamctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

type panicDecoder struct{}

func (panicDecoder) Decode(frame.CodecTag, frame.Packet) ([]Picture, error) {
	panic("corrupt bitstream")
}

type recordingSink struct {
	saved []Picture
	err   error
}

func (r *recordingSink) Save(p Picture) error {
	r.saved = append(r.saved, p)
	return r.err
}

func TestKeyframeExtractorRequiresConfig(t *testing.T) {
	testlog.Start(t)
	k := NewKeyframeExtractor(frame.SessionHeader{Codec: frame.CodecH264, Width: 1280, Height: 720})

	res := Run(k, frame.CodecH264, frame.Packet{Timestamp: 1, IsKeyframe: true, Payload: []byte{0x65}})
	if !errors.Is(res.Err, ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig before config, got %+v", res)
	}

	res = Run(k, frame.CodecH264, frame.Packet{IsConfig: true, Payload: []byte{0x67, 0x68}})
	if res.Failed() || len(res.Pictures) != 0 {
		t.Fatalf("config must decode to nothing: %+v", res)
	}

	res = Run(k, frame.CodecH264, frame.Packet{Timestamp: 40, Payload: []byte{0x41}})
	if res.Failed() || len(res.Pictures) != 0 {
		t.Fatalf("non-key frame must decode to nothing: %+v", res)
	}

	res = Run(k, frame.CodecH264, frame.Packet{Timestamp: 80, IsKeyframe: true, Payload: []byte{0x65}})
	if res.Failed() {
		t.Fatalf("keyframe decode failed: %v", res.Err)
	}
	want := []Picture{{Codec: frame.CodecH264, Width: 1280, Height: 720, Timestamp: 80, Keyframe: true, Data: []byte{0x67, 0x68, 0x65}}}
	if diff := cmp.Diff(want, res.Pictures); diff != "" {
		t.Fatalf("picture mismatch (-want +got):\n%s", diff)
	}
}

func TestKeyframeExtractorConfigWinsOverKeyframeBit(t *testing.T) {
	testlog.Start(t)
	k := NewKeyframeExtractor(frame.SessionHeader{Codec: frame.CodecH265})
	res := Run(k, frame.CodecH265, frame.Packet{IsConfig: true, IsKeyframe: true, Payload: []byte{0x40}})
	if res.Failed() || len(res.Pictures) != 0 {
		t.Fatalf("config+key packet must be treated as config: %+v", res)
	}
}

func TestKeyframeExtractorRejectsUnknownCodec(t *testing.T) {
	testlog.Start(t)
	k := NewKeyframeExtractor(frame.SessionHeader{})
	res := Run(k, frame.CodecTag(0), frame.Packet{IsConfig: true})
	if !errors.Is(res.Err, ErrUnsupportedCodec) {
		t.Fatalf("expected ErrUnsupportedCodec, got %v", res.Err)
	}
}

func TestRunRecoversDecoderPanic(t *testing.T) {
	testlog.Start(t)
	res := Run(panicDecoder{}, frame.CodecH264, frame.Packet{})
	if !res.Failed() {
		t.Fatalf("expected failed result from panic")
	}
	if res := Run(nil, frame.CodecH264, frame.Packet{}); res.Failed() || len(res.Pictures) != 0 {
		t.Fatalf("nil decoder must be a no-op: %+v", res)
	}
}

func TestLatestSlotLastWriteWins(t *testing.T) {
	testlog.Start(t)
	var s LatestSlot
	if _, ok := s.Load(); ok {
		t.Fatalf("empty slot must report no picture")
	}
	s.Store(Picture{Timestamp: 1})
	s.Store(Picture{Timestamp: 2})
	p, ok := s.Load()
	if !ok || p.Timestamp != 2 {
		t.Fatalf("expected latest picture ts=2, got %+v ok=%v", p, ok)
	}
	if _, ok := s.Load(); !ok {
		t.Fatalf("load must not consume the slot")
	}
	if s.Stores() != 2 {
		t.Fatalf("stores=%d", s.Stores())
	}
}

func TestFileSinkOverwrites(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "snapshot.h264")
	sink := FileSink{Path: path}
	if err := sink.Save(Picture{Data: []byte("first-picture")}); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := sink.Save(Picture{Data: []byte("second")}); err != nil {
		t.Fatalf("save second: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !bytes.Equal(got, []byte("second")) {
		t.Fatalf("snapshot=%q", got)
	}
	if err := (FileSink{}).Save(Picture{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestFileSinkCleansUpTempOnRenameFailure(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "shot")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(target, "keep"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := (FileSink{Path: target}).Save(Picture{Data: []byte("pic")}); err == nil {
		t.Fatalf("expected rename over a directory to fail")
	}
	left, err := filepath.Glob(filepath.Join(dir, ".snapshot-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestMultiSinkReportsFirstErrorAndContinues(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("disk full")
	a := &recordingSink{err: boom}
	b := &recordingSink{}
	err := MultiSink{a, b}.Save(Picture{Timestamp: 7})
	if !errors.Is(err, boom) {
		t.Fatalf("expected first error, got %v", err)
	}
	if len(b.saved) != 1 {
		t.Fatalf("second sink must still receive the picture")
	}
}
