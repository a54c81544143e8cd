package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/danmuck/streamctl/internal/client"
	"github.com/danmuck/streamctl/internal/decode"
	"github.com/danmuck/streamctl/internal/observability"
	"github.com/danmuck/streamctl/internal/pipeline"
	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/danmuck/streamctl/internal/relay"
	"github.com/danmuck/streamctl/internal/stats"
	"github.com/rs/zerolog/log"
)

const separator = "=================================================="

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := resolveConfig(args)
	if err != nil {
		fmt.Fprintf(stderr, "streamctl: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "Usage: %s [port]\n", progName(args))
		}
		return 1
	}
	logger := observability.InitLogger("streamctl")

	state := &runState{}
	var sinks decode.MultiSink
	if cfg.SnapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SnapshotPath), 0o755); err != nil {
			fmt.Fprintf(stderr, "streamctl: snapshot dir: %v\n", err)
			return 1
		}
		sinks = append(sinks, decode.FileSink{Path: cfg.SnapshotPath})
	}
	pcfg := pipeline.Config{
		ReportEvery: cfg.ReportEvery,
		Report:      stats.LogReport(cfg.Decode),
		NewDecoder:  decoderFactory(cfg.Decode),
	}

	c, err := client.New(client.Config{Address: client.Addr(cfg.Host, cfg.Port), Session: cfg.Session})
	if err != nil {
		fmt.Fprintf(stderr, "streamctl: %v\n", err)
		return 1
	}

	if cfg.MetricsAddr != "" {
		status := observability.NewStatusServer(state, logger)
		go func() {
			if err := status.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error().Msgf("streamctl status server addr=%s err=%v", cfg.MetricsAddr, err)
			}
		}()
	}

	fmt.Fprintf(stdout, "Connecting to %s...\n", c.Address())
	sess, err := c.Connect(ctx)
	if errors.Is(err, protocol.ErrCancelled) {
		fmt.Fprintln(stdout, "\nStopped by user")
		observability.RecordSession("cancelled")
		return 0
	}
	if err != nil {
		fmt.Fprintf(stdout, "\nERROR: %v\n", err)
		observability.RecordSession("error")
		return 1
	}
	state.setSession(sess)
	h := sess.Header()
	fmt.Fprintln(stdout, "Connected!")
	fmt.Fprintf(stdout, "Codec ID: 0x%08x (%s)\n", uint32(h.Codec), h.Codec.Name())
	fmt.Fprintf(stdout, "Resolution: %dx%d\n", h.Width, h.Height)

	if cfg.NATSURL != "" {
		nc, err := relay.Connect(cfg.NATSURL)
		if err != nil {
			log.Warn().Msgf("streamctl relay disabled url=%s err=%v", cfg.NATSURL, err)
		} else {
			defer nc.Close()
			if r, err := relay.New(nc, cfg.NATSSubject, sess.ID.String()); err != nil {
				log.Warn().Msgf("streamctl relay disabled err=%v", err)
			} else {
				pcfg.Handlers = append(pcfg.Handlers, r)
				sinks = append(sinks, r)
			}
		}
	}

	if len(sinks) > 0 {
		pcfg.Sink = sinks
	}
	p := pipeline.New(pcfg)
	state.setCounters(p.Counters())

	fmt.Fprintln(stdout, "\nReceiving packets... (Ctrl+C to stop)")
	sum := p.Run(ctx, sess)

	code := 0
	switch {
	case sum.Cancelled:
		fmt.Fprintln(stdout, "\n\nStopped by user")
		observability.RecordSession("cancelled")
	case sum.Err != nil:
		fmt.Fprintf(stdout, "\nERROR: %v\n", sum.Err)
		observability.RecordSession("error")
		code = 1
	default:
		fmt.Fprintln(stdout, "\nConnection closed")
		observability.RecordSession("eof")
	}
	printSummary(stdout, sum)
	return code
}

func resolveConfig(args []string) (runConfig, error) {
	cfg := defaultRunConfig()
	if path := strings.TrimSpace(os.Getenv(envConfigPath)); path != "" {
		loaded, err := loadRunConfig(path)
		if err != nil {
			return runConfig{}, err
		}
		cfg = loaded
	}
	if len(args) > 2 {
		return runConfig{}, fmt.Errorf("%w: too many arguments", errUsage)
	}
	if len(args) == 2 {
		port, err := parsePort(args[1])
		if err != nil {
			return runConfig{}, fmt.Errorf("%w: %w", errUsage, err)
		}
		cfg.Port = port
	}
	return cfg, nil
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", raw)
	}
	if err := validatePort(port); err != nil {
		return 0, err
	}
	return port, nil
}

func progName(args []string) string {
	if len(args) == 0 {
		return "streamctl"
	}
	return args[0]
}

func decoderFactory(enabled bool) pipeline.DecoderFactory {
	if !enabled {
		return nil
	}
	return func(h frame.SessionHeader) decode.Decoder {
		if !h.Codec.Known() {
			return nil
		}
		return decode.NewKeyframeExtractor(h)
	}
}

func printSummary(w io.Writer, sum pipeline.Summary) {
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Session Summary:")
	for _, line := range sum.Lines() {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintln(w, separator)
}

// runState backs the status server; it is read from HTTP handlers while the
// client connects and the pipeline runs.
type runState struct {
	mu       sync.RWMutex
	counters *stats.Counters
	header   frame.SessionHeader
	id       string
	ready    bool
}

func (r *runState) setCounters(c *stats.Counters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = c
}

func (r *runState) setSession(s *client.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header = s.Header()
	r.id = s.ID.String()
	r.ready = true
}

func (r *runState) Snapshot() stats.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.counters == nil {
		return stats.Snapshot{}
	}
	return r.counters.Snapshot()
}

func (r *runState) Header() (frame.SessionHeader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.header, r.ready
}

func (r *runState) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}
