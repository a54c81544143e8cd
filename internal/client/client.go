package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/streamctl/internal/protocol"
	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/danmuck/streamctl/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddressRequired = errors.New("client: address required")
	ErrSessionClosed   = errors.New("client: session closed")
)

// aLongTimeAgo is used to unblock a pending read on cancellation.
var aLongTimeAgo = time.Unix(1, 0)

type Config struct {
	Address string
	Session session.Config
}

func DefaultConfig() Config {
	return Config{
		Address: net.JoinHostPort("localhost", "8080"),
		Session: session.DefaultConfig(),
	}
}

// Addr joins host and port the way Config.Address expects.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

type Client struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return nil, fmt.Errorf("client: invalid address %q: %w", cfg.Address, err)
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Client) Address() string { return c.cfg.Address }

// Connect dials the server, retrying with backoff up to MaxConnectAttempts,
// and reads the session preamble. A truncated preamble is not retried.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			return c.open(ctx, conn)
		}
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		log.Warn().Msgf("client.Client dial attempt=%d addr=%q err=%v", attempt, c.cfg.Address, err)
		if attempt >= c.cfg.Session.MaxConnectAttempts {
			return nil, fmt.Errorf("%w: addr=%s: %w", protocol.ErrConnection, c.cfg.Address, err)
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, cancelled(ctx)
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", c.cfg.Address)
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) open(ctx context.Context, conn net.Conn) (*Session, error) {
	s := &Session{
		ID:      uuid.New(),
		addr:    c.cfg.Address,
		conn:    conn,
		timeout: c.cfg.Session.ReadTimeout,
		reader:  frame.NewPacketReader(conn, c.cfg.Session.Limits()),
	}
	err := s.guard(ctx, func() error {
		h, err := frame.ReadSessionHeader(conn)
		s.header = h
		return err
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Info().Msgf("client.Session connected id=%s addr=%s codec=%s size=%dx%d",
		s.ID, s.addr, s.header.Codec, s.header.Width, s.header.Height)
	return s, nil
}

// Session is one connected stream. Next must not be called concurrently;
// callers are serialised by an internal mutex.
type Session struct {
	ID uuid.UUID

	addr    string
	conn    net.Conn
	header  frame.SessionHeader
	reader  *frame.PacketReader
	timeout time.Duration

	mu        sync.Mutex
	failed    error
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *Session) Header() frame.SessionHeader { return s.header }
func (s *Session) Addr() string                { return s.addr }

// Next reads the next packet. ok is false with a nil error on a clean end
// of stream. Cancelling ctx unblocks a pending read and yields ErrCancelled.
// Any error leaves the stream position unknown, so it closes the session and
// later calls return ErrSessionClosed wrapping the first error.
func (s *Session) Next(ctx context.Context) (pkt frame.Packet, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return frame.Packet{}, false, fmt.Errorf("%w: %w", ErrSessionClosed, s.failed)
	}
	if s.closed.Load() {
		return frame.Packet{}, false, ErrSessionClosed
	}
	err = s.guard(ctx, func() error {
		var rerr error
		pkt, ok, rerr = s.reader.Next()
		return rerr
	})
	if err != nil {
		s.failed = err
		_ = s.Close()
		return frame.Packet{}, false, err
	}
	return pkt, ok, nil
}

// guard runs read with the configured deadline and a cancellation hook, and
// classifies any error into the protocol taxonomy.
func (s *Session) guard(ctx context.Context, read func() error) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	var deadline time.Time
	if s.timeout > 0 {
		deadline = time.Now().Add(s.timeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%w: addr=%s: %w", protocol.ErrConnection, s.addr, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(aLongTimeAgo)
	})
	err := read()
	if !stop() && ctx.Err() != nil {
		return cancelled(ctx)
	}
	if err == nil {
		return nil
	}
	if protocol.IsFraming(err) {
		return err
	}
	if s.closed.Load() {
		return ErrSessionClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w: addr=%s after %s", protocol.ErrConnection, protocol.ErrReadTimeout, s.addr, s.timeout)
	}
	return fmt.Errorf("%w: addr=%s: %w", protocol.ErrConnection, s.addr, err)
}

// Close releases the connection exactly once. It may be called while a
// read is pending; that read returns ErrSessionClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
		log.Debug().Msgf("client.Session closed id=%s addr=%s", s.ID, s.addr)
	})
	return s.closeErr
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", protocol.ErrCancelled, ctx.Err())
}
