package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/streamctl/internal/protocol/frame"
	"github.com/danmuck/streamctl/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusSource is what the status server reports on.
type StatusSource interface {
	Snapshot() stats.Snapshot
	Header() (frame.SessionHeader, bool)
	SessionID() string
}

// StatusServer serves /health, /stats and /metrics for one streamctl run.
type StatusServer struct {
	router   *gin.Engine
	registry *prometheus.Registry
	source   StatusSource
	started  time.Time
	srv      *http.Server
}

func NewStatusServer(source StatusSource, logger zerolog.Logger) *StatusServer {
	gin.SetMode(gin.ReleaseMode)
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewStreamCollector(source.Snapshot))

	s := &StatusServer{
		router:   gin.New(),
		registry: reg,
		source:   source,
		started:  time.Now(),
	}
	s.router.Use(gin.Recovery(), RequestLogger(logger), RequestMetricsMiddleware())
	s.registerRoutes()
	return s
}

func (s *StatusServer) Handler() http.Handler { return s.router }

func (s *StatusServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"component": "streamctl",
		})
	})

	s.router.GET("/stats", func(c *gin.Context) {
		snap := s.source.Snapshot()
		body := gin.H{
			"session_id":      s.source.SessionID(),
			"stats":           snap,
			"avg_packet_size": snap.AvgPacketSize(),
		}
		if h, ok := s.source.Header(); ok {
			body["codec"] = h.Codec.String()
			body["width"] = h.Width
			body["height"] = h.Height
		}
		c.JSON(http.StatusOK, body)
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		prometheus.Gatherers{s.registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)))
}

// Serve listens on addr until ctx is done.
func (s *StatusServer) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
