package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mediastream/internal/app"
	"mediastream/internal/domain"
	"mediastream/internal/probe"
	"mediastream/internal/token"
)

// FileResolver maps a catalog file or item id to its on-disk record. The
// catalog itself (scanner, metadata enrichment) is another service.
type FileResolver interface {
	Resolve(ctx context.Context, fileID string) (domain.MediaFile, error)
}

// Authorizer answers "does this request carry a valid session". Session
// issuance and user management are external; only the boolean is consumed
// here.
type Authorizer interface {
	Authorize(r *http.Request) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(r *http.Request) bool

func (f AuthorizerFunc) Authorize(r *http.Request) bool { return f(r) }

type Server struct {
	cfg      app.Config
	resolver FileResolver
	auth     Authorizer
	prober   *probe.Prober
	tokens   *token.Signer
	jobs     *jobManager
	wsHub    *wsHub
	logger   *slog.Logger
	handler  http.Handler
}

type ServerOption func(*Server)

func WithResolver(resolver FileResolver) ServerOption {
	return func(s *Server) {
		s.resolver = resolver
	}
}

func WithAuthorizer(auth Authorizer) ServerOption {
	return func(s *Server) {
		s.auth = auth
	}
}

func WithProber(p *probe.Prober) ServerOption {
	return func(s *Server) {
		s.prober = p
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(cfg app.Config, opts ...ServerOption) *Server {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.prober == nil {
		s.prober = probe.New(cfg.FFProbePath,
			probe.WithTimeout(cfg.ProbeTimeout),
			probe.WithCacheSize(cfg.ProbeCacheSize),
			probe.WithLogger(s.logger),
		)
	}
	if s.auth == nil {
		// Without an external auth collaborator every request is denied
		// unless it carries a stream token.
		s.auth = AuthorizerFunc(func(*http.Request) bool { return false })
	}
	s.tokens = token.NewSigner(cfg.SegmentTokenKey, cfg.SegmentTokenTTL)

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	s.jobs = newJobManager(cfg, s.logger, s.wsHub.JobEvent)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream/", s.handleStream)
	mux.HandleFunc("/Videos/", s.handleVideosCompat)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "media-engine",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && !isSegmentPath(p)
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(cfg.AllowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// StartReaper launches the background job sweep; it stops when ctx is done.
func (s *Server) StartReaper(ctx context.Context) {
	go s.jobs.reapLoop(ctx)
}

// Close tears down every transcode job and disconnects WebSocket clients.
func (s *Server) Close() {
	if s.jobs != nil {
		s.jobs.EmergencyStop()
	}
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.healthSnapshot())
}

func isSegmentPath(p string) bool {
	return strings.Contains(p, "/hls/") || strings.HasSuffix(p, ".m3u8")
}
