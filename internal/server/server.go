// Package server bundles the configuration, router, session registry and
// observability hooks shared by every session of one listening endpoint.
package server

import (
	"net"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/matrixji/beast-examples/internal/server"

// Server is the state shared by all sessions: immutable after startup
// except for the Hub, which does its own locking.
type Server struct {
	cfg      Config
	router   *Router
	hub      *Hub
	messages *MessageRouter
	metrics  *Metrics
	tracer   trace.Tracer
	log      zerolog.Logger
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger sessions derive theirs from.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithMessageRouter sets the router for inbound WebSocket messages.
func WithMessageRouter(r *MessageRouter) Option {
	return func(s *Server) {
		s.messages = r
	}
}

// NewServer creates a Server with an empty router.
func NewServer(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:      sanitizeConfig(cfg),
		router:   NewRouter(),
		messages: NewMessageRouter(),
		tracer:   otel.Tracer(tracerName),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = NewHub(s.log, s.metrics)
	s.origins = newOriginPolicy(s.cfg.AllowedOrigins, s.log)
	// Zero buffer sizes make the upgrader reuse the transport's buffers.
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: s.cfg.WriteWait,
		CheckOrigin:      s.origins.check,
	}
	return s
}

// Config returns the sanitized configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Router returns the request router.
func (s *Server) Router() *Router {
	return s.router
}

// Hub returns the session registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Messages returns the WebSocket message router.
func (s *Server) Messages() *MessageRouter {
	return s.messages
}

// Handle registers h for requests whose target matches pattern.
func (s *Server) Handle(pattern string, h Handler) error {
	return s.router.Register(pattern, h)
}

// HandleFunc registers f for requests whose target matches pattern.
func (s *Server) HandleFunc(pattern string, f func(req *Request, q Queue)) error {
	return s.router.Register(pattern, HandlerFunc(f))
}

// ServeConn starts a connection session on nc and returns immediately.
// The session owns nc from here on.
func (s *Server) ServeConn(nc net.Conn) {
	s.metrics.connectionAccepted()
	c := newConn(s, nc)
	if !s.hub.add(c) {
		c.log.Debug().Msg("server shutting down, refusing connection")
		_ = c.tr.Close()
		return
	}
	go c.run()
}
