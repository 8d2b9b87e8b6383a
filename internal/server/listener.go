package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultDrainTimeout = 30 * time.Second
	maxAcceptDelay      = time.Second
)

// Listener owns the listening socket and the accept loop of a Server.
type Listener struct {
	srv     *Server
	ln      net.Listener
	log     zerolog.Logger
	closing atomic.Bool
}

// NewListener binds srv's configured address. A failure in any step is
// returned and nothing is left listening.
func NewListener(srv *Server) (*Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", srv.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", srv.cfg.Addr, err)
	}
	return &Listener{
		srv: srv,
		ln:  ln,
		log: srv.log.With().Str("component", "listener").Logger(),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Server returns the server whose sessions the listener starts.
func (l *Listener) Server() *Server {
	return l.srv
}

// Handle registers h on the server's router. Register before Run.
func (l *Listener) Handle(pattern string, h Handler) error {
	return l.srv.Handle(pattern, h)
}

// HandleFunc registers f on the server's router. Register before Run.
func (l *Listener) HandleFunc(pattern string, f func(req *Request, q Queue)) error {
	return l.srv.HandleFunc(pattern, f)
}

// Run accepts connections until Shutdown and starts a session for each.
// Accept errors are logged and accepting continues after a short backoff.
// It returns nil after Shutdown.
func (l *Listener) Run() error {
	l.log.Info().Str("addr", l.ln.Addr().String()).Msg("listening")

	var delay time.Duration
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if l.closing.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			l.log.Error().Err(err).Dur("retry_in", delay).Msg("accept failed")
			time.Sleep(delay)
			continue
		}

		delay = 0
		l.srv.ServeConn(nc)
	}
}

// Shutdown stops accepting and drains every live session. Sessions still
// alive when ctx is done are closed and the context error is returned. A
// ctx without deadline is bounded by a 30 second drain.
func (l *Listener) Shutdown(ctx context.Context) error {
	if !l.closing.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDrainTimeout)
		defer cancel()
	}
	if err := l.srv.hub.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	l.log.Info().Msg("listener stopped")
	return errors.Join(errs...)
}
