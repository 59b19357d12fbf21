package httpserver

import (
	"net/http"
	"time"
)

const (
	defaultWriteTimeout = 45 * time.Second
	writeTimeoutMargin  = 10 * time.Second
)

type Option func(*http.Server)

// WithHandlerTimeout stretches the write timeout past the slowest handler
// deadline so a timed-out handler can still write its error response.
func WithHandlerTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		s.WriteTimeout = max(s.WriteTimeout, d+writeTimeoutMargin)
	}
}

// New builds an HTTP server with sane defaults for this project.
func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       90 * time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}
