// Package server assembles the relay service: registry, bridge, relay and the
// authentication gate behind one Server value.
package server

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/bridge"
	"github.com/Tyrowin/roomrelay/internal/broker"
	"github.com/Tyrowin/roomrelay/internal/registry"
)

// Server owns all relay state for one process.
type Server struct {
	cfg      Config
	registry *registry.Registry
	bridge   *bridge.Bridge
	relay    *bridge.Relay
	gate     *auth.Gate
	upgrader websocket.Upgrader
	log      zerolog.Logger

	wg           sync.WaitGroup
	mu           sync.Mutex
	shuttingDown bool
}

// New builds a server publishing and relaying through b. A nil gate refuses
// every connection.
func New(cfg *Config, b broker.Broker, gate *auth.Gate) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := cfg.sanitize()

	reg := registry.New()
	origins := newOriginPolicy(c.AllowedOrigins)

	return &Server{
		cfg:      c,
		registry: reg,
		bridge:   bridge.New(b),
		relay:    bridge.NewRelay(b, reg, bridge.WithBuffer(c.RelayBuffer)),
		gate:     gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		log: log.With().Str("component", "server").Logger(),
	}
}

// NewGate builds the authentication gate described by cfg.
func NewGate(cfg AuthConfig) *auth.Gate {
	var users auth.UserStore
	if len(cfg.Users) > 0 {
		users = auth.NewMemoryUserStore(cfg.Users...)
	}
	return auth.NewGate(auth.NewSigner(cfg.Secret, cfg.Issuer), users)
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Registry returns the connection and room registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Relay returns the background relay.
func (s *Server) Relay() *bridge.Relay {
	return s.relay
}

// Start launches the relay. Without a running relay no room message is ever
// delivered, including to members on this instance.
func (s *Server) Start(ctx context.Context) error {
	if err := s.relay.Start(ctx); err != nil {
		return err
	}
	s.log.Info().Msg("relay started and ready to deliver room messages")
	return nil
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}
