// Package server tracks the pump goroutines of accepted connections and
// coordinates their shutdown.
package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/bridge"
	"github.com/Tyrowin/roomrelay/internal/registry"
)

// accept registers an upgraded connection and starts its pumps.
func (s *Server) accept(conn *websocket.Conn, principal *auth.Principal, addr string) *Client {
	var identity registry.Identity
	if principal != nil {
		identity = principal
	}
	handle := registry.NewConn(registry.NewMailbox(s.cfg.MailboxSize), identity)
	s.registry.Register(handle)

	client := newClient(conn, handle, s, addr)

	_, total := s.registry.Stats()
	client.log.Info().Int("connections", total).Msg("client registered")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()

	return client
}

// shutdownClients asks every connection to close through its own mailbox so
// that each writer performs the removal.
func (s *Server) shutdownClients() {
	s.log.Info().Msg("shutting down all client connections")
	closed := s.registry.CloseAll()
	s.log.Info().Int("connections", closed).Msg("close requested")
}

// Shutdown stops the relay, closes every connection and waits for all pump
// goroutines to finish, or until the timeout is reached.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info().Msg("initiating relay shutdown")

	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	if err := s.relay.Stop(); err != nil && !errors.Is(err, bridge.ErrRelayStopped) {
		s.log.Warn().Err(err).Msg("stopping relay")
	}

	s.shutdownClients()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("relay shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		s.log.Warn().Msg("shutdown timeout reached, some connections may still be open")
		return context.DeadlineExceeded
	}
}
