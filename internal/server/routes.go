// Package server wires HTTP handlers into a ServeMux for the relay via routing
// helpers.
package server

import "net/http"

// Routes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/stats", s.StatsHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	return mux
}
