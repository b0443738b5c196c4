package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateServer(t *testing.T) {
	handler := http.NewServeMux()
	srv := CreateServer(":0", handler)

	assert.Equal(t, ":0", srv.Addr)
	assert.Equal(t, handler, srv.Handler)
	assert.Equal(t, 15*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
	assert.Zero(t, srv.WriteTimeout, "websocket writers manage their own deadlines")
}

func TestShutdownServerNotStarted(t *testing.T) {
	srv := CreateServer(":0", http.NewServeMux())
	require.NoError(t, ShutdownServer(srv, time.Second))
}
