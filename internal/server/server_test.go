package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/broker"
	"github.com/Tyrowin/roomrelay/internal/protocol"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/testhelpers"
)

const (
	testSecret = "integration-secret"
	testIssuer = "roomrelay-test"
	lobby      = "lobby"
)

type testRelay struct {
	srv    *server.Server
	http   *httptest.Server
	wsURL  string
	signer *auth.Signer
}

func newTestConfig() *server.Config {
	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	cfg.Auth.Secret = testSecret
	cfg.Auth.Issuer = testIssuer
	cfg.RateLimit.Burst = 100
	return cfg
}

func startTestRelay(t *testing.T, b broker.Broker, cfg *server.Config) *testRelay {
	t.Helper()
	if cfg == nil {
		cfg = newTestConfig()
	}

	srv := server.New(cfg, b, server.NewGate(cfg.Auth))
	require.NoError(t, srv.Start(context.Background()))

	ts := testhelpers.CreateTestServer(srv.Routes())
	t.Cleanup(func() {
		_ = srv.Shutdown(2 * time.Second)
		ts.Close()
	})

	return &testRelay{
		srv:    srv,
		http:   ts,
		wsURL:  testhelpers.WebSocketURL(ts.URL, "/ws"),
		signer: auth.NewSigner(cfg.Auth.Secret, cfg.Auth.Issuer),
	}
}

// newMemoryBroker registers the broker cleanup first so it runs after the
// relays using it have shut down.
func newMemoryBroker(t *testing.T) *broker.Memory {
	t.Helper()
	b := broker.NewMemory(64)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newMemoryRelay(t *testing.T) *testRelay {
	t.Helper()
	return startTestRelay(t, newMemoryBroker(t), nil)
}

func (r *testRelay) token(t *testing.T, subject string) string {
	t.Helper()
	token, err := r.signer.Issue(subject, time.Hour)
	require.NoError(t, err)
	return token
}

func (r *testRelay) connect(t *testing.T, subject string) *websocket.Conn {
	t.Helper()
	return testhelpers.MustConnect(t, r.wsURL, r.token(t, subject))
}

func (r *testRelay) connections() int {
	_, conns := r.srv.Registry().Stats()
	return conns
}

func (r *testRelay) waitForConnections(t *testing.T, n int) {
	t.Helper()
	testhelpers.Eventually(t, 2*time.Second, func() bool { return r.connections() == n }, "connection count")
}

func sendMessage(t *testing.T, conn *websocket.Conn, room, text string) {
	t.Helper()
	testhelpers.SendCommand(t, conn, protocol.Command{Method: protocol.MethodMessage, Room: room, Text: text})
}

func expectRoomMessage(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	resp := testhelpers.ReceiveResponse(t, conn, 2*time.Second)
	testhelpers.AssertResponse(t, resp, protocol.ResponseOK, protocol.MethodMessage)
	testhelpers.AssertData(t, resp, text)
}

// TestRoomBroadcastScenario covers the basic flow: members of a room receive
// a message sent to it, including the sender, and non-members receive nothing.
func TestRoomBroadcastScenario(t *testing.T) {
	r := newMemoryRelay(t)

	a := r.connect(t, "alice")
	b := r.connect(t, "bob")
	c := r.connect(t, "carol")
	r.waitForConnections(t, 3)

	testhelpers.Join(t, a, lobby)
	testhelpers.Join(t, b, lobby)

	sendMessage(t, a, lobby, "hello")

	expectRoomMessage(t, a, "hello")
	expectRoomMessage(t, b, "hello")
	testhelpers.ExpectNoResponse(t, c, 200*time.Millisecond)

	testhelpers.ExpectNoResponse(t, a, 100*time.Millisecond)
	testhelpers.ExpectNoResponse(t, b, 100*time.Millisecond)
}

// TestDisconnectRemovesMembership verifies a closed connection is removed from
// its rooms and later broadcasts to those rooms still succeed.
func TestDisconnectRemovesMembership(t *testing.T) {
	r := newMemoryRelay(t)

	a := r.connect(t, "alice")
	b := r.connect(t, "bob")
	testhelpers.Join(t, a, lobby)
	testhelpers.Join(t, b, lobby)

	room, ok := r.srv.Registry().Room(lobby)
	require.True(t, ok)
	require.Equal(t, 2, room.Len())

	require.NoError(t, testhelpers.CloseWebSocket(a))
	r.waitForConnections(t, 1)

	room, ok = r.srv.Registry().Room(lobby)
	require.True(t, ok)
	assert.Equal(t, 1, room.Len())

	sendMessage(t, b, lobby, "anyone?")
	expectRoomMessage(t, b, "anyone?")
}

func TestAbruptDisconnectRemovesConnection(t *testing.T) {
	r := newMemoryRelay(t)

	a := r.connect(t, "alice")
	testhelpers.Join(t, a, lobby)
	require.NoError(t, a.Close())

	r.waitForConnections(t, 0)
	room, ok := r.srv.Registry().Room(lobby)
	require.True(t, ok, "empty rooms persist")
	assert.Zero(t, room.Len())
}

func TestProtocolErrorsAreNotFatal(t *testing.T) {
	r := newMemoryRelay(t)
	conn := r.connect(t, "alice")

	tests := []struct {
		name   string
		raw    string
		method protocol.Method
	}{
		{name: "malformed json", raw: `not json`, method: protocol.MethodUnknown},
		{name: "unknown command", raw: `{"SHOUT": "lobby"}`, method: "SHOUT"},
		{name: "empty join", raw: `{"JOIN": ""}`, method: protocol.MethodJoin},
		{name: "leave unknown room", raw: `{"LEAVE": "nowhere"}`, method: protocol.MethodLeave},
		{name: "invalid room name", raw: `{"JOIN": "a::b"}`, method: protocol.MethodJoin},
		{name: "message to invalid room", raw: `{"MESSAGE": {"room": "a::b", "message": "x"}}`, method: protocol.MethodMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testhelpers.SendRaw(t, conn, []byte(tt.raw))
			resp := testhelpers.ReceiveResponse(t, conn, 2*time.Second)
			testhelpers.AssertResponse(t, resp, protocol.ResponseError, tt.method)
			assert.Nil(t, resp.Data)
		})
	}

	t.Run("duplicate join", func(t *testing.T) {
		testhelpers.Join(t, conn, lobby)
		testhelpers.SendCommand(t, conn, protocol.Command{Method: protocol.MethodJoin, Room: lobby})
		resp := testhelpers.ReceiveResponse(t, conn, 2*time.Second)
		testhelpers.AssertResponse(t, resp, protocol.ResponseError, protocol.MethodJoin)

		room, _ := r.srv.Registry().Room(lobby)
		assert.Equal(t, 1, room.Len())
	})

	t.Run("connection still usable", func(t *testing.T) {
		sendMessage(t, conn, lobby, "still alive")
		expectRoomMessage(t, conn, "still alive")
	})
}

func TestLeaveStopsDelivery(t *testing.T) {
	r := newMemoryRelay(t)
	a := r.connect(t, "alice")
	b := r.connect(t, "bob")

	testhelpers.Join(t, a, lobby)
	testhelpers.Join(t, b, lobby)

	testhelpers.SendCommand(t, b, protocol.Command{Method: protocol.MethodLeave, Room: lobby})
	resp := testhelpers.ReceiveResponse(t, b, 2*time.Second)
	testhelpers.AssertResponse(t, resp, protocol.ResponseOK, protocol.MethodLeave)
	testhelpers.AssertData(t, resp, lobby)

	sendMessage(t, a, lobby, "bye bob")
	expectRoomMessage(t, a, "bye bob")
	testhelpers.ExpectNoResponse(t, b, 200*time.Millisecond)
}

func TestUnauthenticatedUpgradeIsRefused(t *testing.T) {
	r := newMemoryRelay(t)

	other := auth.NewSigner("wrong-secret", testIssuer)
	forged, err := other.Issue("mallory", time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"no token":     "",
		"forged token": forged,
		"garbage":      "definitely-not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := testhelpers.ConnectWebSocket(r.wsURL, token)
			require.Error(t, err)
			if conn != nil {
				_ = conn.Close()
			}
			require.NotNil(t, resp)
			testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
		})
	}

	assert.Zero(t, r.connections(), "refused upgrades must not create registry state")
}

func TestTokenQueryParameter(t *testing.T) {
	r := newMemoryRelay(t)

	conn, _, err := testhelpers.ConnectWebSocket(r.wsURL+"?token="+r.token(t, "alice"), "")
	require.NoError(t, err)
	defer conn.Close()

	r.waitForConnections(t, 1)
}

func TestUserDirectory(t *testing.T) {
	b := newMemoryBroker(t)

	cfg := newTestConfig()
	cfg.Auth.Users = []auth.User{{ID: "alice", Name: "Alice"}}
	r := startTestRelay(t, b, cfg)

	conn, _, err := testhelpers.ConnectWebSocket(r.wsURL, r.token(t, "alice"))
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := testhelpers.ConnectWebSocket(r.wsURL, r.token(t, "stranger"))
	require.Error(t, err)
	require.NotNil(t, resp)
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)

	r.waitForConnections(t, 1)
}

func TestDisallowedOriginIsRefused(t *testing.T) {
	r := newMemoryRelay(t)

	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")
	headers.Set("Authorization", "Bearer "+r.token(t, "alice"))

	conn, resp, err := websocket.DefaultDialer.Dial(r.wsURL, headers)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)
	assert.Zero(t, r.connections())
}

// TestStoppedRelayDeliversNothing documents that room messages only reach
// members through the relay, local members included.
func TestStoppedRelayDeliversNothing(t *testing.T) {
	r := newMemoryRelay(t)
	a := r.connect(t, "alice")
	testhelpers.Join(t, a, lobby)

	require.NoError(t, r.srv.Relay().Stop())
	<-r.srv.Relay().Done()

	sendMessage(t, a, lobby, "into the void")
	testhelpers.ExpectNoResponse(t, a, 200*time.Millisecond)
}

// TestRoomsSpanInstances runs two relays sharing one broker; members on
// either instance receive messages sent on the other.
func TestRoomsSpanInstances(t *testing.T) {
	b := newMemoryBroker(t)

	first := startTestRelay(t, b, nil)
	second := startTestRelay(t, b, nil)

	a := first.connect(t, "alice")
	bob := second.connect(t, "bob")
	testhelpers.Join(t, a, lobby)
	testhelpers.Join(t, bob, lobby)

	sendMessage(t, a, lobby, "across instances")
	expectRoomMessage(t, a, "across instances")
	expectRoomMessage(t, bob, "across instances")

	testhelpers.ExpectNoResponse(t, a, 100*time.Millisecond)
	testhelpers.ExpectNoResponse(t, bob, 100*time.Millisecond)
}

func TestRoomsSpanInstancesOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	open := func() broker.Broker {
		b, err := broker.Open(ctx, broker.KindRedis, "redis://"+mr.Addr())
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}

	first := startTestRelay(t, open(), nil)
	second := startTestRelay(t, open(), nil)

	a := first.connect(t, "alice")
	bob := second.connect(t, "bob")
	testhelpers.Join(t, a, lobby)
	testhelpers.Join(t, bob, lobby)

	sendMessage(t, bob, lobby, "via redis")
	expectRoomMessage(t, a, "via redis")
	expectRoomMessage(t, bob, "via redis")
}

func TestRateLimitRepliesWithError(t *testing.T) {
	b := newMemoryBroker(t)

	cfg := newTestConfig()
	cfg.RateLimit.Burst = 2
	cfg.RateLimit.RefillInterval = time.Hour
	r := startTestRelay(t, b, cfg)

	conn := r.connect(t, "alice")
	testhelpers.Join(t, conn, "one")
	testhelpers.Join(t, conn, "two")

	testhelpers.SendCommand(t, conn, protocol.Command{Method: protocol.MethodJoin, Room: "three"})
	resp := testhelpers.ReceiveResponse(t, conn, 2*time.Second)
	testhelpers.AssertResponse(t, resp, protocol.ResponseError, protocol.MethodUnknown)
	assert.Equal(t, "rate limit exceeded", resp.Message)

	_, ok := r.srv.Registry().Room("three")
	assert.False(t, ok)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	b := newMemoryBroker(t)

	cfg := newTestConfig()
	cfg.MaxMessageSize = 64
	r := startTestRelay(t, b, cfg)

	conn := r.connect(t, "alice")
	r.waitForConnections(t, 1)

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'x'
	}
	sendMessage(t, conn, lobby, string(big))

	r.waitForConnections(t, 0)
}

func TestShutdownClosesClients(t *testing.T) {
	b := newMemoryBroker(t)
	r := startTestRelay(t, b, nil)

	clients := []*websocket.Conn{r.connect(t, "alice"), r.connect(t, "bob")}
	for _, c := range clients {
		testhelpers.Join(t, c, lobby)
	}

	require.NoError(t, r.srv.Shutdown(2*time.Second))
	assert.Zero(t, r.connections())
	assert.True(t, r.srv.Relay().IsStopped())

	for i, c := range clients {
		_, err := testhelpers.TryReceiveResponse(c, time.Second)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "client %d: expected normal closure, got %v", i, err)
	}

	_, resp, err := testhelpers.ConnectWebSocket(r.wsURL, r.token(t, "late"))
	require.Error(t, err)
	require.NotNil(t, resp)
	testhelpers.AssertStatusCode(t, resp, http.StatusServiceUnavailable)
}

func TestHealthAndStatsEndpoints(t *testing.T) {
	r := newMemoryRelay(t)

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.http.URL+"/")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")
	_ = resp.Body.Close()

	conn := r.connect(t, "alice")
	testhelpers.Join(t, conn, lobby)

	resp = testhelpers.MakeRequest(t, http.MethodGet, r.http.URL+"/stats")
	defer resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")

	var stats server.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, server.Stats{Rooms: 1, Connections: 1, RelayRunning: true}, stats)

	page := testhelpers.MakeRequest(t, http.MethodGet, r.http.URL+"/test")
	testhelpers.AssertContentType(t, page, "text/html")
	_ = page.Body.Close()

	post := testhelpers.MakeRequest(t, http.MethodPost, r.http.URL+"/ws")
	testhelpers.AssertStatusCode(t, post, http.StatusMethodNotAllowed)
	_ = post.Body.Close()
}

func TestConnectionIdentityIsAttached(t *testing.T) {
	r := newMemoryRelay(t)
	conn := r.connect(t, "alice")
	testhelpers.Join(t, conn, lobby)

	room, ok := r.srv.Registry().Room(lobby)
	require.True(t, ok)
	require.Equal(t, 1, room.Len())

	handle, ok := r.srv.Registry().Conn(room.Members[0])
	require.True(t, ok)
	require.NotNil(t, handle.Identity())
	assert.Equal(t, "alice", handle.Identity().Subject())

	principal, ok := handle.Identity().(*auth.Principal)
	require.True(t, ok)
	assert.Nil(t, principal.User)
}
