// Package testhelpers provides common utilities for testing the relay server.
//
// It contains reusable helpers shared across package tests: building test
// servers, dialing authenticated WebSocket connections, sending commands and
// reading responses.
package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomrelay/internal/protocol"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// WebSocketURL converts an http(s) test server URL into the ws(s) URL of path.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket dials url with the given bearer token. An empty token
// sends no Authorization header. The handshake response is returned so
// callers can inspect refusals.
func ConnectWebSocket(url, token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials like ConnectWebSocket and fails the test on error.
func MustConnect(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, token)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendCommand encodes and sends a command.
func SendCommand(t *testing.T, conn *websocket.Conn, cmd protocol.Command) {
	t.Helper()
	raw, err := protocol.EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("Failed to encode command: %v", err)
	}
	SendRaw(t, conn, raw)
}

// SendRaw sends a raw text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, raw []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

// Join sends JOIN and waits for its Ok response.
func Join(t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	SendCommand(t, conn, protocol.Command{Method: protocol.MethodJoin, Room: room})
	resp := ReceiveResponse(t, conn, 2*time.Second)
	AssertResponse(t, resp, protocol.ResponseOK, protocol.MethodJoin)
}

// ReceiveResponse reads one response frame within timeout.
func ReceiveResponse(t *testing.T, conn *websocket.Conn, timeout time.Duration) protocol.Response {
	t.Helper()
	resp, err := TryReceiveResponse(conn, timeout)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp
}

// TryReceiveResponse reads one response frame within timeout.
func TryReceiveResponse(conn *websocket.Conn, timeout time.Duration) (protocol.Response, error) {
	var resp protocol.Response
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return resp, err
	}
	err := conn.ReadJSON(&resp)
	return resp, err
}

// ExpectNoResponse fails the test if a frame arrives within timeout.
func ExpectNoResponse(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	resp, err := TryReceiveResponse(conn, timeout)
	if err == nil {
		t.Errorf("Expected no message, got %+v", resp)
	}
}

// AssertResponse checks the response type and method of a response.
func AssertResponse(t *testing.T, resp protocol.Response, responseType string, method protocol.Method) {
	t.Helper()
	if resp.ResponseType != responseType {
		t.Errorf("Expected response type %s, got %s (%q)", responseType, resp.ResponseType, resp.Message)
	}
	if resp.MethodName != string(method) {
		t.Errorf("Expected method %s, got %s", method, resp.MethodName)
	}
}

// AssertData checks the data field of a response.
func AssertData(t *testing.T, resp protocol.Response, expected string) {
	t.Helper()
	if resp.Data == nil {
		t.Errorf("Expected data %q, got null", expected)
		return
	}
	if *resp.Data != expected {
		t.Errorf("Expected data %q, got %q", expected, *resp.Data)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Condition not met within %s: %s", timeout, msg)
}
