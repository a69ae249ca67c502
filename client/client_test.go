package client

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"smsg/auth"
	"smsg/models"
	"smsg/protocol"
	"smsg/registry"
	"smsg/server"
)

// event is one sink callback, flattened for comparison.
type event struct {
	kind string
	args []string
}

func (e event) String() string {
	return fmt.Sprintf("%s%v", e.kind, e.args)
}

// chanSink records every callback on a channel so tests can assert order
// and content with timeouts.
type chanSink struct {
	events chan event
}

func newChanSink() *chanSink {
	return &chanSink{events: make(chan event, 32)}
}

func (s *chanSink) ConnectRequest(from string) { s.events <- event{"connect-request", []string{from}} }
func (s *chanSink) ConnectResponse(from string, accepted bool) {
	s.events <- event{"connect-response", []string{from, fmt.Sprint(accepted)}}
}
func (s *chanSink) Disconnected(from string) { s.events <- event{"disconnected", []string{from}} }
func (s *chanSink) UserList(users []models.UserStatus) {
	var args []string
	for _, u := range users {
		args = append(args, u.Username, u.Code)
	}
	s.events <- event{"user-list", args}
}
func (s *chanSink) LoginFailed(reason string) { s.events <- event{"login-failed", []string{reason}} }
func (s *chanSink) LoginSucceeded()           { s.events <- event{"login-success", nil} }
func (s *chanSink) RegisterFailed()           { s.events <- event{"register-failed", nil} }
func (s *chanSink) StatusChanged(username, code string) {
	s.events <- event{"status", []string{username, code}}
}
func (s *chanSink) ErrorReceived(message string) { s.events <- event{"error", []string{message}} }
func (s *chanSink) ChatReceived(from, payload string) {
	s.events <- event{"chat", []string{from, payload}}
}
func (s *chanSink) ServerClosed() { s.events <- event{"server-closed", nil} }

func (s *chanSink) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-s.events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for sink event")
		return event{}
	}
}

func (s *chanSink) expect(t *testing.T, kind string, args ...string) {
	t.Helper()
	e := s.next(t)
	if e.kind != kind {
		t.Fatalf("Expected event %s, got %s", kind, e)
	}
	if len(args) > 0 {
		got := event{kind, e.args}
		want := event{kind, args}
		if got.String() != want.String() {
			t.Fatalf("Expected %s, got %s", want, got)
		}
	}
}

func (s *chanSink) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case e := <-s.events:
		t.Fatalf("Expected no event, got %s", e)
	case <-time.After(wait):
	}
}

// startTestServer serves a memory-only server on loopback.
func startTestServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	srv := server.New(registry.New(nil), &server.Config{WriteTimeout: 5 * time.Second})
	go srv.Serve(listener)
	t.Cleanup(srv.Shutdown)

	return srv, listener.Addr().String()
}

// dialAndRegister connects a client and registers a fresh account.
func dialAndRegister(t *testing.T, addr, username string) (*Client, *chanSink) {
	t.Helper()
	sink := newChanSink()
	c, err := Dial(addr, sink)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.Register(username, auth.HashCredential(username, "secret")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	sink.expect(t, "login-success")
	return c, sink
}

// waitLoggedOut blocks until the named user's session is gone from the
// server, so commands on other connections see the account as free.
func waitLoggedOut(t *testing.T, srv *server.Server, username string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for strings.Contains(srv.Stats(), username) {
		if time.Now().After(deadline) {
			t.Fatalf("%s never logged out", username)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegisterAndLoginFlow(t *testing.T) {
	srv, addr := startTestServer(t)

	alice, aliceSink := dialAndRegister(t, addr, "alice")

	// A second registration of the same name fails.
	dupSink := newChanSink()
	dup, err := Dial(addr, dupSink)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer dup.Close()
	dup.Register("alice", auth.HashCredential("alice", "secret"))
	dupSink.expect(t, "register-failed")

	// Logging in while the account is online fails with a reason.
	dup.Login("alice", auth.HashCredential("alice", "secret"))
	dupSink.expect(t, "login-failed", "Already logged in")

	// Free the account and try again with wrong, then right credentials.
	alice.Logoff()
	alice.Close()
	waitLoggedOut(t, srv, "alice")
	dup.Login("alice", auth.HashCredential("alice", "wrong"))
	dupSink.expect(t, "login-failed", "Wrong username or password")
	dup.Login("alice", auth.HashCredential("alice", "secret"))
	dupSink.expect(t, "login-success")

	aliceSink.expectNone(t, 100*time.Millisecond)
}

func TestHandshakeAndChatScenario(t *testing.T) {
	_, addr := startTestServer(t)

	alice, aliceSink := dialAndRegister(t, addr, "alice")
	bob, bobSink := dialAndRegister(t, addr, "bob")
	aliceSink.expect(t, "status", "bob", "+")

	if err := bob.ConnectTo("alice"); err != nil {
		t.Fatalf("Failed to send connect: %v", err)
	}
	aliceSink.expect(t, "connect-request", "bob")

	if err := alice.Respond("bob", true); err != nil {
		t.Fatalf("Failed to respond: %v", err)
	}
	bobSink.expect(t, "connect-response", "alice", "true")

	if err := bob.SendChat("alice", "hello"); err != nil {
		t.Fatalf("Failed to send chat: %v", err)
	}
	aliceSink.expect(t, "chat", "bob", "hello")
}

func TestChatPayloadEscaping(t *testing.T) {
	_, addr := startTestServer(t)

	alice, aliceSink := dialAndRegister(t, addr, "alice")
	bob, bobSink := dialAndRegister(t, addr, "bob")
	aliceSink.expect(t, "status", "bob", "+")

	bob.ConnectTo("alice")
	aliceSink.expect(t, "connect-request", "bob")
	alice.Respond("bob", true)
	bobSink.expect(t, "connect-response", "alice", "true")

	// The payload travels escaped and the sink receives it that way.
	text := "first;second\nthird"
	bob.SendChat("alice", text)
	e := aliceSink.next(t)
	if e.kind != "chat" || e.args[0] != "bob" {
		t.Fatalf("Expected chat from bob, got %s", e)
	}
	if e.args[1] != "first&#59second&#92third" {
		t.Errorf("Expected escaped payload on the wire, got %q", e.args[1])
	}
	if got := protocol.UnescapePayload(e.args[1]); got != text {
		t.Errorf("Expected %q after unescape, got %q", text, got)
	}
}

func TestUserListAndStatus(t *testing.T) {
	_, addr := startTestServer(t)

	alice, aliceSink := dialAndRegister(t, addr, "alice")
	bob, bobSink := dialAndRegister(t, addr, "bob")
	aliceSink.expect(t, "status", "bob", "+")

	bob.SendStatus(models.PresenceBusy)
	aliceSink.expect(t, "status", "bob", "-")

	alice.RequestUsers()
	aliceSink.expect(t, "user-list", "bob", "-")

	bob.RequestUsers()
	bobSink.expect(t, "user-list", "alice", "+")
}

func TestDisconnectEvent(t *testing.T) {
	_, addr := startTestServer(t)

	alice, aliceSink := dialAndRegister(t, addr, "alice")
	bob, bobSink := dialAndRegister(t, addr, "bob")
	aliceSink.expect(t, "status", "bob", "+")

	bob.ConnectTo("alice")
	aliceSink.expect(t, "connect-request", "bob")
	alice.Respond("bob", true)
	bobSink.expect(t, "connect-response", "alice", "true")

	bob.Disconnect("alice")
	aliceSink.expect(t, "disconnected", "bob")
}

func TestRoutingMissSurfacesError(t *testing.T) {
	_, addr := startTestServer(t)

	alice, aliceSink := dialAndRegister(t, addr, "alice")

	alice.ConnectTo("nobody")
	aliceSink.expect(t, "error", "User not online")

	alice.SendChat("nobody", "hello")
	aliceSink.expect(t, "error", "No link to user")
}

func TestServerShutdownIsFatalAfterLogin(t *testing.T) {
	srv, addr := startTestServer(t)

	_, aliceSink := dialAndRegister(t, addr, "alice")

	srv.Shutdown()
	aliceSink.expect(t, "server-closed")
}

func TestServerShutdownSilentBeforeLogin(t *testing.T) {
	srv, addr := startTestServer(t)

	sink := newChanSink()
	c, err := Dial(addr, sink)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer c.Close()

	srv.Shutdown()
	sink.expectNone(t, 200*time.Millisecond)
}

func TestLogoffThenCloseIsSilent(t *testing.T) {
	_, addr := startTestServer(t)

	alice, aliceSink := dialAndRegister(t, addr, "alice")

	alice.Logoff()
	alice.Close()
	aliceSink.expectNone(t, 200*time.Millisecond)
}

func TestPresenceBroadcastOnAbnormalPeerClose(t *testing.T) {
	_, addr := startTestServer(t)

	_, aliceSink := dialAndRegister(t, addr, "alice")
	bob, _ := dialAndRegister(t, addr, "bob")
	aliceSink.expect(t, "status", "bob", "+")

	// A hard close, no LOGOFF: the server broadcasts offline on bob's
	// behalf.
	bob.Close()
	aliceSink.expect(t, "status", "bob", "0")
}

func TestSendAfterClose(t *testing.T) {
	_, addr := startTestServer(t)

	sink := newChanSink()
	c, err := Dial(addr, sink)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	c.Close()

	if err := c.RequestUsers(); err == nil {
		t.Error("Expected an error sending on a closed client")
	}
}
