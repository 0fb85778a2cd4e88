package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/winlogon/minechat/internal/core"
	"github.com/winlogon/minechat/internal/data"
	"github.com/winlogon/minechat/internal/protocol"
	"github.com/winlogon/minechat/internal/registry"
)

const testTimeout = 2 * time.Second

// fakeWorld records everything the gateway hands to the game-host side.
type fakeWorld struct {
	mu            sync.Mutex
	joins         []string
	leaves        []string
	authSuccesses []string
	chats         []string
}

func (w *fakeWorld) AnnounceJoin(username string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.joins = append(w.joins, username)
}

func (w *fakeWorld) AnnounceLeave(username string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.leaves = append(w.leaves, username)
}

func (w *fakeWorld) AnnounceAuthSuccess(username string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.authSuccesses = append(w.authSuccesses, username)
}

func (w *fakeWorld) SendChat(username, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chats = append(w.chats, fmt.Sprintf("%s: %s", username, message))
}

func (w *fakeWorld) snapshot(field string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch field {
	case "joins":
		return append([]string(nil), w.joins...)
	case "leaves":
		return append([]string(nil), w.leaves...)
	case "authSuccesses":
		return append([]string(nil), w.authSuccesses...)
	default:
		return append([]string(nil), w.chats...)
	}
}

type testGateway struct {
	gw      *Gateway
	world   *fakeWorld
	dataDir string
}

func startTestGateway(t *testing.T) *testGateway {
	t.Helper()

	cfg := &core.Config{}
	cfg.Hostname = "127.0.0.1"
	cfg.GatewayServer.Port = 0
	cfg.GatewayServer.LinkCodeTTLSeconds = 300

	dataDir := t.TempDir()
	store, err := data.NewJSONStore(dataDir)
	if err != nil {
		t.Fatalf("error creating test store: %s", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	w := &fakeWorld{}
	gw := New(cfg, logger, w, registry.NewLinkCodeRegistry(store), registry.NewClientRegistry(store))
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("error starting test gateway: %s", err)
	}
	t.Cleanup(gw.Shutdown)

	return &testGateway{gw: gw, world: w, dataDir: dataDir}
}

type testClient struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
}

func dial(t *testing.T, tg *testGateway) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", tg.gw.Addr().String())
	if err != nil {
		t.Fatalf("error connecting to test gateway: %s", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn, scanner: bufio.NewScanner(conn)}
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("error writing to gateway: %s", err)
	}
}

func (c *testClient) send(frameType string, payload interface{}) {
	c.t.Helper()
	body, err := json.Marshal(map[string]interface{}{"type": frameType, "payload": payload})
	if err != nil {
		c.t.Fatalf("error marshaling test frame: %s", err)
	}
	c.sendRaw(string(body))
}

// readFrame blocks until the gateway sends the next frame, failing the test if
// nothing arrives in time.
func (c *testClient) readFrame() (string, json.RawMessage) {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	if !c.scanner.Scan() {
		c.t.Fatalf("no frame received before deadline (scan error: %v)", c.scanner.Err())
	}

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(c.scanner.Bytes(), &env); err != nil {
		c.t.Fatalf("received unparseable frame %q: %s", c.scanner.Text(), err)
	}
	return env.Type, env.Payload
}

// readUntil discards frames until one of the wanted type arrives. Tests use it
// to skip membership frames interleaved with the frame under test.
func (c *testClient) readUntil(frameType string) json.RawMessage {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		gotType, payload := c.readFrame()
		if gotType == frameType {
			return payload
		}
	}
	c.t.Fatalf("no %s frame received", frameType)
	return nil
}

func (c *testClient) readAuthAck() protocol.AuthAck {
	c.t.Helper()
	payload := c.readUntil(protocol.TypeAuthAck)

	var ack protocol.AuthAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		c.t.Fatalf("error parsing AUTH_ACK payload: %s", err)
	}
	return ack
}

// authenticate issues a fresh link code for the given identity and redeems it.
func (c *testClient) authenticate(tg *testGateway, clientUUID, minecraftUUID, username string) {
	c.t.Helper()

	code := tg.gw.GenerateLinkCode(minecraftUUID, username)
	c.send(protocol.TypeAuth, protocol.Auth{ClientUUID: clientUUID, LinkCode: code})

	ack := c.readAuthAck()
	if ack.Status != protocol.StatusSuccess {
		c.t.Fatalf("authentication failed: %s", ack.Message)
	}
}

func waitFor(t *testing.T, message string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestGateway_AuthWithLinkCode(t *testing.T) {
	tg := startTestGateway(t)
	client := dial(t, tg)

	code := tg.gw.GenerateLinkCode("u1", "Alice")
	client.send(protocol.TypeAuth, protocol.Auth{ClientUUID: "c1", LinkCode: code})

	want := protocol.AuthAck{
		Status:        protocol.StatusSuccess,
		Message:       "Linked to Alice",
		MinecraftUUID: "u1",
		Username:      "Alice",
	}
	if diff := cmp.Diff(want, client.readAuthAck()); diff != "" {
		t.Errorf("AUTH_ACK did not match; diff:\n%s", diff)
	}

	waitFor(t, "no auth-success announcement reached the world", func() bool {
		return len(tg.world.snapshot("authSuccesses")) == 1
	})

	// The code is single-use.
	if _, err := tg.gw.LinkCodes.Redeem(code); err == nil {
		t.Error("link code was still redeemable after authentication")
	}
}

func TestGateway_AuthWithInvalidCode(t *testing.T) {
	tg := startTestGateway(t)
	client := dial(t, tg)

	client.send(protocol.TypeAuth, protocol.Auth{ClientUUID: "c1", LinkCode: "ZZZZZZ"})

	ack := client.readAuthAck()
	if ack.Status != protocol.StatusFailure || ack.Message != "Invalid or expired link code" {
		t.Errorf("AUTH_ACK = %+v, want failure with invalid code message", ack)
	}

	// The connection stays open for a retry.
	client.authenticate(tg, "c1", "u1", "Alice")
}

func TestGateway_AuthUnknownClient(t *testing.T) {
	tg := startTestGateway(t)
	client := dial(t, tg)

	client.send(protocol.TypeAuth, protocol.Auth{ClientUUID: "c1", LinkCode: ""})

	ack := client.readAuthAck()
	if ack.Status != protocol.StatusFailure || ack.Message != "Client not registered" {
		t.Errorf("AUTH_ACK = %+v, want failure with not registered message", ack)
	}
}

func TestGateway_ReauthenticationYieldsOriginalIdentity(t *testing.T) {
	tg := startTestGateway(t)

	first := dial(t, tg)
	first.authenticate(tg, "c1", "u1", "Alice")
	_ = first.conn.Close()

	waitFor(t, "first connection was not released", func() bool {
		return tg.gw.connectionCount() == 0
	})

	second := dial(t, tg)
	second.send(protocol.TypeAuth, protocol.Auth{ClientUUID: "c1", LinkCode: ""})

	want := protocol.AuthAck{
		Status:        protocol.StatusSuccess,
		Message:       "Welcome back, Alice",
		MinecraftUUID: "u1",
		Username:      "Alice",
	}
	if diff := cmp.Diff(want, second.readAuthAck()); diff != "" {
		t.Errorf("AUTH_ACK did not match; diff:\n%s", diff)
	}

	waitFor(t, "no join announcement reached the world", func() bool {
		return len(tg.world.snapshot("joins")) == 1
	})
}

func TestGateway_SecondAuthOnSameConnectionRejected(t *testing.T) {
	tg := startTestGateway(t)
	client := dial(t, tg)
	client.authenticate(tg, "c1", "u1", "Alice")

	client.send(protocol.TypeAuth, protocol.Auth{ClientUUID: "c1", LinkCode: ""})

	ack := client.readAuthAck()
	if ack.Status != protocol.StatusFailure || ack.Message != "Already authenticated" {
		t.Errorf("AUTH_ACK = %+v, want failure with already authenticated message", ack)
	}
}

func TestGateway_ChatRelaysToOtherClientsAndWorld(t *testing.T) {
	tg := startTestGateway(t)

	alice := dial(t, tg)
	alice.authenticate(tg, "c1", "u1", "Alice")
	bob := dial(t, tg)
	bob.authenticate(tg, "c2", "u2", "Bob")

	alice.send(protocol.TypeChat, protocol.Chat{Message: "hi"})

	payload := bob.readUntil(protocol.TypeBroadcast)
	var broadcast protocol.Broadcast
	if err := json.Unmarshal(payload, &broadcast); err != nil {
		t.Fatalf("error parsing BROADCAST payload: %s", err)
	}
	want := protocol.Broadcast{From: "[MineChat] Alice", Message: "hi"}
	if diff := cmp.Diff(want, broadcast); diff != "" {
		t.Errorf("BROADCAST did not match; diff:\n%s", diff)
	}

	waitFor(t, "chat did not reach the world", func() bool {
		chats := tg.world.snapshot("chats")
		return len(chats) == 1 && chats[0] == "Alice: hi"
	})
}

func TestGateway_JoinIsAnnouncedToOtherClients(t *testing.T) {
	tg := startTestGateway(t)

	alice := dial(t, tg)
	alice.authenticate(tg, "c1", "u1", "Alice")

	bob := dial(t, tg)
	bob.authenticate(tg, "c2", "u2", "Bob")

	payload := alice.readUntil(protocol.TypeSystem)
	var system protocol.System
	if err := json.Unmarshal(payload, &system); err != nil {
		t.Fatalf("error parsing SYSTEM payload: %s", err)
	}
	want := protocol.System{Event: protocol.EventJoin, Username: "Bob", Message: "Bob has joined the chat."}
	if diff := cmp.Diff(want, system); diff != "" {
		t.Errorf("SYSTEM did not match; diff:\n%s", diff)
	}
}

func TestGateway_DisconnectAnnouncesLeave(t *testing.T) {
	tg := startTestGateway(t)

	alice := dial(t, tg)
	alice.authenticate(tg, "c1", "u1", "Alice")
	bob := dial(t, tg)
	bob.authenticate(tg, "c2", "u2", "Bob")

	// Drain Bob's join announcement before triggering the leave.
	alice.readUntil(protocol.TypeSystem)

	bob.send(protocol.TypeDisconnect, struct{}{})

	payload := alice.readUntil(protocol.TypeSystem)
	var system protocol.System
	if err := json.Unmarshal(payload, &system); err != nil {
		t.Fatalf("error parsing SYSTEM payload: %s", err)
	}
	want := protocol.System{Event: protocol.EventLeave, Username: "Bob", Message: "Bob has left the chat."}
	if diff := cmp.Diff(want, system); diff != "" {
		t.Errorf("SYSTEM did not match; diff:\n%s", diff)
	}

	waitFor(t, "no leave announcement reached the world", func() bool {
		return len(tg.world.snapshot("leaves")) == 1
	})
}

func TestGateway_ChatBeforeAuthIsDropped(t *testing.T) {
	tg := startTestGateway(t)
	client := dial(t, tg)

	client.send(protocol.TypeChat, protocol.Chat{Message: "hello?"})

	// Frames are handled in order per connection, so once the auth failure
	// comes back the chat frame has already been processed (and dropped).
	client.send(protocol.TypeAuth, protocol.Auth{ClientUUID: "c1", LinkCode: ""})
	if ack := client.readAuthAck(); ack.Status != protocol.StatusFailure {
		t.Fatalf("AUTH_ACK = %+v, want failure", ack)
	}

	if chats := tg.world.snapshot("chats"); len(chats) != 0 {
		t.Errorf("unauthenticated chat reached the world: %v", chats)
	}
}

func TestGateway_BroadcastSurvivesDeadConnection(t *testing.T) {
	tg := startTestGateway(t)

	alice := dial(t, tg)
	alice.authenticate(tg, "c1", "u1", "Alice")
	bob := dial(t, tg)
	bob.authenticate(tg, "c2", "u2", "Bob")
	alice.readUntil(protocol.TypeSystem)

	_ = bob.conn.Close()
	waitFor(t, "dead connection was not removed from the live set", func() bool {
		return tg.gw.connectionCount() == 1
	})

	tg.gw.HandleWorldChat("World", "still here")

	payload := alice.readUntil(protocol.TypeBroadcast)
	var broadcast protocol.Broadcast
	if err := json.Unmarshal(payload, &broadcast); err != nil {
		t.Fatalf("error parsing BROADCAST payload: %s", err)
	}
	if broadcast.Message != "still here" {
		t.Errorf("BROADCAST message = %q, want %q", broadcast.Message, "still here")
	}
}

func TestGateway_WorldChatReachesAllClients(t *testing.T) {
	tg := startTestGateway(t)

	alice := dial(t, tg)
	alice.authenticate(tg, "c1", "u1", "Alice")

	tg.gw.HandleWorldChat("Steve", "hello from the world")

	payload := alice.readUntil(protocol.TypeBroadcast)
	var broadcast protocol.Broadcast
	if err := json.Unmarshal(payload, &broadcast); err != nil {
		t.Fatalf("error parsing BROADCAST payload: %s", err)
	}
	want := protocol.Broadcast{From: "Steve", Message: "hello from the world"}
	if diff := cmp.Diff(want, broadcast); diff != "" {
		t.Errorf("BROADCAST did not match; diff:\n%s", diff)
	}
}

func TestGateway_ShutdownPersistsRegistries(t *testing.T) {
	tg := startTestGateway(t)

	client := dial(t, tg)
	client.authenticate(tg, "c1", "u1", "Alice")

	tg.gw.Shutdown()

	store, err := data.NewJSONStore(tg.dataDir)
	if err != nil {
		t.Fatalf("error reopening store: %s", err)
	}
	clients, err := store.LoadClients()
	if err != nil {
		t.Fatalf("LoadClients() returned unexpected error: %s", err)
	}
	want := []data.Client{{ClientUUID: "c1", MinecraftUUID: "u1", MinecraftUsername: "Alice"}}
	if diff := cmp.Diff(want, clients); diff != "" {
		t.Errorf("persisted clients did not match; diff:\n%s", diff)
	}
}
