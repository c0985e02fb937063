package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/papochat/papo/internal/protocol"
	"github.com/papochat/papo/internal/testutil"
)

type dispatchEnv struct {
	registry *Registry
	d        *Dispatcher
	users    *testutil.MemoryUserRepository
	offline  *testutil.MemoryOfflineRepository
	history  *testutil.MemoryHistoryRepository
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()

	env := &dispatchEnv{
		registry: NewRegistry(),
		users:    testutil.NewMemoryUserRepository(),
		offline:  testutil.NewMemoryOfflineRepository(),
		history:  testutil.NewMemoryHistoryRepository(),
	}
	env.d = NewDispatcher(env.registry, env.users, env.offline, env.history, 64)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.d.Run(ctx)

	return env
}

// connect registers the username and attaches a live client to the registry.
// Returns the server-side client and the peer's frame reader.
func (e *dispatchEnv) connect(t *testing.T, username string) (*Client, *testutil.FrameConn) {
	t.Helper()

	if err := e.users.Register(context.Background(), username, "secret1"); err != nil {
		t.Fatalf("registering %s: %v", username, err)
	}

	peer, server := testutil.TCPPair(t)
	c, err := NewClient(server, 64, time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	c.SetUsername(username)
	go c.writePump()
	t.Cleanup(func() { _ = c.Close() })

	if err := e.registry.Add(c); err != nil {
		t.Fatalf("registry.Add(%s) failed: %v", username, err)
	}
	return c, testutil.WrapFrame(t, peer)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func expectNoFrame(t *testing.T, fc *testutil.FrameConn) {
	t.Helper()
	if frame, err := fc.TryRecv(150 * time.Millisecond); err == nil {
		t.Fatalf("expected no frame, got %v", frame)
	}
}

func TestDispatcher_PingPong(t *testing.T) {
	env := newDispatchEnv(t)
	alice, fcAlice := env.connect(t, "alice")

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypePing}, alice)

	frame := fcAlice.RecvType(2*time.Second, protocol.TypePong)
	if frame["type"] != protocol.TypePong {
		t.Errorf("frame type = %v, want PONG", frame["type"])
	}
}

func TestDispatcher_PublicBroadcastAndHistory(t *testing.T) {
	env := newDispatchEnv(t)
	alice, fcAlice := env.connect(t, "alice")
	_, fcBob := env.connect(t, "bob")

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypePublic, Message: "hello"}, alice)

	for name, fc := range map[string]*testutil.FrameConn{"alice": fcAlice, "bob": fcBob} {
		frame := fc.RecvType(2*time.Second, protocol.TypePublic)
		if frame["sender"] != "alice" || frame["message"] != "hello" {
			t.Errorf("%s got %v, want sender=alice message=hello", name, frame)
		}
		if ts, _ := frame["timestamp"].(string); len(ts) != len("15:04:05") {
			t.Errorf("%s got timestamp %v, want HH:MM:SS", name, frame["timestamp"])
		}
	}

	waitFor(t, "history entry", func() bool { return len(env.history.Entries()) == 1 })
	entry := env.history.Entries()[0]
	if entry.Room != GeneralRoom || entry.Sender != "alice" || entry.Message != "hello" {
		t.Errorf("history entry = %+v, want Geral/alice/hello", entry)
	}
}

func TestDispatcher_PrivateToOnlineRecipient(t *testing.T) {
	env := newDispatchEnv(t)
	alice, fcAlice := env.connect(t, "alice")
	_, fcBob := env.connect(t, "bob")

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypePrivate, Recipient: "bob", Message: "hi"}, alice)

	frame := fcBob.RecvType(2*time.Second, protocol.TypePrivate)
	if frame["sender"] != "alice" || frame["message"] != "hi" || frame["recipient"] != "bob" {
		t.Errorf("bob got %v, want sender=alice recipient=bob message=hi", frame)
	}

	expectNoFrame(t, fcAlice)
	if got := len(env.offline.All()); got != 0 {
		t.Errorf("offline queue has %d messages, want 0", got)
	}
}

func TestDispatcher_PrivateToOfflineRecipientQueues(t *testing.T) {
	env := newDispatchEnv(t)
	alice, _ := env.connect(t, "alice")

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypePrivate, Recipient: "bob", Message: "later"}, alice)

	waitFor(t, "offline enqueue", func() bool { return len(env.offline.All()) == 1 })
	msg := env.offline.All()[0]
	if msg.Sender != "alice" || msg.Recipient != "bob" || msg.Message != "later" {
		t.Errorf("queued message = %+v", msg)
	}
	if msg.Delivered {
		t.Error("queued message must start undelivered")
	}
}

func TestDispatcher_DeliverOfflinePrefixesAndMarksDelivered(t *testing.T) {
	env := newDispatchEnv(t)
	if err := env.offline.Enqueue(context.Background(), "alice", "bob", "later", "10:30:00"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	_, fcBob := env.connect(t, "bob")
	env.d.DeliverOffline("bob")

	frame := fcBob.RecvType(2*time.Second, protocol.TypePrivate)
	if frame["sender"] != "alice" {
		t.Errorf("sender = %v, want alice", frame["sender"])
	}
	if frame["message"] != "(Offline) later" {
		t.Errorf("message = %v, want (Offline) later", frame["message"])
	}
	if frame["timestamp"] != "10:30:00" {
		t.Errorf("timestamp = %v, want the original 10:30:00", frame["timestamp"])
	}

	waitFor(t, "delivered flag", func() bool {
		all := env.offline.All()
		return len(all) == 1 && all[0].Delivered
	})

	// A second drain delivers nothing.
	env.d.DeliverOffline("bob")
	expectNoFrame(t, fcBob)
}

func TestDispatcher_UserListBroadcast(t *testing.T) {
	env := newDispatchEnv(t)
	_, fcAlice := env.connect(t, "alice")
	_, fcBob := env.connect(t, "bob")
	if err := env.users.Register(context.Background(), "carol", "secret1"); err != nil {
		t.Fatalf("registering carol: %v", err)
	}

	env.d.BroadcastUserList()

	want := []string{"alice:online", "bob:online", "carol:offline"}
	for name, fc := range map[string]*testutil.FrameConn{"alice": fcAlice, "bob": fcBob} {
		frame := fc.RecvType(2*time.Second, protocol.TypeUserList)
		users, ok := frame["users"].([]any)
		if !ok || len(users) != len(want) {
			t.Fatalf("%s got users = %v, want %v", name, frame["users"], want)
		}
		for i, entry := range want {
			if users[i] != entry {
				t.Errorf("%s users[%d] = %v, want %q", name, i, users[i], entry)
			}
		}
	}
}

func TestDispatcher_UserListRequestTriggersBroadcast(t *testing.T) {
	env := newDispatchEnv(t)
	alice, fcAlice := env.connect(t, "alice")
	_, fcBob := env.connect(t, "bob")

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypeUserList}, alice)

	for name, fc := range map[string]*testutil.FrameConn{"alice": fcAlice, "bob": fcBob} {
		frame := fc.RecvType(2*time.Second, protocol.TypeUserList)
		if _, ok := frame["users"].([]any); !ok {
			t.Errorf("%s got %v, want a users list", name, frame)
		}
	}
}

func TestDispatcher_RoomJoinAndMessage(t *testing.T) {
	env := newDispatchEnv(t)
	alice, fcAlice := env.connect(t, "alice")
	bob, fcBob := env.connect(t, "bob")

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypeRoomAction, Action: protocol.RoomActionJoin, Room: "games"}, alice)

	notice := fcAlice.RecvType(2*time.Second, protocol.TypeSystem)
	if notice["message"] != "alice entrou na sala games" {
		t.Errorf("join notice = %v", notice["message"])
	}

	// Bob is not a member yet: his room message is dropped.
	env.d.Process(&protocol.ClientFrame{Type: protocol.TypeRoomMessage, Room: "games", Message: "oi"}, bob)
	expectNoFrame(t, fcAlice)
	if got := len(env.history.Entries()); got != 0 {
		t.Errorf("history has %d entries after dropped room message, want 0", got)
	}

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypeRoomAction, Action: protocol.RoomActionJoin, Room: "games"}, bob)
	fcBob.RecvType(2*time.Second, protocol.TypeSystem)

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypeRoomMessage, Room: "games", Message: "oi"}, bob)
	frame := fcAlice.RecvType(2*time.Second, protocol.TypeRoomMessage)
	if frame["sender"] != "bob" || frame["room"] != "games" || frame["message"] != "oi" {
		t.Errorf("room message = %v", frame)
	}

	waitFor(t, "room history entry", func() bool { return len(env.history.Entries()) == 1 })
	if entry := env.history.Entries()[0]; entry.Room != "games" {
		t.Errorf("history room = %q, want games", entry.Room)
	}
}

func TestDispatcher_TypingIndicators(t *testing.T) {
	env := newDispatchEnv(t)
	alice, _ := env.connect(t, "alice")
	_, fcBob := env.connect(t, "bob")

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypeTypingStart, Recipient: "bob"}, alice)
	frame := fcBob.RecvType(2*time.Second, protocol.TypeTyping)
	if frame["sender"] != "alice" || frame["status"] != true {
		t.Errorf("typing start = %v, want sender=alice status=true", frame)
	}

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypeTypingStop, Recipient: "bob"}, alice)
	frame = fcBob.RecvType(2*time.Second, protocol.TypeTyping)
	if frame["status"] != false {
		t.Errorf("typing stop status = %v, want false", frame["status"])
	}
}

func TestDispatcher_UnknownTypeDropped(t *testing.T) {
	env := newDispatchEnv(t)
	alice, fcAlice := env.connect(t, "alice")

	env.d.Process(&protocol.ClientFrame{Type: "WEIRD", Message: "x"}, alice)
	expectNoFrame(t, fcAlice)
}

func TestDispatcher_HistoryErrorDoesNotBlockRouting(t *testing.T) {
	env := newDispatchEnv(t)
	env.history.Err = errors.New("disk on fire")

	alice, fcAlice := env.connect(t, "alice")

	env.d.Process(&protocol.ClientFrame{Type: protocol.TypePublic, Message: "hello"}, alice)

	frame := fcAlice.RecvType(2*time.Second, protocol.TypePublic)
	if frame["message"] != "hello" {
		t.Errorf("message = %v, want hello despite history failure", frame["message"])
	}
}

func TestDispatcher_BroadcastSystem(t *testing.T) {
	env := newDispatchEnv(t)
	_, fcAlice := env.connect(t, "alice")
	_, fcBob := env.connect(t, "bob")

	env.d.BroadcastSystem("alice entrou no chat")

	for name, fc := range map[string]*testutil.FrameConn{"alice": fcAlice, "bob": fcBob} {
		frame := fc.RecvType(2*time.Second, protocol.TypeSystem)
		if frame["message"] != "alice entrou no chat" {
			t.Errorf("%s got %v", name, frame["message"])
		}
	}
}
