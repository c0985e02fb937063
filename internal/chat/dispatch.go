package chat

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/papochat/papo/internal/protocol"
)

// dbOpTimeout bounds each storage call made by the dispatch worker.
const dbOpTimeout = 3 * time.Second

// offlinePrefix marks direct messages that were queued while the recipient
// was offline.
const offlinePrefix = "(Offline) "

type workKind int

const (
	workBroadcastSystem workKind = iota
	workUserList
	workDeliverOffline
	workProcess
)

type workItem struct {
	kind     workKind
	text     string
	username string
	frame    *protocol.ClientFrame
	origin   *Client
}

// Dispatcher is the single consumer that serializes all routing decisions.
// Handlers and the liveness supervisor enqueue work; one goroutine drains the
// queue and performs every fan-out write through the clients' send queues.
type Dispatcher struct {
	registry *Registry
	users    UserRepository
	offline  OfflineRepository
	history  HistoryRepository

	queue   chan workItem
	stopped chan struct{}
}

// NewDispatcher creates a dispatcher over the given registry and stores.
func NewDispatcher(registry *Registry, users UserRepository, offline OfflineRepository, history HistoryRepository, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		registry: registry,
		users:    users,
		offline:  offline,
		history:  history,
		queue:    make(chan workItem, queueSize),
		stopped:  make(chan struct{}),
	}
}

// Run drains the work queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.stopped)
	slog.Info("dispatch worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatch worker stopped")
			return
		case item := <-d.queue:
			d.dispatch(item)
		}
	}
}

// BroadcastSystem enqueues a SYSTEM notice to every live client.
func (d *Dispatcher) BroadcastSystem(text string) {
	d.enqueue(workItem{kind: workBroadcastSystem, text: text})
}

// BroadcastUserList enqueues a roster broadcast to every live client.
func (d *Dispatcher) BroadcastUserList() {
	d.enqueue(workItem{kind: workUserList})
}

// DeliverOffline enqueues the drain of the user's queued direct messages.
func (d *Dispatcher) DeliverOffline(username string) {
	d.enqueue(workItem{kind: workDeliverOffline, username: username})
}

// Process enqueues a message-phase frame from an authenticated client.
func (d *Dispatcher) Process(frame *protocol.ClientFrame, origin *Client) {
	d.enqueue(workItem{kind: workProcess, frame: frame, origin: origin})
}

// enqueue blocks when the queue is full; that backpressure propagates to the
// producing handler's read loop. It never blocks past worker shutdown.
func (d *Dispatcher) enqueue(item workItem) {
	select {
	case d.queue <- item:
	case <-d.stopped:
	}
}

// dispatch runs one work item. A panic is logged and the worker carries on.
func (d *Dispatcher) dispatch(item workItem) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch panic", "recovered", r, "stack", string(debug.Stack()))
		}
	}()

	switch item.kind {
	case workBroadcastSystem:
		d.broadcastSystem(item.text)
	case workUserList:
		d.sendUserListAll()
	case workDeliverOffline:
		d.deliverOffline(item.username)
	case workProcess:
		d.processFrame(item.frame, item.origin)
	}
}

// broadcastSystem fans a SYSTEM notice out to every live client.
func (d *Dispatcher) broadcastSystem(text string) {
	line, err := protocol.Encode(protocol.SystemNotice{Type: protocol.TypeSystem, Message: text})
	if err != nil {
		slog.Error("encoding system notice", "error", err)
		return
	}
	for _, c := range d.registry.All() {
		_ = c.Send(line)
	}
}

// sendUserListAll broadcasts the roster: every registered username in
// alphabetical order, suffixed ":online" or ":offline".
func (d *Dispatcher) sendUserListAll() {
	ctx, cancel := context.WithTimeout(context.Background(), dbOpTimeout)
	defer cancel()

	names, err := d.users.ListUsernames(ctx)
	if err != nil {
		slog.Error("listing usernames for roster", "error", err)
		return
	}

	online := d.registry.SnapshotOnline()
	users := make([]string, 0, len(names))
	for _, name := range names {
		status := "offline"
		if _, ok := online[name]; ok {
			status = "online"
		}
		users = append(users, name+":"+status)
	}

	line, err := protocol.Encode(protocol.UserList{Type: protocol.TypeUserList, Users: users})
	if err != nil {
		slog.Error("encoding roster", "error", err)
		return
	}
	for _, c := range d.registry.All() {
		_ = c.Send(line)
	}
}

// deliverOffline drains the user's queued messages to its current socket.
// Drained rows stay marked delivered even if the user disconnected meanwhile.
func (d *Dispatcher) deliverOffline(username string) {
	c := d.registry.ClientOf(username)
	if c == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbOpTimeout)
	defer cancel()

	msgs, err := d.offline.Drain(ctx, username)
	if err != nil {
		slog.Error("draining offline messages", "user", username, "error", err)
		return
	}
	for _, m := range msgs {
		_ = c.SendFrame(protocol.ChatMessage{
			Type:      protocol.TypePrivate,
			Sender:    m.Sender,
			Message:   offlinePrefix + m.Message,
			Timestamp: m.Timestamp,
		})
	}
	if len(msgs) > 0 {
		slog.Info("delivered offline messages", "user", username, "count", len(msgs))
	}
}

// processFrame routes one message-phase frame by its type discriminator.
// Unknown types are dropped.
func (d *Dispatcher) processFrame(frame *protocol.ClientFrame, origin *Client) {
	sender := origin.Username()

	switch frame.Type {
	case protocol.TypePing:
		origin.Touch()
		_ = origin.SendFrame(protocol.Pong{Type: protocol.TypePong})

	case protocol.TypeUserList:
		// Re-enqueued as a roster broadcast; a full queue falls back to an
		// inline send.
		select {
		case d.queue <- workItem{kind: workUserList}:
		default:
			d.sendUserListAll()
		}

	case protocol.TypePublic:
		d.routePublic(sender, frame.Message)

	case protocol.TypePrivate:
		d.routePrivate(sender, frame.Recipient, frame.Message)

	case protocol.TypeRoomAction:
		if frame.Action == protocol.RoomActionJoin && frame.Room != "" {
			d.joinRoom(sender, frame.Room)
		}

	case protocol.TypeRoomMessage:
		d.routeRoom(sender, frame.Room, frame.Message)

	case protocol.TypeTypingStart:
		d.forwardTyping(sender, frame.Recipient, true)

	case protocol.TypeTypingStop:
		d.forwardTyping(sender, frame.Recipient, false)

	default:
		slog.Debug("dropping unknown frame type", "type", frame.Type, "user", sender)
	}
}

func (d *Dispatcher) routePublic(sender, message string) {
	ts := time.Now().Format(protocol.TimeLayout)
	line, err := protocol.Encode(protocol.ChatMessage{
		Type:      protocol.TypePublic,
		Sender:    sender,
		Message:   message,
		Timestamp: ts,
	})
	if err != nil {
		slog.Error("encoding public message", "error", err)
		return
	}
	for _, c := range d.registry.MembersOf(GeneralRoom) {
		_ = c.Send(line)
	}
	d.appendHistory(GeneralRoom, sender, message, ts)
}

func (d *Dispatcher) routePrivate(sender, recipient, message string) {
	if recipient == "" {
		return
	}
	ts := time.Now().Format(protocol.TimeLayout)

	if rc := d.registry.ClientOf(recipient); rc != nil {
		_ = rc.SendFrame(protocol.ChatMessage{
			Type:      protocol.TypePrivate,
			Sender:    sender,
			Recipient: recipient,
			Message:   message,
			Timestamp: ts,
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbOpTimeout)
	defer cancel()
	if err := d.offline.Enqueue(ctx, sender, recipient, message, ts); err != nil {
		slog.Error("queueing offline message", "recipient", recipient, "error", err)
	}
}

func (d *Dispatcher) joinRoom(username, room string) {
	d.registry.JoinRoom(username, room)

	line, err := protocol.Encode(protocol.SystemNotice{
		Type:    protocol.TypeSystem,
		Message: username + " entrou na sala " + room,
	})
	if err != nil {
		slog.Error("encoding room notice", "error", err)
		return
	}
	for _, c := range d.registry.MembersOf(room) {
		_ = c.Send(line)
	}
}

func (d *Dispatcher) routeRoom(sender, room, message string) {
	if !d.registry.InRoom(sender, room) {
		slog.Warn("room message from non-member dropped", "user", sender, "room", room)
		return
	}

	ts := time.Now().Format(protocol.TimeLayout)
	line, err := protocol.Encode(protocol.ChatMessage{
		Type:      protocol.TypeRoomMessage,
		Sender:    sender,
		Room:      room,
		Message:   message,
		Timestamp: ts,
	})
	if err != nil {
		slog.Error("encoding room message", "error", err)
		return
	}
	for _, c := range d.registry.MembersOf(room) {
		_ = c.Send(line)
	}
	d.appendHistory(room, sender, message, ts)
}

func (d *Dispatcher) forwardTyping(sender, recipient string, status bool) {
	rc := d.registry.ClientOf(recipient)
	if rc == nil {
		return
	}
	_ = rc.SendFrame(protocol.Typing{
		Type:   protocol.TypeTyping,
		Sender: sender,
		Status: status,
	})
}

// appendHistory is fire-and-forget: a storage error never fails routing.
func (d *Dispatcher) appendHistory(room, sender, message, ts string) {
	ctx, cancel := context.WithTimeout(context.Background(), dbOpTimeout)
	defer cancel()
	if err := d.history.Append(ctx, room, sender, message, ts); err != nil {
		slog.Error("appending chat history", "room", room, "error", err)
	}
}
