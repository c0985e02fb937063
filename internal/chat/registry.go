package chat

import (
	"errors"
	"sync"
	"time"
)

// GeneralRoom is the public room every client joins at login.
// It exists from startup and is never destroyed.
const GeneralRoom = "Geral"

// ErrAlreadyOnline is returned by Add when the username has a live client.
var ErrAlreadyOnline = errors.New("user already online")

// Registry maps live connections to usernames and room memberships.
// One mutex guards everything; critical sections are small and the lock is
// never held across a socket write or a database call.
type Registry struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	rooms   map[string]map[string]struct{} // room -> member usernames
}

// NewRegistry creates a registry with the public room pre-created.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*Client]struct{}),
		rooms: map[string]map[string]struct{}{
			GeneralRoom: {},
		},
	}
}

// Add inserts an authenticated client and joins it to the public room.
// The duplicate-username check and the insert happen under one lock
// acquisition, so concurrent logins of the same name admit exactly one.
func (r *Registry) Add(c *Client) error {
	username := c.Username()

	r.mu.Lock()
	defer r.mu.Unlock()

	for other := range r.clients {
		if other.Username() == username {
			return ErrAlreadyOnline
		}
	}
	r.clients[c] = struct{}{}
	r.rooms[GeneralRoom][username] = struct{}{}
	c.Touch()
	return nil
}

// Remove detaches a client and removes its username from every room.
// Returns the username and true if the client was registered.
func (r *Registry) Remove(c *Client) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return "", false
	}
	delete(r.clients, c)

	username := c.Username()
	for _, members := range r.rooms {
		delete(members, username)
	}
	return username, true
}

// Online reports whether the username has a live client.
func (r *Registry) Online(username string) bool {
	return r.ClientOf(username) != nil
}

// ClientOf returns the live client for username, or nil.
// Linear scan; fine at this scale.
func (r *Registry) ClientOf(username string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.clients {
		if c.Username() == username {
			return c
		}
	}
	return nil
}

// SnapshotOnline returns the set of online usernames.
func (r *Registry) SnapshotOnline() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	online := make(map[string]struct{}, len(r.clients))
	for c := range r.clients {
		online[c.Username()] = struct{}{}
	}
	return online
}

// All returns a snapshot of every live client.
func (r *Registry) All() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// JoinRoom adds the username to a room, creating the room on first join.
func (r *Registry) JoinRoom(username, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[username] = struct{}{}
}

// InRoom reports whether the username has joined the room.
func (r *Registry) InRoom(username, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[room][username]
	return ok
}

// MembersOf returns the live clients whose usernames are members of the room.
func (r *Registry) MembersOf(room string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}
	clients := make([]*Client, 0, len(members))
	for c := range r.clients {
		if _, ok := members[c.Username()]; ok {
			clients = append(clients, c)
		}
	}
	return clients
}

// Stale returns clients whose last heartbeat is older than cutoff.
func (r *Registry) Stale(cutoff time.Time) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []*Client
	for c := range r.clients {
		if c.LastSeen().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	return stale
}

// Count returns the number of live clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// CloseAll closes every client connection. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.clients {
		_ = c.Close()
	}
}
