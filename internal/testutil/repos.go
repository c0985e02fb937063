package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/papochat/papo/internal/db"
	"github.com/papochat/papo/internal/model"
)

// MemoryUserRepository is an in-memory chat.UserRepository for unit tests.
// Passwords are stored as-is; hashing is covered by the db package tests.
type MemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]string

	// Err, when set, is returned by every call.
	Err error
}

// NewMemoryUserRepository creates an empty user repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]string)}
}

func (r *MemoryUserRepository) Register(_ context.Context, username, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if _, ok := r.users[username]; ok {
		return db.ErrNameTaken
	}
	r.users[username] = password
	return nil
}

func (r *MemoryUserRepository) Verify(_ context.Context, username, password string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	stored, ok := r.users[username]
	return ok && stored == password, nil
}

func (r *MemoryUserRepository) ListUsernames(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// MemoryOfflineRepository is an in-memory chat.OfflineRepository.
type MemoryOfflineRepository struct {
	mu     sync.Mutex
	msgs   []model.OfflineMessage
	nextID int64
}

// NewMemoryOfflineRepository creates an empty offline queue.
func NewMemoryOfflineRepository() *MemoryOfflineRepository {
	return &MemoryOfflineRepository{}
}

func (r *MemoryOfflineRepository) Enqueue(_ context.Context, sender, recipient, message, timestamp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.msgs = append(r.msgs, model.OfflineMessage{
		ID:        r.nextID,
		Sender:    sender,
		Recipient: recipient,
		Message:   message,
		Timestamp: timestamp,
	})
	return nil
}

func (r *MemoryOfflineRepository) Drain(_ context.Context, recipient string) ([]model.OfflineMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var drained []model.OfflineMessage
	for i := range r.msgs {
		if r.msgs[i].Recipient == recipient && !r.msgs[i].Delivered {
			r.msgs[i].Delivered = true
			drained = append(drained, r.msgs[i])
		}
	}
	return drained, nil
}

// All returns a snapshot of every stored message, delivered or not.
func (r *MemoryOfflineRepository) All() []model.OfflineMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.OfflineMessage, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// HistoryEntry is one recorded message in the in-memory history.
type HistoryEntry struct {
	Room      string
	Sender    string
	Message   string
	Timestamp string
}

// MemoryHistoryRepository is an in-memory chat.HistoryRepository.
type MemoryHistoryRepository struct {
	mu      sync.Mutex
	entries []HistoryEntry

	// Err, when set, is returned by Append.
	Err error
}

// NewMemoryHistoryRepository creates an empty history log.
func NewMemoryHistoryRepository() *MemoryHistoryRepository {
	return &MemoryHistoryRepository{}
}

func (r *MemoryHistoryRepository) Append(_ context.Context, room, sender, message, timestamp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.entries = append(r.entries, HistoryEntry{Room: room, Sender: sender, Message: message, Timestamp: timestamp})
	return nil
}

// Entries returns a snapshot of the recorded history.
func (r *MemoryHistoryRepository) Entries() []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HistoryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
