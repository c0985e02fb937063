// Package protocol implements the newline-delimited JSON wire format.
// Each frame is one UTF-8 JSON object terminated by a single '\n'.
package protocol

// Client authentication actions.
const (
	ActionRegister = "REGISTER"
	ActionLogin    = "LOGIN"
)

// Frame type discriminators.
const (
	TypePing        = "PING"
	TypePong        = "PONG"
	TypeSystem      = "SYSTEM"
	TypePublic      = "PUBLIC"
	TypePrivate     = "PRIVATE"
	TypeUserList    = "USERLIST"
	TypeRoomAction  = "ROOM_ACTION"
	TypeRoomMessage = "ROOM_MESSAGE"
	TypeTypingStart = "TYPING_START"
	TypeTypingStop  = "TYPING_STOP"

	// TypeTyping is the server→client typing indicator. Lowercase on the wire.
	TypeTyping = "typing"
)

// RoomActionJoin is the only ROOM_ACTION the server accepts.
const RoomActionJoin = "JOIN"

// Authentication response statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// TimeLayout is the wall-clock format carried in message timestamps.
const TimeLayout = "15:04:05"

// ClientFrame is any client→server frame. Parsing is tolerant: unknown fields
// are dropped and absent ones are empty strings.
type ClientFrame struct {
	Action    string `json:"action,omitempty"`
	Type      string `json:"type,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Room      string `json:"room,omitempty"`
	Message   string `json:"message,omitempty"`
}

// AuthResponse answers REGISTER and LOGIN attempts.
type AuthResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pong replies to a PING heartbeat.
type Pong struct {
	Type string `json:"type"`
}

// SystemNotice carries join/leave and room notices.
type SystemNotice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatMessage is a routed PUBLIC, PRIVATE or ROOM_MESSAGE frame.
type ChatMessage struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	Room      string `json:"room,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// UserList is the roster broadcast. Entries are "<name>:online" or
// "<name>:offline", alphabetical by name.
type UserList struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// Typing forwards a typing indicator to the recipient.
type Typing struct {
	Type   string `json:"type"`
	Sender string `json:"sender"`
	Status bool   `json:"status"`
}
