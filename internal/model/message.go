package model

// OfflineMessage is a direct message stored while its recipient was offline.
// Timestamp keeps the wall-clock HH:MM:SS string from the original send.
type OfflineMessage struct {
	ID        int64
	Sender    string
	Recipient string
	Message   string
	Timestamp string
	Delivered bool
}
