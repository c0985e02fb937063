package model

import "time"

// User is a registered chat account.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    time.Time // zero if the user never logged in
}
