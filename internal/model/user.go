package model

import "time"

// User is a directory record for a registered client. Read-only to the
// intake pipeline; registration requests are fulfilled elsewhere.
type User struct {
	UserID         string
	Email          string
	ProcessorEmail string
	CreatedAt      time.Time
}
