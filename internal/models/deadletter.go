package models

import "time"

type DeadLetterStatus string

const (
	DeadLetterReceived DeadLetterStatus = "RECEIVED"
	DeadLetterRetrying DeadLetterStatus = "RETRYING"
	DeadLetterResolved DeadLetterStatus = "RESOLVED"
	DeadLetterParked   DeadLetterStatus = "PARKED"
)

// DeadLetter is the sink's record of one OrderFailedEvent.
type DeadLetter struct {
	Event      OrderFailedEvent `json:"event"`
	Status     DeadLetterStatus `json:"status"`
	Note       string           `json:"note,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
