// Package domain contains the message envelope and shared runtime counters.
package domain

import (
	"time"
)

// Message is the unit carried by channels. Data holds the payload in
// marshalled form so it can cross interpreter boundaries; it is decoded
// only inside the receiving instance.
type Message struct {
	ID        string
	Timestamp time.Time
	Data      []byte
}
