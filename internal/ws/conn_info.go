package ws

import "time"

// ConnInfo carries the identity and correlation data captured at handshake
// time. It is attached to the connection in the hub and stamped onto every
// lifecycle event published for that connection.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
