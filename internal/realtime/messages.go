package realtime

import "time"

// Inbound message types a client may send.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
)

// Outbound message types pushed to clients.
const (
	MsgSubscribed   = "subscribed"
	MsgUnsubscribed = "unsubscribed"
	MsgPong         = "pong"
	MsgError        = "error"
	MsgJobUpdate    = "job_update"
	MsgSheetUpdate  = "sheet_update"
)

// InboundMessage is what clients send over the live connection.
type InboundMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// OutboundMessage is the normalized push message.
type OutboundMessage struct {
	Type      string  `json:"type"`
	Topic     string  `json:"topic,omitempty"`
	Msg       string  `json:"msg,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Change    *Change `json:"change,omitempty"`
}

// Change describes what happened to the topic's resource.
type Change struct {
	Kind      string      `json:"kind"`
	Action    string      `json:"action"`
	ID        string      `json:"id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
