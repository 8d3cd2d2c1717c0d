package chat

import "time"

// TopicPublic is the single broadcast topic. Rooms are a possible later
// addition; everything below is already keyed by topic name.
const TopicPublic = "public"

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

// Message is one entry in the append-only log. Immutable once appended,
// except for the Deleted flag which the store flips on moderated delete.
// ReplyToID of 0 means the message is not a reply.
type Message struct {
	ID        int64     `json:"id"`
	SenderID  int64     `json:"sender_id"`
	Sender    string    `json:"sender"` // Denormalized username for UI speed
	Content   string    `json:"content"`
	ReplyToID int64     `json:"reply_to_id,omitempty"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// PresenceStatus is one row of the presence snapshot.
type PresenceStatus struct {
	UserID   int64     `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitzero"`
}

// ---------------------------------------------
// Wire Envelopes (tagged unions)
// ---------------------------------------------

// Command types the frontend SENDS to us.
const (
	CmdSend   = "send"
	CmdDelete = "delete"
)

// Event types we push to the frontend.
const (
	EvtMessageCreated = "messageCreated"
	EvtMessageDeleted = "messageDeleted"
	EvtPresence       = "presence"
	EvtError          = "error"
)

// Rejection codes carried by EvtError events.
const (
	CodeValidation    = "validation"
	CodeNotFound      = "not_found"
	CodeAuthorization = "authorization"
	CodeProtocol      = "protocol"
)

// Command is the inbound envelope. Type selects which payload fields are
// meaningful: send uses Content/ReplyToID, delete uses MessageID.
type Command struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	ReplyToID int64  `json:"reply_to_id,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
}

// Event is the outbound envelope, either broadcast through the broker or
// sent back to a single session as a rejection.
type Event struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"` // messageCreated
	ID      int64    `json:"id,omitempty"`      // messageDeleted
	UserID  int64    `json:"user_id,omitempty"` // presence
	Online  bool     `json:"online,omitempty"`  // presence
	Code    string   `json:"code,omitempty"`    // error
	Reason  string   `json:"reason,omitempty"`  // error
}

// PageResult is what the history pull returns. Anchor is the newest id the
// page sequence was keyed to; clients thread it through follow-up page
// requests so concurrent inserts cannot shift page boundaries.
type PageResult struct {
	Content []Message `json:"content"`
	Last    bool      `json:"last"`
	Anchor  int64     `json:"anchor"`
}
