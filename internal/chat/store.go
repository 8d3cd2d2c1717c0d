package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Archiver receives store mutations for background persistence. The store
// never waits on it and never reads it back at runtime; implementations
// must not block.
type Archiver interface {
	MessageAppended(msg Message)
	MessageDeleted(msg Message)
	MessagesTrimmed(beforeID int64)
}

// Store owns the append-only message log. Ids are assigned from a single
// counter under the store mutex, so they are strictly increasing and
// gap-free no matter how many senders append concurrently. Nothing outside
// the store ever holds a pointer into the log: every operation returns
// copies.
type Store struct {
	mu        sync.Mutex
	messages  []*Message // ascending id order
	byID      map[int64]*Message
	nextID    int64
	lastStamp time.Time
	limit     int // retained message cap, 0 = unlimited
	gate      *ModerationGate
	archive   Archiver
	now       func() time.Time
}

// NewStore creates an empty store. limit caps how many messages are
// retained; appending beyond it trims the oldest entries (matching the
// dashboard's 5000-row history cap). limit <= 0 disables trimming.
func NewStore(gate *ModerationGate, limit int) *Store {
	return &Store{
		byID:   make(map[int64]*Message),
		nextID: 1,
		limit:  limit,
		gate:   gate,
		now:    time.Now,
	}
}

// SetArchiver attaches a background persistence sink. Call before the
// store is shared between goroutines.
func (s *Store) SetArchiver(a Archiver) {
	s.archive = a
}

// Seed loads a previously archived log into an empty store. Messages must
// be in ascending id order. Used once at startup, before any sessions are
// accepted.
func (s *Store) Seed(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range msgs {
		m := msgs[i] // copy
		s.messages = append(s.messages, &m)
		s.byID[m.ID] = &m
		s.nextID = m.ID + 1
		if m.CreatedAt.After(s.lastStamp) {
			s.lastStamp = m.CreatedAt
		}
	}
}

// Append validates and stores a new message, assigning the next id and a
// timestamp that never runs backwards. A reply must reference a message
// that is already in the log; a failed append allocates no id.
func (s *Store) Append(senderID int64, sender, content string, replyToID int64) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, fmt.Errorf("%w: empty content", ErrValidation)
	}

	s.mu.Lock()
	if replyToID != 0 {
		if _, ok := s.byID[replyToID]; !ok {
			s.mu.Unlock()
			return Message{}, fmt.Errorf("reply target %d: %w", replyToID, ErrNotFound)
		}
	}

	stamp := s.now()
	if stamp.Before(s.lastStamp) {
		stamp = s.lastStamp
	}
	s.lastStamp = stamp

	msg := &Message{
		ID:        s.nextID,
		SenderID:  senderID,
		Sender:    sender,
		Content:   content,
		ReplyToID: replyToID,
		CreatedAt: stamp,
	}
	s.nextID++
	s.messages = append(s.messages, msg)
	s.byID[msg.ID] = msg

	trimmedBefore := s.trimLocked()
	out := *msg
	s.mu.Unlock()

	if s.archive != nil {
		s.archive.MessageAppended(out)
		if trimmedBefore > 0 {
			s.archive.MessagesTrimmed(trimmedBefore)
		}
	}
	return out, nil
}

// trimLocked drops the oldest messages beyond the retention cap and
// returns the new lowest retained id, or 0 if nothing was trimmed.
func (s *Store) trimLocked() int64 {
	if s.limit <= 0 || len(s.messages) <= s.limit {
		return 0
	}
	cut := len(s.messages) - s.limit
	for _, m := range s.messages[:cut] {
		delete(s.byID, m.ID)
	}
	s.messages = append([]*Message(nil), s.messages[cut:]...)
	return s.messages[0].ID
}

// SoftDelete marks a message deleted after the moderation gate approves
// the requester. The message keeps its id, its slot in the log, and its
// validity as a reply target.
func (s *Store) SoftDelete(messageID, requesterID int64, roles []string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[messageID]
	if !ok {
		return Message{}, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	if !s.gate.Authorize(ActionDelete, requesterID, *msg, roles) {
		return Message{}, fmt.Errorf("delete message %d: %w", messageID, ErrAuthorization)
	}
	if msg.Deleted {
		return Message{}, fmt.Errorf("%w: message %d already deleted", ErrValidation, messageID)
	}

	msg.Deleted = true
	out := *msg
	if s.archive != nil {
		s.archive.MessageDeleted(out)
	}
	return out, nil
}

// Page returns one page of history, newest first. Pages are keyed by id
// ranges hanging off anchorID: page k covers ids
// (anchor-(k+1)*size, anchor-k*size]. anchorID 0 means "newest id right
// now"; the chosen anchor is echoed in the result so callers can pin
// follow-up pages to it, keeping page boundaries fixed while new messages
// arrive. Deleted messages are included; consumers filter them.
func (s *Store) Page(pageIndex, pageSize int, anchorID int64) (PageResult, error) {
	if pageIndex < 0 || pageSize <= 0 {
		return PageResult{}, fmt.Errorf("%w: bad page parameters", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == 0 {
		return PageResult{Content: []Message{}, Last: true}, nil
	}

	newest := s.messages[len(s.messages)-1].ID
	oldest := s.messages[0].ID

	anchor := anchorID
	if anchor == 0 || anchor > newest {
		anchor = newest
	}

	hi := anchor - int64(pageIndex)*int64(pageSize)
	lo := hi - int64(pageSize) + 1
	if hi < oldest {
		return PageResult{Content: []Message{}, Last: true, Anchor: anchor}, nil
	}
	if lo < oldest {
		lo = oldest
	}

	content := make([]Message, 0, hi-lo+1)
	for id := hi; id >= lo; id-- {
		if m, ok := s.byID[id]; ok {
			content = append(content, *m)
		}
	}
	return PageResult{
		Content: content,
		Last:    lo <= oldest,
		Anchor:  anchor,
	}, nil
}

// Len reports how many messages are currently retained.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
