package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Origin identifies the session a command came from.
type Origin struct {
	UserID   int64
	Username string
	Roles    []string
}

// Router validates inbound command envelopes and dispatches them to the
// store, then broadcasts the outcome. It holds no state of its own;
// per-session ordering comes from each session calling Dispatch
// synchronously from its read loop, and cross-session serialization is the
// store's job.
type Router struct {
	store  *Store
	broker *Broker
	topic  string
}

func NewRouter(store *Store, broker *Broker, topic string) *Router {
	return &Router{store: store, broker: broker, topic: topic}
}

// Dispatch handles one raw command frame. On success the resulting event
// has already been published and Dispatch returns nil; otherwise it
// returns the rejection event to send back to the origin session alone.
// Failed commands never mutate the store and never reach other sessions.
func (r *Router) Dispatch(origin Origin, raw []byte) *Event {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return &Event{Type: EvtError, Code: CodeProtocol, Reason: "malformed command"}
	}

	switch cmd.Type {
	case CmdSend:
		msg, err := r.store.Append(origin.UserID, origin.Username, cmd.Content, cmd.ReplyToID)
		if err != nil {
			return reject(err)
		}
		r.broker.Publish(r.topic, Event{Type: EvtMessageCreated, Message: &msg})
		return nil

	case CmdDelete:
		msg, err := r.store.SoftDelete(cmd.MessageID, origin.UserID, origin.Roles)
		if err != nil {
			return reject(err)
		}
		r.broker.Publish(r.topic, Event{Type: EvtMessageDeleted, ID: msg.ID})
		return nil

	default:
		return &Event{
			Type:   EvtError,
			Code:   CodeProtocol,
			Reason: fmt.Sprintf("unknown command type %q", cmd.Type),
		}
	}
}

func reject(err error) *Event {
	code := CodeProtocol
	switch {
	case errors.Is(err, ErrValidation):
		code = CodeValidation
	case errors.Is(err, ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, ErrAuthorization):
		code = CodeAuthorization
	}
	return &Event{Type: EvtError, Code: code, Reason: err.Error()}
}
