package chat_test

import (
	"encoding/json"
	"testing"

	"cim-chat/internal/chat"
	"cim-chat/internal/identity"
)

func newRouterFixture(t *testing.T) (*chat.Router, *chat.Store, *fakeSub) {
	t.Helper()
	store := newStore(0)
	broker := chat.NewBroker(nil)
	sub := newFakeSub(64)
	broker.Subscribe(chat.TopicPublic, sub)
	return chat.NewRouter(store, broker, chat.TopicPublic), store, sub
}

func dispatch(t *testing.T, r *chat.Router, origin chat.Origin, cmd chat.Command) *chat.Event {
	t.Helper()
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	return r.Dispatch(origin, raw)
}

var alice = chat.Origin{UserID: 1, Username: "alice", Roles: []string{identity.RoleUser}}
var bob = chat.Origin{UserID: 2, Username: "bob", Roles: []string{identity.RoleUser}}
var mod = chat.Origin{UserID: 9, Username: "mod", Roles: []string{identity.RoleAdmin}}

func TestSendIsStoredAndBroadcast(t *testing.T) {
	r, store, sub := newRouterFixture(t)

	if rej := dispatch(t, r, alice, chat.Command{Type: chat.CmdSend, Content: "hello"}); rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if store.Len() != 1 {
		t.Fatalf("message not stored")
	}

	events := sub.drain()
	if len(events) != 1 || events[0].Type != chat.EvtMessageCreated {
		t.Fatalf("broadcast: %+v", events)
	}
	msg := events[0].Message
	if msg == nil || msg.ID != 1 || msg.Sender != "alice" || msg.Content != "hello" {
		t.Fatalf("broadcast message: %+v", msg)
	}
}

func TestSendWithReply(t *testing.T) {
	r, _, sub := newRouterFixture(t)

	dispatch(t, r, alice, chat.Command{Type: chat.CmdSend, Content: "original"})
	if rej := dispatch(t, r, bob, chat.Command{Type: chat.CmdSend, Content: "reply", ReplyToID: 1}); rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}

	events := sub.drain()
	if len(events) != 2 || events[1].Message.ReplyToID != 1 {
		t.Fatalf("reply broadcast: %+v", events)
	}
}

func TestSendBadReplyRejectedToSenderOnly(t *testing.T) {
	r, store, sub := newRouterFixture(t)

	rej := dispatch(t, r, alice, chat.Command{Type: chat.CmdSend, Content: "reply", ReplyToID: 99})
	if rej == nil || rej.Type != chat.EvtError || rej.Code != chat.CodeNotFound {
		t.Fatalf("expected not_found rejection, got %+v", rej)
	}
	if store.Len() != 0 {
		t.Fatalf("rejected send mutated the store")
	}
	if events := sub.drain(); len(events) != 0 {
		t.Fatalf("rejection was broadcast: %+v", events)
	}
}

func TestSendEmptyContentRejected(t *testing.T) {
	r, _, sub := newRouterFixture(t)

	rej := dispatch(t, r, alice, chat.Command{Type: chat.CmdSend, Content: "   "})
	if rej == nil || rej.Code != chat.CodeValidation {
		t.Fatalf("expected validation rejection, got %+v", rej)
	}
	if events := sub.drain(); len(events) != 0 {
		t.Fatalf("rejection was broadcast: %+v", events)
	}
}

func TestDeleteDeniedForStranger(t *testing.T) {
	r, _, sub := newRouterFixture(t)
	dispatch(t, r, alice, chat.Command{Type: chat.CmdSend, Content: "hello"})
	sub.drain()

	rej := dispatch(t, r, bob, chat.Command{Type: chat.CmdDelete, MessageID: 1})
	if rej == nil || rej.Code != chat.CodeAuthorization {
		t.Fatalf("expected authorization rejection, got %+v", rej)
	}
	if events := sub.drain(); len(events) != 0 {
		t.Fatalf("denied delete was broadcast: %+v", events)
	}
}

func TestDeleteByModeratorBroadcasts(t *testing.T) {
	r, store, sub := newRouterFixture(t)
	dispatch(t, r, alice, chat.Command{Type: chat.CmdSend, Content: "hello"})
	sub.drain()

	if rej := dispatch(t, r, mod, chat.Command{Type: chat.CmdDelete, MessageID: 1}); rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}

	events := sub.drain()
	if len(events) != 1 || events[0].Type != chat.EvtMessageDeleted || events[0].ID != 1 {
		t.Fatalf("delete broadcast: %+v", events)
	}

	res, err := store.Page(0, 1, 0)
	if err != nil || len(res.Content) != 1 || !res.Content[0].Deleted {
		t.Fatalf("message not soft-deleted: %+v, %v", res, err)
	}
}

func TestDeleteUnknownMessageRejected(t *testing.T) {
	r, _, _ := newRouterFixture(t)
	rej := dispatch(t, r, alice, chat.Command{Type: chat.CmdDelete, MessageID: 404})
	if rej == nil || rej.Code != chat.CodeNotFound {
		t.Fatalf("expected not_found rejection, got %+v", rej)
	}
}

func TestUnknownCommandTypeIsProtocolError(t *testing.T) {
	r, store, sub := newRouterFixture(t)

	rej := dispatch(t, r, alice, chat.Command{Type: "shout", Content: "HEY"})
	if rej == nil || rej.Code != chat.CodeProtocol {
		t.Fatalf("expected protocol rejection, got %+v", rej)
	}
	if store.Len() != 0 {
		t.Fatalf("unknown command mutated the store")
	}
	if events := sub.drain(); len(events) != 0 {
		t.Fatalf("unknown command was broadcast: %+v", events)
	}
}

func TestMalformedFrameIsProtocolError(t *testing.T) {
	r, _, _ := newRouterFixture(t)
	rej := r.Dispatch(alice, []byte("{not json"))
	if rej == nil || rej.Code != chat.CodeProtocol {
		t.Fatalf("expected protocol rejection, got %+v", rej)
	}
}
