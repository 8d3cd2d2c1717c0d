package chat

import (
	"sort"
	"sync"
	"time"
)

type presenceEntry struct {
	sessions int
	lastSeen time.Time
}

// PresenceTracker derives per-user online state from active-session
// reference counts. A user with two tabs open stays online until the last
// tab closes. The notify callback fires only on real 0->1 and 1->0
// transitions, under the tracker mutex, so observers see transitions for
// one user in order.
type PresenceTracker struct {
	mu     sync.Mutex
	users  map[int64]*presenceEntry
	notify func(userID int64, online bool)
	now    func() time.Time
}

// NewPresenceTracker creates a tracker. notify may be nil.
func NewPresenceTracker(notify func(userID int64, online bool)) *PresenceTracker {
	return &PresenceTracker{
		users:  make(map[int64]*presenceEntry),
		notify: notify,
		now:    time.Now,
	}
}

// SetOnline counts one more active session for the user.
func (p *PresenceTracker) SetOnline(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.users[userID]
	if !ok {
		e = &presenceEntry{}
		p.users[userID] = e
	}
	e.sessions++
	if e.sessions == 1 && p.notify != nil {
		p.notify(userID, true)
	}
}

// SetOffline counts one session gone. Extra calls beyond the true count
// are ignored; the counter never goes negative.
func (p *PresenceTracker) SetOffline(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.users[userID]
	if !ok || e.sessions == 0 {
		return
	}
	e.sessions--
	if e.sessions == 0 {
		e.lastSeen = p.now()
		if p.notify != nil {
			p.notify(userID, false)
		}
	}
}

// Online reports whether the user has at least one active session.
func (p *PresenceTracker) Online(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.users[userID]
	return ok && e.sessions > 0
}

// Snapshot returns the presence state of every known user, ordered by
// user id. New clients load this once and then follow presence events.
func (p *PresenceTracker) Snapshot() []PresenceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PresenceStatus, 0, len(p.users))
	for id, e := range p.users {
		out = append(out, PresenceStatus{
			UserID:   id,
			Online:   e.sessions > 0,
			LastSeen: e.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
