package repository

import (
	"sync"

	"github.com/google/uuid"
	"github.com/truckdesk/screenshare/internal/domain"
)

const feedBuffer = 16

// Feed is the in-process change feed over session records. Subscribers get
// full snapshots; delivery is at-least-once from the consumer's point of view
// (a slow subscriber may miss intermediate states but the store may also
// redeliver a snapshot it has already seen), so consumers must be idempotent.
type Feed struct {
	mu        sync.RWMutex
	bySession map[uuid.UUID]map[chan domain.SessionEvent]struct{}
	live      map[chan domain.SessionEvent]struct{}
}

func NewFeed() *Feed {
	return &Feed{
		bySession: make(map[uuid.UUID]map[chan domain.SessionEvent]struct{}),
		live:      make(map[chan domain.SessionEvent]struct{}),
	}
}

// SubscribeSession returns a channel of snapshots for one session id and a
// cancel func. Cancel closes the channel.
func (f *Feed) SubscribeSession(id uuid.UUID) (<-chan domain.SessionEvent, func()) {
	ch := make(chan domain.SessionEvent, feedBuffer)

	f.mu.Lock()
	if f.bySession[id] == nil {
		f.bySession[id] = make(map[chan domain.SessionEvent]struct{})
	}
	f.bySession[id][ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if subs, ok := f.bySession[id]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(f.bySession, id)
			}
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// SubscribeLive returns a channel of snapshots for every pending/active
// session, used by the directory list and the owner watch.
func (f *Feed) SubscribeLive() (<-chan domain.SessionEvent, func()) {
	ch := make(chan domain.SessionEvent, feedBuffer)

	f.mu.Lock()
	f.live[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.live[ch]; ok {
			delete(f.live, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans a snapshot out to subscribers. Sends never block: a full
// subscriber buffer drops the event, the next snapshot supersedes it anyway.
func (f *Feed) Publish(session *domain.Session) {
	ev := domain.SessionEvent{Session: session.Clone()}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.bySession[session.ID] {
		select {
		case ch <- ev:
		default:
		}
	}
	for ch := range f.live {
		select {
		case ch <- ev:
		default:
		}
	}
}
