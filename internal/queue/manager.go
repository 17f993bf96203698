/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue tracks which passages are where in the playback pipeline.
//
// The manager holds three slots: Current (playing), Next (pre-buffered) and
// Queued (awaiting promotion). Promotion only ever moves entries forward:
// current <- next <- queued head. The manager performs no I/O; persistence
// is delegated to a Notifier so the lock is only ever held for slot work.
package queue

import (
	"sync"

	"github.com/google/uuid"

	"github.com/friendsincode/melisma/internal/passage"
)

// Entry is an executable wrapping of a passage in the queue.
type Entry struct {
	QueueEntryID uuid.UUID
	Passage      passage.Passage
	PlayOrder    int64

	// DiscoveredEndTick is set once by the decoder when the passage was
	// enqueued without a defined end.
	DiscoveredEndTick *int64
}

// EffectiveEnd returns the best known end tick for the entry.
func (e *Entry) EffectiveEnd() (int64, bool) {
	return e.Passage.EffectiveEnd(e.DiscoveredEndTick)
}

// Notifier receives queue change descriptions for persistence. Callbacks run
// outside the manager lock and must not call back into the manager.
type Notifier interface {
	QueueEntryAdded(e Entry)
	QueueEntryRemoved(id uuid.UUID)
	QueueAdvanced(newCurrent *Entry)
	QueueCleared()
}

// NopNotifier discards all change notifications.
type NopNotifier struct{}

func (NopNotifier) QueueEntryAdded(Entry)      {}
func (NopNotifier) QueueEntryRemoved(uuid.UUID) {}
func (NopNotifier) QueueAdvanced(*Entry)        {}
func (NopNotifier) QueueCleared()               {}

// Manager is the slot-based playback queue. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	current  *Entry
	next     *Entry
	queued   []*Entry
	total    int
	notifier Notifier
}

// NewManager creates an empty queue manager.
func NewManager(notifier Notifier) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Manager{notifier: notifier}
}

// Bootstrap seeds the slots from an ordered list, first entry becoming
// current. Used at startup to restore the persisted queue; no notifications
// are emitted.
func (m *Manager) Bootstrap(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current, m.next, m.queued = nil, nil, nil
	m.total = len(entries)

	for i := range entries {
		e := entries[i]
		switch {
		case m.current == nil:
			m.current = &e
		case m.next == nil:
			m.next = &e
		default:
			m.queued = append(m.queued, &e)
		}
	}
}

// Enqueue places the entry in the first empty slot, or appends to queued.
func (m *Manager) Enqueue(e Entry) {
	m.mu.Lock()
	m.total++
	switch {
	case m.current == nil:
		m.current = &e
	case m.next == nil:
		m.next = &e
	default:
		m.queued = append(m.queued, &e)
	}
	m.mu.Unlock()

	m.notifier.QueueEntryAdded(e)
}

// Advance discards current and promotes next and the queued head. Returns
// the new current entry, or nil when the queue ran out.
func (m *Manager) Advance() *Entry {
	m.mu.Lock()
	if m.current != nil {
		m.total--
	}
	m.current = m.next
	m.next = nil
	if len(m.queued) > 0 {
		m.next = m.queued[0]
		m.queued = m.queued[1:]
	}
	cur := m.current
	m.mu.Unlock()

	m.notifier.QueueAdvanced(cur)
	return cur
}

// Remove deletes the first entry matching id from current, next or queued.
// Removing current advances; removing next promotes the queued head.
func (m *Manager) Remove(id uuid.UUID) bool {
	m.mu.Lock()

	if m.current != nil && m.current.QueueEntryID == id {
		m.total--
		m.current = m.next
		m.next = nil
		if len(m.queued) > 0 {
			m.next = m.queued[0]
			m.queued = m.queued[1:]
		}
		cur := m.current
		m.mu.Unlock()
		m.notifier.QueueEntryRemoved(id)
		m.notifier.QueueAdvanced(cur)
		return true
	}

	if m.next != nil && m.next.QueueEntryID == id {
		m.total--
		m.next = nil
		if len(m.queued) > 0 {
			m.next = m.queued[0]
			m.queued = m.queued[1:]
		}
		m.mu.Unlock()
		m.notifier.QueueEntryRemoved(id)
		return true
	}

	for i, e := range m.queued {
		if e.QueueEntryID == id {
			m.queued = append(m.queued[:i], m.queued[i+1:]...)
			m.total--
			m.mu.Unlock()
			m.notifier.QueueEntryRemoved(id)
			return true
		}
	}

	m.mu.Unlock()
	return false
}

// Clear empties every slot.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.current, m.next, m.queued = nil, nil, nil
	m.total = 0
	m.mu.Unlock()

	m.notifier.QueueCleared()
}

// SetDiscoveredEndpoint records the decoder-discovered end tick on the entry
// with the given id. Returns whether the entry was found.
func (m *Manager) SetDiscoveredEndpoint(id uuid.UUID, endTick int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range []*Entry{m.current, m.next} {
		if e != nil && e.QueueEntryID == id {
			t := endTick
			e.DiscoveredEndTick = &t
			return true
		}
	}
	for _, e := range m.queued {
		if e.QueueEntryID == id {
			t := endTick
			e.DiscoveredEndTick = &t
			return true
		}
	}
	return false
}

// DiscoveredEndpoint returns the recorded end tick for the entry, if any.
func (m *Manager) DiscoveredEndpoint(id uuid.UUID) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range []*Entry{m.current, m.next} {
		if e != nil && e.QueueEntryID == id && e.DiscoveredEndTick != nil {
			return *e.DiscoveredEndTick, true
		}
	}
	for _, e := range m.queued {
		if e.QueueEntryID == id && e.DiscoveredEndTick != nil {
			return *e.DiscoveredEndTick, true
		}
	}
	return 0, false
}

// Current returns a copy of the current entry, or nil.
func (m *Manager) Current() *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyEntry(m.current)
}

// Next returns a copy of the next entry, or nil.
func (m *Manager) Next() *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyEntry(m.next)
}

// Queued returns copies of the entries awaiting promotion, in order.
func (m *Manager) Queued() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.queued))
	for _, e := range m.queued {
		out = append(out, *e)
	}
	return out
}

// Len returns the total entry count across all slots. O(1).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// IsEmpty reports whether every slot is empty.
func (m *Manager) IsEmpty() bool {
	return m.Len() == 0
}

func copyEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
