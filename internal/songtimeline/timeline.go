/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package songtimeline detects song boundaries within a passage. A passage
// may contain several songs (an album side, a DJ mix) with optional gaps
// between them; the engine consults the timeline once per position update and
// emits a boundary event when playback moves into a different song or gap.
package songtimeline

import (
	"sort"

	"github.com/google/uuid"
)

// Entry is a song (or, with a nil SongID, a gap) occupying a tick range
// within the passage.
type Entry struct {
	SongID    *uuid.UUID
	StartTick int64
	EndTick   int64
}

// Timeline holds the sorted song entries of one passage. The index of the
// entry playback is currently inside is cached, so the common case of a
// linearly advancing position checks one entry.
type Timeline struct {
	entries []Entry

	// currentIndex is nil before the first check; len(entries) encodes
	// "in a gap between entries".
	currentIndex *int
}

// New builds a timeline from entries, sorting them by start tick.
func New(entries []Entry) *Timeline {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTick < sorted[j].StartTick })
	return &Timeline{entries: sorted}
}

// Len returns the number of entries.
func (t *Timeline) Len() int { return len(t.entries) }

// CheckBoundary reports whether the position crossed into a different song
// or gap since the previous call, and the song now playing (nil in a gap).
// The first call establishes the position and never reports a crossing.
func (t *Timeline) CheckBoundary(positionTick int64) (crossed bool, songID *uuid.UUID) {
	idx := t.indexAt(positionTick)

	if t.currentIndex == nil {
		t.currentIndex = &idx
		return false, t.songAt(idx)
	}

	if *t.currentIndex == idx {
		return false, t.songAt(idx)
	}

	// A crossing is a change of entry index; adjacent entries are
	// distinct even when they reference the same song.
	t.currentIndex = &idx
	return true, t.songAt(idx)
}

// indexAt finds the entry containing the position, or len(entries) when the
// position falls in a gap. The cached index is tried first.
func (t *Timeline) indexAt(positionTick int64) int {
	if t.currentIndex != nil {
		i := *t.currentIndex
		if i < len(t.entries) && contains(t.entries[i], positionTick) {
			return i
		}
	}
	for i, e := range t.entries {
		if contains(e, positionTick) {
			return i
		}
	}
	return len(t.entries)
}

func (t *Timeline) songAt(idx int) *uuid.UUID {
	if idx < 0 || idx >= len(t.entries) {
		return nil
	}
	return t.entries[idx].SongID
}

func contains(e Entry, tick int64) bool {
	return tick >= e.StartTick && tick < e.EndTick
}
