// Package worker runs delegated sub-sessions and provides the coordination
// board sibling workers share.
//
// # Board
//
// The board is an append-only log of tagged notes. Workers never edit or
// remove a note; they announce claims, progress and completion by appending
// and read by filtering on tag or sequence number. A claim is settled on
// read: the first claim note for a resource wins.
//
// # Spawner
//
// Spawner implements capability.Worker. Each worker is a nested kernel and
// session pair with its own history, budgets and in-memory transport, run on
// a context detached from the spawning intent so that cancelling a worker
// never reaches its parent.
package worker

import (
	"slices"
	"sync"
	"time"
)

// Board tags.
const (
	TagClaim    = "claim"
	TagProgress = "progress"
	TagDone     = "done"
)

type (
	// Note is one board entry.
	Note struct {
		// Seq orders notes; the first note has Seq 1.
		Seq uint64 `json:"seq"`
		// Author is the worker ID that appended the note.
		Author string `json:"author"`
		// Tag classifies the note.
		Tag string `json:"tag"`
		// Body is the note content. For claims it names the resource.
		Body string `json:"body"`
		// At is the append time.
		At time.Time `json:"at"`
	}

	// Board is the shared coordination surface. It is safe for concurrent
	// use.
	Board struct {
		mu    sync.RWMutex
		notes []Note
		now   func() time.Time
	}
)

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{now: time.Now}
}

// Append adds a note and returns it with its sequence number.
func (b *Board) Append(author, tag, body string) Note {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := Note{Seq: uint64(len(b.notes)) + 1, Author: author, Tag: tag, Body: body, At: b.now().UTC()}
	b.notes = append(b.notes, n)
	return n
}

// Since returns the notes appended after seq.
func (b *Board) Since(seq uint64) []Note {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if seq >= uint64(len(b.notes)) {
		return nil
	}
	return slices.Clone(b.notes[seq:])
}

// ByTag returns the notes with the given tag, oldest first.
func (b *Board) ByTag(tag string) []Note {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Note
	for _, n := range b.notes {
		if n.Tag == tag {
			out = append(out, n)
		}
	}
	return out
}

// Claim appends a claim for resource and reports the owner. ok is true when
// author holds the claim, including when it claimed the resource before.
func (b *Board) Claim(author, resource string) (owner string, ok bool) {
	b.Append(author, TagClaim, resource)
	owner = b.Owner(resource)
	return owner, owner == author
}

// Owner returns the author of the first claim on resource, or "".
func (b *Board) Owner(resource string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, n := range b.notes {
		if n.Tag == TagClaim && n.Body == resource {
			return n.Author
		}
	}
	return ""
}

// Len returns the number of notes.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.notes)
}
