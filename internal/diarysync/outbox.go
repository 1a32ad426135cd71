package diarysync

import (
	"sync"

	"github.com/agentworkforce/diarysync/internal/diary"
)

// FieldState is where a field sits in its write lifecycle.
type FieldState int

const (
	FieldUnset FieldState = iota
	FieldPending
	FieldPersisting
	FieldPersisted
	FieldFailed
	// FieldCached holds a value restored from the local cache that the
	// backend has not confirmed since the engine started.
	FieldCached
)

func (s FieldState) String() string {
	switch s {
	case FieldPending:
		return "pending"
	case FieldPersisting:
		return "persisting"
	case FieldPersisted:
		return "persisted"
	case FieldFailed:
		return "failed"
	case FieldCached:
		return "cached"
	default:
		return "unset"
	}
}

type outboxEntry struct {
	path  diary.FieldPath
	value diary.Value
	state FieldState
	seq   uint64
	err   error
}

// outbox tracks field writes from the edit until the backend confirms them.
// Every staged edit gets a new sequence number; results of a write that was
// superseded by a later edit are ignored.
type outbox struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]*outboxEntry
}

func newOutbox() *outbox {
	return &outbox{entries: map[string]*outboxEntry{}}
}

func (o *outbox) stage(p diary.FieldPath, v diary.Value) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	o.entries[p.Key()] = &outboxEntry{path: p, value: v, state: FieldPending, seq: o.seq}
	return o.seq
}

// begin marks the write for seq as sent. It returns false when the entry was
// dropped or superseded, in which case the write must not be sent.
func (o *outbox) begin(key string, seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[key]
	if !ok || e.seq != seq {
		return false
	}
	e.state = FieldPersisting
	e.err = nil
	return true
}

func (o *outbox) finish(key string, seq uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[key]
	if !ok || e.seq != seq {
		return
	}
	if err != nil {
		e.state = FieldFailed
		e.err = err
		return
	}
	e.state = FieldPersisted
}

func (o *outbox) drop(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, key)
}

// discardPending forgets every edit that has not been sent yet.
func (o *outbox) discardPending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for key, e := range o.entries {
		if e.state == FieldPending {
			delete(o.entries, key)
			n++
		}
	}
	return n
}

// restageFailed moves failed entries back to pending under a new sequence
// number and returns them.
func (o *outbox) restageFailed() []outboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []outboxEntry
	for _, e := range o.entries {
		if e.state != FieldFailed {
			continue
		}
		o.seq++
		e.seq = o.seq
		e.state = FieldPending
		e.err = nil
		out = append(out, *e)
	}
	return out
}

func (o *outbox) state(key string) (FieldState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[key]
	if !ok {
		return FieldUnset, false
	}
	return e.state, true
}

// unsettled counts entries the backend has not confirmed.
func (o *outbox) unsettled() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.entries {
		if e.state != FieldPersisted {
			n++
		}
	}
	return n
}

// mark returns the latest sequence number handed out.
func (o *outbox) mark() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seq
}

// overlay re-applies on top of r every unconfirmed value and every value
// staged after since, even when already confirmed. A read that started at
// since cannot have observed those writes.
func (o *outbox) overlay(r *diary.Record, since uint64) *diary.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.entries {
		if e.state == FieldPersisted && e.seq <= since {
			continue
		}
		r, _ = r.With(e.path, e.value)
	}
	return r
}
