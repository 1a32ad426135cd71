// Package diary holds the diary-card Record: the structured document for one
// tracking period, the field paths that address its leaves, and the wire
// documents exchanged with the persistence backend.
//
// A Record is treated as immutable once published. Setters return a new
// Record that shares every untouched map with the old one, so a reader that
// captured a *Record before an edit keeps observing a consistent snapshot.
package diary

import (
	"encoding/json"
	"errors"
)

// SleepEntry is one night of sleep tracking.
type SleepEntry struct {
	HoursSlept     string `json:"hoursSlept,omitempty"`
	TroubleFalling string `json:"troubleFalling,omitempty"`
	TroubleStaying string `json:"troubleStaying,omitempty"`
	TroubleWaking  string `json:"troubleWaking,omitempty"`
}

func (e SleepEntry) isEmpty() bool {
	return e == SleepEntry{}
}

// UrgeEntry is the level/action pair recorded for one urge on one day.
type UrgeEntry struct {
	Level  string `json:"level,omitempty"`
	Action string `json:"action,omitempty"`
}

func (e UrgeEntry) isEmpty() bool {
	return e == UrgeEntry{}
}

// Record is the full document for a tracking period. Every section is keyed
// by ISO date except Skills, which is category -> skill -> date.
type Record struct {
	Sleep       map[string]SleepEntry                 `json:"sleep"`
	Emotions    map[string]map[string]string          `json:"emotions"`
	Urges       map[string]map[string]UrgeEntry       `json:"urges"`
	Skills      map[string]map[string]map[string]bool `json:"skills"`
	Events      map[string]string                     `json:"events"`
	Medications map[string]string                     `json:"medications"`
}

// New returns an empty Record with every section present.
func New() *Record {
	r := &Record{}
	r.fillSections()
	return r
}

func (r *Record) fillSections() {
	if r.Sleep == nil {
		r.Sleep = map[string]SleepEntry{}
	}
	if r.Emotions == nil {
		r.Emotions = map[string]map[string]string{}
	}
	if r.Urges == nil {
		r.Urges = map[string]map[string]UrgeEntry{}
	}
	if r.Skills == nil {
		r.Skills = map[string]map[string]map[string]bool{}
	}
	if r.Events == nil {
		r.Events = map[string]string{}
	}
	if r.Medications == nil {
		r.Medications = map[string]string{}
	}
}

// ErrCorruptRecord is returned by Decode when the payload is not a Record.
var ErrCorruptRecord = errors.New("corrupt record")

// Encode serializes the Record in its cache format.
func (r *Record) Encode() (string, error) {
	if r == nil {
		r = New()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a cached Record. Missing sections come back as empty maps.
func Decode(raw string) (*Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, errors.Join(ErrCorruptRecord, err)
	}
	r.fillSections()
	return &r, nil
}

// shallow returns a copy of the Record struct; section maps are shared.
func (r *Record) shallow() *Record {
	if r == nil {
		return New()
	}
	next := *r
	next.fillSections()
	return &next
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
