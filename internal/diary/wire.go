package diary

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrLocalOnly is returned when a write targets a section the backend does
// not store.
var ErrLocalOnly = errors.New("section is local only")

// Doc is a per-date document as returned by GET <section>/<date>.
type Doc interface {
	// ApplyTo copies the document into a Record that is still being built.
	ApplyTo(r *Record)
	// DocDate is the date the document says it belongs to.
	DocDate() string
}

type SleepDoc struct {
	Date string `json:"date"`
	SleepEntry
}

type EmotionsDoc struct {
	Date     string            `json:"date"`
	Emotions map[string]string `json:"emotions,omitempty"`
}

type UrgesDoc struct {
	Date  string               `json:"date"`
	Urges map[string]UrgeEntry `json:"urges,omitempty"`
}

type SkillUse struct {
	Category string `json:"category"`
	Skill    string `json:"skill"`
	Used     bool   `json:"used"`
}

type SkillsDoc struct {
	Date   string     `json:"date"`
	Skills []SkillUse `json:"skills,omitempty"`
}

type EventDoc struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

func (d SleepDoc) DocDate() string    { return d.Date }
func (d EmotionsDoc) DocDate() string { return d.Date }
func (d UrgesDoc) DocDate() string    { return d.Date }
func (d SkillsDoc) DocDate() string   { return d.Date }
func (d EventDoc) DocDate() string    { return d.Date }

func (d SleepDoc) ApplyTo(r *Record) {
	if d.SleepEntry.isEmpty() {
		return
	}
	r.Sleep[d.Date] = d.SleepEntry
}

func (d EmotionsDoc) ApplyTo(r *Record) {
	if len(d.Emotions) == 0 {
		return
	}
	r.Emotions[d.Date] = cloneMap(d.Emotions)
}

func (d UrgesDoc) ApplyTo(r *Record) {
	if len(d.Urges) == 0 {
		return
	}
	r.Urges[d.Date] = cloneMap(d.Urges)
}

func (d SkillsDoc) ApplyTo(r *Record) {
	for _, use := range d.Skills {
		category := r.Skills[use.Category]
		if category == nil {
			category = map[string]map[string]bool{}
			r.Skills[use.Category] = category
		}
		dates := category[use.Skill]
		if dates == nil {
			dates = map[string]bool{}
			category[use.Skill] = dates
		}
		dates[d.Date] = use.Used
	}
}

func (d EventDoc) ApplyTo(r *Record) {
	if d.Text == "" {
		return
	}
	r.Events[d.Date] = d.Text
}

// DecodeDoc validates raw against the section's document schema and decodes
// it. A response that does not match, or that belongs to a date other than
// date, is reported as ErrInvalidDocument.
func DecodeDoc(section Section, date string, raw []byte) (Doc, error) {
	if err := ValidateDoc(section, raw); err != nil {
		return nil, err
	}
	var (
		doc Doc
		err error
	)
	switch section {
	case SectionSleep:
		var d SleepDoc
		err = json.Unmarshal(raw, &d)
		doc = d
	case SectionEmotions:
		var d EmotionsDoc
		err = json.Unmarshal(raw, &d)
		doc = d
	case SectionUrges:
		var d UrgesDoc
		err = json.Unmarshal(raw, &d)
		doc = d
	case SectionSkills:
		var d SkillsDoc
		err = json.Unmarshal(raw, &d)
		doc = d
	case SectionEvents:
		var d EventDoc
		err = json.Unmarshal(raw, &d)
		doc = d
	default:
		return nil, fmt.Errorf("%w: %s", ErrLocalOnly, section)
	}
	if err != nil {
		return nil, errors.Join(ErrInvalidDocument, err)
	}
	if doc.DocDate() != date {
		return nil, fmt.Errorf("%w: %s document for %q returned for %q", ErrInvalidDocument, section, doc.DocDate(), date)
	}
	return doc, nil
}

// WriteBody builds the POST body that persists exactly one field.
func WriteBody(p FieldPath, v Value) (map[string]any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body := map[string]any{"date": p.Date}
	switch p.Section {
	case SectionSleep:
		body[p.Field] = v.Text
	case SectionEmotions:
		body["emotion"] = p.Name
		body["rating"] = v.Text
	case SectionUrges:
		body["urge"] = p.Name
		body[p.Field] = v.Text
	case SectionSkills:
		body["category"] = p.Category
		body["skill"] = p.Name
		body["used"] = v.Flag
	case SectionEvents:
		body["text"] = v.Text
	default:
		return nil, fmt.Errorf("%w: %s", ErrLocalOnly, p.Section)
	}
	return body, nil
}

type writeBody struct {
	Date           string  `json:"date"`
	HoursSlept     *string `json:"hoursSlept"`
	TroubleFalling *string `json:"troubleFalling"`
	TroubleStaying *string `json:"troubleStaying"`
	TroubleWaking  *string `json:"troubleWaking"`
	Emotion        string  `json:"emotion"`
	Rating         *string `json:"rating"`
	Urge           string  `json:"urge"`
	Level          *string `json:"level"`
	Action         *string `json:"action"`
	Category       string  `json:"category"`
	Skill          string  `json:"skill"`
	Used           *bool   `json:"used"`
	Text           *string `json:"text"`
}

// MergeWrite folds a validated POST body into the stored document for the
// same section and date. stored may be nil when nothing was saved yet.
// Applying the same write twice yields the same document.
func MergeWrite(section Section, date string, stored, write []byte) ([]byte, error) {
	if err := ValidateWrite(section, write); err != nil {
		return nil, err
	}
	var w writeBody
	if err := json.Unmarshal(write, &w); err != nil {
		return nil, errors.Join(ErrInvalidDocument, err)
	}
	if w.Date != date {
		return nil, fmt.Errorf("%w: body date %q does not match %q", ErrInvalidDocument, w.Date, date)
	}

	decodeStored := func(dst any) error {
		if len(stored) == 0 {
			return nil
		}
		if err := json.Unmarshal(stored, dst); err != nil {
			return errors.Join(ErrInvalidDocument, err)
		}
		return nil
	}

	var out any
	switch section {
	case SectionSleep:
		doc := SleepDoc{Date: date}
		if err := decodeStored(&doc); err != nil {
			return nil, err
		}
		setIfPresent(&doc.HoursSlept, w.HoursSlept)
		setIfPresent(&doc.TroubleFalling, w.TroubleFalling)
		setIfPresent(&doc.TroubleStaying, w.TroubleStaying)
		setIfPresent(&doc.TroubleWaking, w.TroubleWaking)
		out = doc
	case SectionEmotions:
		doc := EmotionsDoc{Date: date}
		if err := decodeStored(&doc); err != nil {
			return nil, err
		}
		doc.Emotions = cloneMap(doc.Emotions)
		doc.Emotions[w.Emotion] = deref(w.Rating)
		out = doc
	case SectionUrges:
		doc := UrgesDoc{Date: date}
		if err := decodeStored(&doc); err != nil {
			return nil, err
		}
		doc.Urges = cloneMap(doc.Urges)
		entry := doc.Urges[w.Urge]
		setIfPresent(&entry.Level, w.Level)
		setIfPresent(&entry.Action, w.Action)
		doc.Urges[w.Urge] = entry
		out = doc
	case SectionSkills:
		doc := SkillsDoc{Date: date}
		if err := decodeStored(&doc); err != nil {
			return nil, err
		}
		used := w.Used != nil && *w.Used
		replaced := false
		for i := range doc.Skills {
			if doc.Skills[i].Category == w.Category && doc.Skills[i].Skill == w.Skill {
				doc.Skills[i].Used = used
				replaced = true
			}
		}
		if !replaced {
			doc.Skills = append(doc.Skills, SkillUse{Category: w.Category, Skill: w.Skill, Used: used})
		}
		out = doc
	case SectionEvents:
		doc := EventDoc{Date: date, Text: deref(w.Text)}
		out = doc
	default:
		return nil, fmt.Errorf("%w: %s", ErrLocalOnly, section)
	}
	return json.Marshal(out)
}

func setIfPresent(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
