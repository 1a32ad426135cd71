package diary

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Section is a top-level category of tracked data.
type Section string

const (
	SectionSleep       Section = "sleep"
	SectionEmotions    Section = "emotions"
	SectionUrges       Section = "urges"
	SectionSkills      Section = "skills"
	SectionEvents      Section = "events"
	SectionMedications Section = "medications"
)

// Sleep fields.
const (
	FieldHoursSlept     = "hoursSlept"
	FieldTroubleFalling = "troubleFalling"
	FieldTroubleStaying = "troubleStaying"
	FieldTroubleWaking  = "troubleWaking"
)

// Urge fields.
const (
	FieldLevel  = "level"
	FieldAction = "action"
)

const DateLayout = "2006-01-02"

var ErrInvalidPath = errors.New("invalid field path")

// ParseSection maps a section name to a Section.
func ParseSection(raw string) (Section, error) {
	switch s := Section(strings.ToLower(strings.TrimSpace(raw))); s {
	case SectionSleep, SectionEmotions, SectionUrges, SectionSkills, SectionEvents, SectionMedications:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown section %q", ErrInvalidPath, raw)
	}
}

// Remote reports whether the section is persisted by the backend.
// Medications stay on the device.
func (s Section) Remote() bool {
	return s != SectionMedications && s != ""
}

// Boolean reports whether leaves of this section hold a flag instead of text.
func (s Section) Boolean() bool {
	return s == SectionSkills
}

// FieldPath addresses one leaf of a Record.
//
//	sleep:       Date + Field (one of the sleep fields)
//	emotions:    Date + Name (emotion)
//	urges:       Date + Name (urge) + Field (level|action)
//	skills:      Date + Category + Name (skill)
//	events:      Date
//	medications: Date
type FieldPath struct {
	Section  Section
	Date     string
	Category string
	Name     string
	Field    string
}

func SleepField(date, field string) FieldPath {
	return FieldPath{Section: SectionSleep, Date: date, Field: field}
}

func EmotionField(date, emotion string) FieldPath {
	return FieldPath{Section: SectionEmotions, Date: date, Name: emotion}
}

func UrgeField(date, urge, field string) FieldPath {
	return FieldPath{Section: SectionUrges, Date: date, Name: urge, Field: field}
}

func SkillField(date, category, skill string) FieldPath {
	return FieldPath{Section: SectionSkills, Date: date, Category: category, Name: skill}
}

func EventField(date string) FieldPath {
	return FieldPath{Section: SectionEvents, Date: date}
}

func MedicationField(date string) FieldPath {
	return FieldPath{Section: SectionMedications, Date: date}
}

// Key is the composite identity used to coalesce writes to the same field,
// e.g. "sleep_2024-05-01_hoursSlept" or "urges_2024-05-01_Self-Harm_level".
// "_" and "%" inside names are escaped so distinct paths never share a key.
func (p FieldPath) Key() string {
	parts := []string{string(p.Section), p.Date}
	switch p.Section {
	case SectionSleep:
		parts = append(parts, p.Field)
	case SectionEmotions:
		parts = append(parts, keySegment(p.Name))
	case SectionUrges:
		parts = append(parts, keySegment(p.Name), p.Field)
	case SectionSkills:
		parts = append(parts, keySegment(p.Category), keySegment(p.Name))
	}
	return strings.Join(parts, "_")
}

var keySegmentEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

func keySegment(s string) string {
	return keySegmentEscaper.Replace(s)
}

func (p FieldPath) String() string {
	return p.Key()
}

// Validate checks that every segment the section needs is present.
func (p FieldPath) Validate() error {
	if _, err := ParseSection(string(p.Section)); err != nil {
		return err
	}
	if !ValidDate(p.Date) {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidPath, p.Date)
	}
	switch p.Section {
	case SectionSleep:
		switch p.Field {
		case FieldHoursSlept, FieldTroubleFalling, FieldTroubleStaying, FieldTroubleWaking:
		default:
			return fmt.Errorf("%w: unknown sleep field %q", ErrInvalidPath, p.Field)
		}
	case SectionEmotions:
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: emotion name is required", ErrInvalidPath)
		}
	case SectionUrges:
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: urge name is required", ErrInvalidPath)
		}
		if p.Field != FieldLevel && p.Field != FieldAction {
			return fmt.Errorf("%w: unknown urge field %q", ErrInvalidPath, p.Field)
		}
	case SectionSkills:
		if strings.TrimSpace(p.Category) == "" || strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: skill category and name are required", ErrInvalidPath)
		}
	}
	return nil
}

// ValidDate reports whether s is an ISO calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// PeriodDates returns n consecutive ISO dates starting at from.
func PeriodDates(from string, n int) ([]string, error) {
	start, err := time.Parse(DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidPath, from)
	}
	if n <= 0 {
		n = 7
	}
	dates := make([]string, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, start.AddDate(0, 0, i).Format(DateLayout))
	}
	return dates, nil
}

// Value is a leaf value: text for every section except skills, which use Flag.
type Value struct {
	Text string
	Flag bool
}

func Text(s string) Value { return Value{Text: s} }

func Flag(b bool) Value { return Value{Flag: b} }

// Empty reports whether v is the blank text value for the section. Blank
// values are kept locally but never sent to the backend. A false skill flag
// is a real answer, not a blank one.
func (v Value) Empty(section Section) bool {
	if section.Boolean() {
		return false
	}
	return v.Text == ""
}

// normalize drops the half of v the section does not use.
func (v Value) normalize(section Section) Value {
	if section.Boolean() {
		return Flag(v.Flag)
	}
	return Text(v.Text)
}

// Format renders v the way the section stores it.
func (v Value) Format(section Section) string {
	if section.Boolean() {
		return strconv.FormatBool(v.Flag)
	}
	return v.Text
}
