package diary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSetsValueWithoutMutatingReceiver(t *testing.T) {
	before := New()
	after, changed := before.With(SleepField("2024-05-01", FieldHoursSlept), Text("7"))
	require.True(t, changed)
	require.NotSame(t, before, after)

	assert.Equal(t, "7", after.Get(SleepField("2024-05-01", FieldHoursSlept)).Text)
	assert.Empty(t, before.Sleep, "receiver must stay untouched")
}

func TestWithEqualValueIsNoop(t *testing.T) {
	r, _ := New().With(EmotionField("2024-05-01", "Joy"), Text("3"))
	same, changed := r.With(EmotionField("2024-05-01", "Joy"), Text("3"))
	assert.False(t, changed)
	assert.Same(t, r, same)
}

func TestWithBlankOverAbsentIsNoop(t *testing.T) {
	r := New()
	same, changed := r.With(EventField("2024-05-01"), Text(""))
	assert.False(t, changed)
	assert.Same(t, r, same)
	_, present := r.Events["2024-05-01"]
	assert.False(t, present, "absent keys stay absent")
}

func TestWithCreatesIntermediateSkillMaps(t *testing.T) {
	path := SkillField("2024-05-01", "mindfulness", "Wise Mind")
	r, changed := New().With(path, Flag(true))
	require.True(t, changed)
	assert.True(t, r.Get(path).Flag)
	assert.True(t, r.Skills["mindfulness"]["Wise Mind"]["2024-05-01"])
}

func TestWithSharesUntouchedSections(t *testing.T) {
	r, _ := New().With(EventField("2024-05-01"), Text("therapy"))
	r2, _ := r.With(EmotionField("2024-05-01", "Joy"), Text("4"))

	r2.Events["2024-05-02"] = "probe"
	assert.Equal(t, "probe", r.Events["2024-05-02"], "untouched sections are shared, not copied")
	delete(r2.Events, "2024-05-02")

	_, ok := r.Emotions["2024-05-01"]
	assert.False(t, ok, "touched section must be copied")
}

func TestWithUrgeKeepsSiblingField(t *testing.T) {
	r, _ := New().With(UrgeField("2024-05-01", "Self-Harm", FieldLevel), Text("7"))
	r, _ = r.With(UrgeField("2024-05-01", "Self-Harm", FieldAction), Text("no"))
	assert.Equal(t, UrgeEntry{Level: "7", Action: "no"}, r.Urges["2024-05-01"]["Self-Harm"])
}

func TestWithRejectsInvalidPath(t *testing.T) {
	r := New()
	for _, p := range []FieldPath{
		{Section: "diet", Date: "2024-05-01"},
		SleepField("05/01/2024", FieldHoursSlept),
		SleepField("2024-05-01", "naps"),
		UrgeField("2024-05-01", "Self-Harm", "intensity"),
		SkillField("2024-05-01", "", "Wise Mind"),
		EmotionField("2024-05-01", " "),
	} {
		same, changed := r.With(p, Text("1"))
		assert.False(t, changed, p.Key())
		assert.Same(t, r, same)
	}
}

func TestGetDefaultsForAbsentPaths(t *testing.T) {
	var nilRecord *Record
	assert.Equal(t, Value{}, nilRecord.Get(SleepField("2024-05-01", FieldHoursSlept)))
	r := New()
	assert.Equal(t, "", r.Get(UrgeField("2024-05-01", "Self-Harm", FieldLevel)).Text)
	assert.False(t, r.Get(SkillField("2024-05-01", "mindfulness", "Observe")).Flag)
}

func TestFieldPathKey(t *testing.T) {
	cases := map[string]FieldPath{
		"sleep_2024-05-01_hoursSlept":             SleepField("2024-05-01", FieldHoursSlept),
		"emotions_2024-05-01_Joy":                 EmotionField("2024-05-01", "Joy"),
		"urges_2024-05-01_Self-Harm_level":        UrgeField("2024-05-01", "Self-Harm", FieldLevel),
		"skills_2024-05-01_mindfulness_Wise Mind": SkillField("2024-05-01", "mindfulness", "Wise Mind"),
		"events_2024-05-01":                       EventField("2024-05-01"),
		"medications_2024-05-01":                  MedicationField("2024-05-01"),
	}
	for want, p := range cases {
		assert.Equal(t, want, p.Key())
	}
}

func TestFieldPathKeyEscapesSeparators(t *testing.T) {
	a := SkillField("2024-05-01", "core_mindfulness", "Wise Mind")
	b := SkillField("2024-05-01", "core", "mindfulness_Wise Mind")
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, "skills_2024-05-01_core%5Fmindfulness_Wise Mind", a.Key())

	assert.NotEqual(t, EmotionField("2024-05-01", "a%5Fb").Key(), EmotionField("2024-05-01", "a_b").Key())
}

func TestPeriodDates(t *testing.T) {
	dates, err := PeriodDates("2024-04-29", 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-04-29", "2024-04-30", "2024-05-01", "2024-05-02", "2024-05-03", "2024-05-04", "2024-05-05"}, dates)

	_, err = PeriodDates("yesterday", 7)
	assert.ErrorIs(t, err, ErrInvalidPath)
}
