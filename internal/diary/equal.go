package diary

// Equal reports whether two Records hold the same data. Leaves compare
// strictly; a key mapped to an empty container is the same as a missing key,
// at every level of nesting. Equal only decides whether to swap snapshots, so
// a nil Record is treated as empty.
func Equal(a, b *Record) bool {
	if a == b {
		return true
	}
	if a == nil {
		a = New()
	}
	if b == nil {
		b = New()
	}
	return mapsEqual(a.Sleep, b.Sleep, eqComparable[SleepEntry], SleepEntry.isEmpty) &&
		mapsEqual(a.Emotions, b.Emotions, emotionDaysEqual, isEmptyMap[string]) &&
		mapsEqual(a.Urges, b.Urges, urgeDaysEqual, urgeDayEmpty) &&
		mapsEqual(a.Skills, b.Skills, skillCategoriesEqual, skillCategoryEmpty) &&
		mapsEqual(a.Events, b.Events, eqComparable[string], never[string]) &&
		mapsEqual(a.Medications, b.Medications, eqComparable[string], never[string])
}

// mapsEqual compares two maps key by key. A key present on one side only is
// ignored when its value is empty.
func mapsEqual[V any](a, b map[string]V, eq func(V, V) bool, empty func(V) bool) bool {
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			if !empty(av) {
				return false
			}
			continue
		}
		if !eq(av, bv) {
			return false
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok && !empty(bv) {
			return false
		}
	}
	return true
}

func eqComparable[V comparable](a, b V) bool { return a == b }

func never[V any](V) bool { return false }

func isEmptyMap[V any](m map[string]V) bool { return len(m) == 0 }

func emotionDaysEqual(a, b map[string]string) bool {
	return mapsEqual(a, b, eqComparable[string], never[string])
}

func urgeDaysEqual(a, b map[string]UrgeEntry) bool {
	return mapsEqual(a, b, eqComparable[UrgeEntry], UrgeEntry.isEmpty)
}

func urgeDayEmpty(day map[string]UrgeEntry) bool {
	for _, entry := range day {
		if !entry.isEmpty() {
			return false
		}
	}
	return true
}

// Skills nest category -> skill -> date -> used.

func skillDatesEqual(a, b map[string]bool) bool {
	return mapsEqual(a, b, eqComparable[bool], never[bool])
}

func skillCategoriesEqual(a, b map[string]map[string]bool) bool {
	return mapsEqual(a, b, skillDatesEqual, isEmptyMap[bool])
}

func skillCategoryEmpty(category map[string]map[string]bool) bool {
	for _, dates := range category {
		if len(dates) > 0 {
			return false
		}
	}
	return true
}
