package diary

// Get returns the value at path, or the zero Value when any segment is absent.
func (r *Record) Get(p FieldPath) Value {
	if r == nil {
		return Value{}
	}
	switch p.Section {
	case SectionSleep:
		entry := r.Sleep[p.Date]
		switch p.Field {
		case FieldHoursSlept:
			return Text(entry.HoursSlept)
		case FieldTroubleFalling:
			return Text(entry.TroubleFalling)
		case FieldTroubleStaying:
			return Text(entry.TroubleStaying)
		case FieldTroubleWaking:
			return Text(entry.TroubleWaking)
		}
	case SectionEmotions:
		return Text(r.Emotions[p.Date][p.Name])
	case SectionUrges:
		entry := r.Urges[p.Date][p.Name]
		switch p.Field {
		case FieldLevel:
			return Text(entry.Level)
		case FieldAction:
			return Text(entry.Action)
		}
	case SectionSkills:
		return Flag(r.Skills[p.Category][p.Name][p.Date])
	case SectionEvents:
		return Text(r.Events[p.Date])
	case SectionMedications:
		return Text(r.Medications[p.Date])
	}
	return Value{}
}

// With returns a Record carrying v at path. When the current value already
// equals v, or the path is invalid, it returns r unchanged and false. The
// receiver is never modified; only the maps along path are copied.
func (r *Record) With(p FieldPath, v Value) (*Record, bool) {
	if p.Validate() != nil {
		return r, false
	}
	if current := r.Get(p); current == v.normalize(p.Section) {
		return r, false
	}

	next := r.shallow()
	switch p.Section {
	case SectionSleep:
		entry := next.Sleep[p.Date]
		switch p.Field {
		case FieldHoursSlept:
			entry.HoursSlept = v.Text
		case FieldTroubleFalling:
			entry.TroubleFalling = v.Text
		case FieldTroubleStaying:
			entry.TroubleStaying = v.Text
		case FieldTroubleWaking:
			entry.TroubleWaking = v.Text
		}
		next.Sleep = cloneMap(next.Sleep)
		next.Sleep[p.Date] = entry
	case SectionEmotions:
		day := cloneMap(next.Emotions[p.Date])
		day[p.Name] = v.Text
		next.Emotions = cloneMap(next.Emotions)
		next.Emotions[p.Date] = day
	case SectionUrges:
		day := cloneMap(next.Urges[p.Date])
		entry := day[p.Name]
		if p.Field == FieldLevel {
			entry.Level = v.Text
		} else {
			entry.Action = v.Text
		}
		day[p.Name] = entry
		next.Urges = cloneMap(next.Urges)
		next.Urges[p.Date] = day
	case SectionSkills:
		category := cloneMap(next.Skills[p.Category])
		skill := cloneMap(category[p.Name])
		skill[p.Date] = v.Flag
		category[p.Name] = skill
		next.Skills = cloneMap(next.Skills)
		next.Skills[p.Category] = category
	case SectionEvents:
		next.Events = cloneMap(next.Events)
		next.Events[p.Date] = v.Text
	case SectionMedications:
		next.Medications = cloneMap(next.Medications)
		next.Medications[p.Date] = v.Text
	}
	return next, true
}
