package diarysync

import (
	"context"
	"errors"
	"testing"

	"github.com/agentworkforce/diarysync/internal/diary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveFieldIsIdempotent(t *testing.T) {
	client := newFakeClient()
	s := NewSynchronizer(client, 0, nil)
	p := diary.UrgeField(week, "Self-Harm", diary.FieldAction)

	require.NoError(t, s.SaveField(context.Background(), p, diary.Text("yes")))
	first := string(client.docs[docKey(diary.SectionUrges, week)])
	require.NoError(t, s.SaveField(context.Background(), p, diary.Text("yes")))
	assert.JSONEq(t, first, string(client.docs[docKey(diary.SectionUrges, week)]))
	assert.JSONEq(t, `{"date":"2024-05-01","urges":{"Self-Harm":{"action":"yes"}}}`, first)
}

func TestSaveFieldRejectsLocalSections(t *testing.T) {
	client := newFakeClient()
	s := NewSynchronizer(client, 0, nil)

	err := s.SaveField(context.Background(), diary.MedicationField(week), diary.Text("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, diary.ErrLocalOnly)
	assert.Empty(t, client.recorded())
}

func TestSaveFieldWrapsBackendError(t *testing.T) {
	client := newFakeClient()
	client.setSaveErr(errors.New("boom"))
	s := NewSynchronizer(client, 0, nil)

	err := s.SaveField(context.Background(), diary.EventField(week), diary.Text("x"))
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "events_2024-05-01", writeErr.Key)
	assert.Contains(t, err.Error(), "boom")
}

func TestFetchPeriodSkipsMissingDocuments(t *testing.T) {
	client := newFakeClient()
	client.seed(diary.SectionSkills, "2024-05-02", `{"date":"2024-05-02","skills":[
		{"category":"mindfulness","skill":"Observe","used":true},
		{"category":"mindfulness","skill":"Describe","used":false}
	]}`)
	client.seed(diary.SectionSkills, "2024-05-03", `{"date":"2024-05-03","skills":[{"category":"mindfulness","skill":"Observe","used":false}]}`)
	s := NewSynchronizer(client, 2, nil)

	record, err := s.FetchPeriod(context.Background(), []string{"2024-05-01", "2024-05-02", "2024-05-03"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"2024-05-02": true, "2024-05-03": false}, record.Skills["mindfulness"]["Observe"])
	assert.Equal(t, map[string]bool{"2024-05-02": false}, record.Skills["mindfulness"]["Describe"])
	assert.Empty(t, record.Sleep)
	assert.Empty(t, record.Events)
	for _, section := range FetchedSections {
		assert.Equal(t, 3, client.fetchCount(section), section)
	}
}

func TestFetchPeriodTreatsNullAsMissing(t *testing.T) {
	client := newFakeClient()
	client.overrides[docKey(diary.SectionEvents, week)] = "null"
	s := NewSynchronizer(client, 0, nil)

	record, err := s.FetchPeriod(context.Background(), []string{week})
	require.NoError(t, err)
	assert.True(t, diary.Equal(diary.New(), record))
}

func TestFetchPeriodReportsSectionAndDate(t *testing.T) {
	client := newFakeClient()
	client.overrides[docKey(diary.SectionEmotions, "2024-05-02")] = `{"date":"2024-05-02","emotions":["Joy"]}`
	s := NewSynchronizer(client, 0, nil)

	_, err := s.FetchPeriod(context.Background(), []string{"2024-05-01", "2024-05-02"})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, diary.SectionEmotions, loadErr.Section)
	assert.Equal(t, "2024-05-02", loadErr.Date)
	assert.ErrorIs(t, err, diary.ErrInvalidDocument)
}
