package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentworkforce/diarysync/internal/diary"
	"github.com/agentworkforce/diarysync/internal/diarystore"
	"github.com/agentworkforce/diarysync/internal/diarysync"
	"github.com/agentworkforce/diarysync/internal/httpapi"
	"github.com/rs/zerolog"
)

func TestEditLineResolve(t *testing.T) {
	cases := []struct {
		line      editLine
		wantPath  diary.FieldPath
		wantValue diary.Value
		wantErr   bool
	}{
		{
			line:      editLine{Section: "urges", Date: "2024-05-01", Name: "Self-Harm", Field: "level", Value: []byte(`"7"`)},
			wantPath:  diary.UrgeField("2024-05-01", "Self-Harm", diary.FieldLevel),
			wantValue: diary.Text("7"),
		},
		{
			line:      editLine{Section: "sleep", Date: "2024-05-01", Field: "hoursSlept", Value: []byte(`6.5`)},
			wantPath:  diary.SleepField("2024-05-01", diary.FieldHoursSlept),
			wantValue: diary.Text("6.5"),
		},
		{
			line:      editLine{Section: "skills", Date: "2024-05-01", Category: "mindfulness", Name: "Wise Mind", Value: []byte(`true`)},
			wantPath:  diary.SkillField("2024-05-01", "mindfulness", "Wise Mind"),
			wantValue: diary.Flag(true),
		},
		{
			line:      editLine{Section: "events", Date: "2024-05-01", Value: []byte(`null`)},
			wantPath:  diary.EventField("2024-05-01"),
			wantValue: diary.Value{},
		},
		{line: editLine{Section: "skills", Date: "2024-05-01", Category: "c", Name: "s", Value: []byte(`"maybe"`)}, wantErr: true},
		{line: editLine{Section: "sleep", Date: "05/01/2024", Field: "hoursSlept", Value: []byte(`"7"`)}, wantErr: true},
		{line: editLine{Section: "dreams", Date: "2024-05-01"}, wantErr: true},
	}
	for i, tc := range cases {
		path, value, err := tc.line.resolve()
		if tc.wantErr {
			if err == nil {
				t.Fatalf("case %d: expected error", i)
			}
			continue
		}
		if err != nil {
			t.Fatalf("case %d: unexpected error %v", i, err)
		}
		if path != tc.wantPath || value != tc.wantValue {
			t.Fatalf("case %d: expected %+v=%+v, got %+v=%+v", i, tc.wantPath, tc.wantValue, path, value)
		}
	}
}

func TestEditTailerReadsOnlyNewCompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edits.jsonl")
	if err := os.WriteFile(path, []byte("{\"old\":true}\n"), 0o600); err != nil {
		t.Fatalf("seed edits file: %v", err)
	}
	tailer, err := newEditTailer(path)
	if err != nil {
		t.Fatalf("new tailer: %v", err)
	}

	appendFile(t, path, "{\"a\":1}\n{\"b\":")
	lines, err := tailer.readLines()
	if err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != `{"a":1}` {
		t.Fatalf("expected only the new complete line, got %q", lines)
	}

	appendFile(t, path, "2}\n\n")
	lines, err = tailer.readLines()
	if err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != `{"b":2}` {
		t.Fatalf("expected the completed partial line, got %q", lines)
	}

	if err := os.WriteFile(path, []byte("{\"c\":3}\n"), 0o600); err != nil {
		t.Fatalf("truncate edits file: %v", err)
	}
	lines, err = tailer.readLines()
	if err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != `{"c":3}` {
		t.Fatalf("expected reread after truncation, got %q", lines)
	}
}

func TestEditTailerMissingFile(t *testing.T) {
	tailer, err := newEditTailer(filepath.Join(t.TempDir(), "later.jsonl"))
	if err != nil {
		t.Fatalf("new tailer: %v", err)
	}
	lines, err := tailer.readLines()
	if err != nil || len(lines) != 0 {
		t.Fatalf("expected no lines and no error, got %q %v", lines, err)
	}
}

func TestWatchAppliesEditsAndFlushesOnStop(t *testing.T) {
	store := diarystore.NewMemoryStore()
	ts := httptest.NewServer(httpapi.NewServer(store))
	defer ts.Close()
	token, err := httpapi.SignToken("dev-secret", "client-1", []string{httpapi.ScopeRead, httpapi.ScopeWrite}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	engine, err := diarysync.NewEngine(diarysync.NewHTTPClient(ts.URL, token, nil), diarysync.EngineOptions{
		Anchor:   "2024-05-01",
		Debounce: time.Hour,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	path := filepath.Join(t.TempDir(), "edits.jsonl")
	w, err := newEditWatcher(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.run(ctx, engine, watchOptions{
			Dates:        []string{"2024-05-01"},
			Interval:     20 * time.Millisecond,
			FlushTimeout: 5 * time.Second,
		})
	}()

	appendFile(t, path, `{"section":"events","date":"2024-05-01","value":"called a friend"}`+"\n")
	event := diary.EventField("2024-05-01")
	deadline := time.Now().Add(5 * time.Second)
	for engine.GetField(event) != diary.Text("called a friend") {
		if time.Now().After(deadline) {
			t.Fatalf("edit was not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !engine.HasPendingChanges() {
		t.Fatalf("expected the edit to wait for its debounce period")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("watch did not stop")
	}

	doc, err := store.Get(context.Background(), diarystore.Key{Owner: "client-1", Section: "events", Date: "2024-05-01"})
	if err != nil {
		if errors.Is(err, diarystore.ErrNotFound) {
			t.Fatalf("edit was not flushed to the backend")
		}
		t.Fatalf("read stored document: %v", err)
	}
	if string(doc) != `{"date":"2024-05-01","text":"called a friend"}` {
		t.Fatalf("unexpected stored document %s", doc)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 10 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 8*time.Second {
		t.Fatalf("expected min jitter interval 8s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0.5); got != 10*time.Second {
		t.Fatalf("expected midpoint jitter interval 10s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 12*time.Second {
		t.Fatalf("expected max jitter interval 12s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 5, 0); got != time.Millisecond {
		t.Fatalf("expected clamped ratio to bottom out at 1ms, got %s", got)
	}
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("append %s: %v", path, err)
	}
}
