package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentworkforce/diarysync/internal/config"
	"github.com/agentworkforce/diarysync/internal/diary"
	"github.com/agentworkforce/diarysync/internal/diarysync"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		editsPath string
		from      string
		days      int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Apply edits appended to a JSON-lines file until interrupted",
		Long: `watch tails --edits and applies every new line through the debounced
engine. Each line is an object such as
  {"section":"urges","date":"2024-05-01","name":"Self-Harm","field":"level","value":"7"}
The period is refreshed from the backend on a jittered interval. On SIGINT or
SIGTERM pending edits are flushed before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(editsPath) == "" {
				return errors.New("--edits is required")
			}
			dates, err := diary.PeriodDates(from, days)
			if err != nil {
				return err
			}
			engine, closeEngine, err := a.openEngine(dates[0])
			if err != nil {
				return err
			}
			defer closeEngine()

			w, err := newEditWatcher(editsPath, a.logger)
			if err != nil {
				return err
			}
			a.loadPeriod(cmd.Context(), engine, dates)
			return w.run(cmd.Context(), engine, watchOptions{
				Dates:        dates,
				Interval:     a.cfg.Client.RefreshInterval,
				Jitter:       a.cfg.Client.RefreshJitter,
				FlushTimeout: a.cfg.Client.HTTPTimeout,
			})
		},
	}
	cmd.Flags().StringVar(&editsPath, "edits", "", "JSON-lines file to watch for edits")
	cmd.Flags().StringVar(&from, "from", time.Now().Format(diary.DateLayout), "first date of the period (YYYY-MM-DD)")
	cmd.Flags().IntVar(&days, "days", 7, "number of days in the period")
	return cmd
}

type watchOptions struct {
	Dates        []string
	Interval     time.Duration
	Jitter       float64
	FlushTimeout time.Duration
}

// editLine is one line of the edits file.
type editLine struct {
	Section  string          `json:"section"`
	Date     string          `json:"date"`
	Category string          `json:"category,omitempty"`
	Name     string          `json:"name,omitempty"`
	Field    string          `json:"field,omitempty"`
	Value    json.RawMessage `json:"value"`
}

func (e editLine) resolve() (diary.FieldPath, diary.Value, error) {
	section, err := diary.ParseSection(e.Section)
	if err != nil {
		return diary.FieldPath{}, diary.Value{}, err
	}
	path := diary.FieldPath{Section: section, Date: e.Date, Category: e.Category, Name: e.Name, Field: e.Field}
	if err := path.Validate(); err != nil {
		return diary.FieldPath{}, diary.Value{}, err
	}
	raw := bytes.TrimSpace(e.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return path, diary.Value{}, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		// Bare numbers and booleans are taken verbatim.
		text = string(raw)
	}
	value, err := parseValue(section, text)
	if err != nil {
		return diary.FieldPath{}, diary.Value{}, err
	}
	return path, value, nil
}

// editTailer returns complete lines appended to a file since the last read.
type editTailer struct {
	path    string
	offset  int64
	partial []byte
}

// newEditTailer starts at the current end of the file so only edits written
// after startup are applied.
func newEditTailer(path string) (*editTailer, error) {
	t := &editTailer{path: path}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		t.offset = info.Size()
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	return t, nil
}

func (t *editTailer) readLines() ([][]byte, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < t.offset {
		// Truncated or replaced.
		t.offset = 0
		t.partial = nil
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(buf[:i]); len(line) > 0 {
			lines = append(lines, line)
		}
		buf = buf[i+1:]
	}
	t.partial = append([]byte(nil), buf...)
	return lines, nil
}

type editWatcher struct {
	path    string
	tailer  *editTailer
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

func newEditWatcher(path string, logger zerolog.Logger) (*editWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	tailer, err := newEditTailer(abs)
	if err != nil {
		return nil, fmt.Errorf("open edits file: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so the file may be created or replaced later.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &editWatcher{path: abs, tailer: tailer, watcher: watcher, logger: logger}, nil
}

// run applies edits until ctx is done, then flushes pending writes. The
// watcher is closed on return.
func (w *editWatcher) run(ctx context.Context, engine *diarysync.Engine, opts watchOptions) error {
	defer w.watcher.Close()

	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(interval, opts.Jitter, rng.Float64()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Bool("pending", engine.HasPendingChanges()).Msg("watch stopping, flushing edits")
			return w.flush(engine, opts.FlushTimeout)
		case event, ok := <-w.watcher.Events:
			if !ok {
				return w.flush(engine, opts.FlushTimeout)
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.apply(engine)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return w.flush(engine, opts.FlushTimeout)
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		case <-timer.C:
			// Catch lines whose events were coalesced or dropped.
			w.apply(engine)
			refreshCtx, cancel := context.WithTimeout(ctx, flushTimeout(opts.FlushTimeout))
			if err := engine.LoadPeriod(refreshCtx, opts.Dates); err != nil {
				w.logger.Warn().Err(err).Msg("period refresh failed")
			}
			cancel()
			timer.Reset(jitteredIntervalWithSample(interval, opts.Jitter, rng.Float64()))
		}
	}
}

func (w *editWatcher) apply(engine *diarysync.Engine) {
	lines, err := w.tailer.readLines()
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("read edits failed")
		return
	}
	for _, line := range lines {
		var edit editLine
		if err := json.Unmarshal(line, &edit); err != nil {
			w.logger.Warn().Err(err).Str("line", string(line)).Msg("skipping malformed edit")
			continue
		}
		path, value, err := edit.resolve()
		if err != nil {
			w.logger.Warn().Err(err).Str("line", string(line)).Msg("skipping invalid edit")
			continue
		}
		if engine.SetField(path, value) {
			w.logger.Debug().Str("key", path.Key()).Msg("edit applied")
		}
	}
}

func (w *editWatcher) flush(engine *diarysync.Engine, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout(timeout))
	defer cancel()
	if err := engine.SaveAllNow(ctx); err != nil {
		return fmt.Errorf("flush pending edits: %w", err)
	}
	return nil
}

func flushTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = config.ClampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
