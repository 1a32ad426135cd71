// Package diarysync keeps a diary Record in memory, mirrors it to a durable
// local cache and pushes field edits to the persistence backend after a
// debounce window.
package diarysync

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentworkforce/diarysync/internal/diary"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FetchedSections are the sections a period load reads from the backend.
// Urges are written but not read back; medications never leave the device.
var FetchedSections = []diary.Section{
	diary.SectionSleep,
	diary.SectionEmotions,
	diary.SectionSkills,
	diary.SectionEvents,
}

const defaultFetchConcurrency = 8

// WriteError reports a field write the backend did not accept.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// LoadError reports a period read that failed on one section and date.
type LoadError struct {
	Section diary.Section
	Date    string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s/%s: %v", e.Section, e.Date, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Synchronizer performs single-field writes and whole-period reads against
// a RemoteClient. It holds no state of its own.
type Synchronizer struct {
	client      RemoteClient
	concurrency int
	logger      zerolog.Logger
}

func NewSynchronizer(client RemoteClient, concurrency int, logger *zerolog.Logger) *Synchronizer {
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Synchronizer{client: client, concurrency: concurrency, logger: l}
}

// SaveField issues exactly one backend write for p. Writing the same value
// twice leaves the backend in the same state.
func (s *Synchronizer) SaveField(ctx context.Context, p diary.FieldPath, v diary.Value) error {
	body, err := diary.WriteBody(p, v)
	if err != nil {
		return &WriteError{Key: p.Key(), Err: err}
	}
	if _, err := s.client.Save(ctx, p.Section, p.Date, body); err != nil {
		return &WriteError{Key: p.Key(), Err: err}
	}
	s.logger.Debug().Str("key", p.Key()).Msg("field persisted")
	return nil
}

// FetchPeriod reads every fetched section for each date concurrently and
// assembles a fresh Record. Missing documents are skipped. Any other failure,
// including a document that does not match its schema, aborts the load.
func (s *Synchronizer) FetchPeriod(ctx context.Context, dates []string) (*diary.Record, error) {
	type job struct {
		section diary.Section
		date    string
	}
	jobs := make([]job, 0, len(dates)*len(FetchedSections))
	for _, date := range dates {
		for _, section := range FetchedSections {
			jobs = append(jobs, job{section: section, date: date})
		}
	}

	docs := make([]diary.Doc, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			raw, err := s.client.Fetch(gctx, j.section, j.date)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return &LoadError{Section: j.section, Date: j.date, Err: err}
			}
			if len(raw) == 0 || string(raw) == "null" {
				return nil
			}
			doc, err := diary.DecodeDoc(j.section, j.date, raw)
			if err != nil {
				return &LoadError{Section: j.section, Date: j.date, Err: err}
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	record := diary.New()
	for i, doc := range docs {
		if doc == nil {
			continue
		}
		doc.ApplyTo(record)
		s.logger.Trace().Str("section", string(jobs[i].section)).Str("date", jobs[i].date).Msg("document applied")
	}
	return record, nil
}
