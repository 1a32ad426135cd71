package diarysync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/diarysync/internal/debounce"
	"github.com/agentworkforce/diarysync/internal/diary"
	"github.com/agentworkforce/diarysync/internal/localcache"
	"github.com/rs/zerolog"
)

const DefaultNamespace = "diaryCard"

var (
	ErrClosed       = errors.New("engine closed")
	ErrInvalidInput = errors.New("invalid input")
)

type EngineOptions struct {
	// Namespace prefixes cache keys: "<namespace>-<anchor>".
	Namespace string
	// Anchor is the first date of the period the cache entry belongs to.
	// LoadPeriod replaces it with the first date it is given.
	Anchor string
	// Cache is the durable local store. Nil disables caching.
	Cache localcache.Cache
	// Debounce is the quiet period before a field write is sent.
	Debounce time.Duration
	Clock    debounce.Clock
	// FetchConcurrency bounds parallel GETs during LoadPeriod.
	FetchConcurrency int
	Logger           *zerolog.Logger
	// OnError receives write and load failures. It may be called from a
	// timer goroutine and must not block.
	OnError func(error)
}

// Engine owns the in-memory Record, the outbox of unconfirmed writes and the
// debounce scheduler that drains it. Every method is safe for concurrent use.
type Engine struct {
	sync      *Synchronizer
	cache     localcache.Cache
	scheduler *debounce.Scheduler
	outbox    *outbox
	namespace string
	logger    zerolog.Logger
	onError   func(error)

	mu     sync.Mutex
	record *diary.Record
	// confirmed is the Record as last read from the backend.
	confirmed *diary.Record
	anchor    string
	closed    bool
}

func NewEngine(client RemoteClient, opts EngineOptions) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidInput)
	}
	anchor := strings.TrimSpace(opts.Anchor)
	if anchor != "" && !diary.ValidDate(anchor) {
		return nil, fmt.Errorf("%w: anchor %q is not YYYY-MM-DD", ErrInvalidInput, anchor)
	}
	namespace := strings.TrimSpace(opts.Namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "diarysync").Logger()

	e := &Engine{
		sync:  NewSynchronizer(client, opts.FetchConcurrency, &logger),
		cache: opts.Cache,
		scheduler: debounce.New(debounce.Options{
			Delay:  opts.Debounce,
			Clock:  opts.Clock,
			Logger: &logger,
		}),
		outbox:    newOutbox(),
		namespace: namespace,
		logger:    logger,
		onError:   opts.OnError,
		record:    diary.New(),
		confirmed: diary.New(),
		anchor:    anchor,
	}
	if anchor != "" {
		if cached, ok := e.readCache(anchor); ok {
			e.record = cached
		}
	}
	return e, nil
}

// Snapshot returns the current Record. It is never modified afterwards;
// a different pointer means the data changed.
func (e *Engine) Snapshot() *diary.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record
}

// Anchor returns the date the current cache entry is keyed by.
func (e *Engine) Anchor() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.anchor
}

// CacheKey is the durable cache key for a period anchored at anchor.
func (e *Engine) CacheKey(anchor string) string {
	return e.namespace + "-" + anchor
}

// GetField returns the value at p, or the zero Value when it is absent.
func (e *Engine) GetField(p diary.FieldPath) diary.Value {
	return e.Snapshot().Get(p)
}

// SetField applies an edit optimistically and reports whether the Record
// changed. An edit equal to the current value does nothing at all. A changed
// value is written to the cache right away and, for backend sections, sent
// after the debounce window. Blank text is kept locally and never sent.
func (e *Engine) SetField(p diary.FieldPath, v diary.Value) bool {
	if err := p.Validate(); err != nil {
		e.logger.Warn().Err(err).Str("key", p.Key()).Msg("edit rejected")
		return false
	}
	key := p.Key()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	next, changed := e.record.With(p, v)
	if !changed {
		e.mu.Unlock()
		return false
	}
	e.record = next
	anchor := e.anchor
	e.writeCache(anchor, next)

	switch {
	case !p.Section.Remote():
	case v.Empty(p.Section):
		e.scheduler.Cancel(key)
		e.outbox.drop(key)
	default:
		seq := e.outbox.stage(p, v)
		e.scheduler.Schedule(key, e.writeTask(p, v, seq))
	}
	e.mu.Unlock()
	return true
}

func (e *Engine) writeTask(p diary.FieldPath, v diary.Value, seq uint64) debounce.Task {
	key := p.Key()
	return func(ctx context.Context) error {
		if !e.outbox.begin(key, seq) {
			return nil
		}
		err := e.sync.SaveField(ctx, p, v)
		e.outbox.finish(key, seq, err)
		if err != nil {
			e.notify(err)
		}
		return err
	}
}

// FieldState reports the write lifecycle of p. Without an outbox entry a
// field is persisted when the backend returned its current value on the last
// LoadPeriod, cached when the value only comes from the local cache, and
// unset when it has no value.
func (e *Engine) FieldState(p diary.FieldPath) FieldState {
	if state, ok := e.outbox.state(p.Key()); ok {
		return state
	}
	if !p.Section.Remote() {
		return FieldUnset
	}
	e.mu.Lock()
	record, confirmed := e.record, e.confirmed
	e.mu.Unlock()

	value, ok := lookup(record, p)
	if !ok {
		return FieldUnset
	}
	if remote, ok := lookup(confirmed, p); ok && remote == value {
		return FieldPersisted
	}
	return FieldCached
}

// lookup returns the value at p and whether the Record holds one. Skill
// flags are present even when false.
func lookup(r *diary.Record, p diary.FieldPath) (diary.Value, bool) {
	if p.Section.Boolean() {
		used, ok := r.Skills[p.Category][p.Name][p.Date]
		return diary.Flag(used), ok
	}
	v := r.Get(p)
	return v, v.Text != ""
}

// HasPendingChanges reports whether any write is waiting, running, or failed
// and not yet retried.
func (e *Engine) HasPendingChanges() bool {
	return e.scheduler.Busy() || e.outbox.unsettled() > 0
}

// SaveAllNow sends every pending write immediately, retries failed ones, and
// waits for writes already in flight. The error joins every write failure;
// local values are kept either way.
func (e *Engine) SaveAllNow(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	for _, entry := range e.outbox.restageFailed() {
		e.scheduler.Schedule(entry.path.Key(), e.writeTask(entry.path, entry.value, entry.seq))
	}
	e.mu.Unlock()

	err := e.scheduler.Flush(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("save all finished with failures")
	}
	return err
}

// LoadPeriod hydrates the Record for a batch of dates. The cache entry keyed
// by the first date is adopted at once; the backend is then read for every
// date and its result replaces the Record only when it differs. Local-only
// medications, unfetched urges and unconfirmed edits survive the refresh.
// On a failed read the Record is left as it was.
func (e *Engine) LoadPeriod(ctx context.Context, dates []string) error {
	if len(dates) == 0 {
		return fmt.Errorf("%w: no dates to load", ErrInvalidInput)
	}
	for _, date := range dates {
		if !diary.ValidDate(date) {
			return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidInput, date)
		}
	}
	anchor := dates[0]

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.anchor = anchor
	since := e.outbox.mark()
	if cached, ok := e.readCache(anchor); ok {
		e.adoptLocked(e.outbox.overlay(cached, since), false)
	}
	e.mu.Unlock()

	fresh, err := e.sync.FetchPeriod(ctx, dates)
	if err != nil {
		e.logger.Warn().Err(err).Str("anchor", anchor).Msg("period refresh failed, keeping local record")
		e.notify(err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.confirmed = fresh
	merged := *fresh
	merged.Medications = e.record.Medications
	merged.Urges = e.record.Urges
	e.adoptLocked(e.outbox.overlay(&merged, since), true)
	return nil
}

// adoptLocked swaps in next unless it holds the same data as the current
// Record. persist rewrites the cache entry for the current anchor.
func (e *Engine) adoptLocked(next *diary.Record, persist bool) bool {
	if diary.Equal(e.record, next) {
		return false
	}
	e.record = next
	if persist {
		e.writeCache(e.anchor, next)
	}
	return true
}

// readCache returns the cached Record for anchor. A corrupt entry yields an
// empty Record.
func (e *Engine) readCache(anchor string) (*diary.Record, bool) {
	if e.cache == nil || anchor == "" {
		return nil, false
	}
	key := e.CacheKey(anchor)
	raw, ok, err := e.cache.Get(key)
	if err != nil {
		e.logger.Warn().Err(err).Str("cache_key", key).Msg("cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	record, err := diary.Decode(raw)
	if err != nil {
		e.logger.Warn().Err(err).Str("cache_key", key).Msg("cache entry corrupt, starting empty")
		return diary.New(), true
	}
	return record, true
}

func (e *Engine) writeCache(anchor string, record *diary.Record) {
	if e.cache == nil {
		return
	}
	if anchor == "" {
		e.logger.Debug().Msg("no anchor yet, cache write skipped")
		return
	}
	key := e.CacheKey(anchor)
	raw, err := record.Encode()
	if err == nil {
		err = e.cache.Set(key, raw)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("cache_key", key).Msg("cache write failed")
	}
}

// CancelAll drops every write still waiting for its debounce window and
// returns how many were dropped. Writes already sent are not interrupted.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.scheduler.CancelAll()
	e.outbox.discardPending()
	return n
}

// Close tears the engine down: pending writes are dropped, in-flight
// requests are aborted and later edits and loads are ignored.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.outbox.discardPending()
	e.mu.Unlock()
	e.scheduler.Close()
	return nil
}

func (e *Engine) notify(err error) {
	if e.onError != nil && err != nil {
		e.onError(err)
	}
}
