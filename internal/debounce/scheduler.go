// Package debounce coalesces rapid writes to the same logical field into one
// call. Each key owns at most one pending timer; scheduling a key again
// replaces its timer. Runs of the same key never overlap.
package debounce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultDelay = 500 * time.Millisecond

// Task is the deferred work for one key, usually a single remote write.
type Task func(ctx context.Context) error

type Options struct {
	// Delay is the quiet period before a scheduled task runs. Zero means
	// DefaultDelay.
	Delay  time.Duration
	Clock  Clock
	Logger *zerolog.Logger
}

type Scheduler struct {
	clock  Clock
	delay  time.Duration
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  map[string]*entry
	running  map[string]chan struct{}
	inFlight int
	closed   bool
}

type entry struct {
	task  Task
	timer Timer
}

func New(opts Options) *Scheduler {
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   clock,
		delay:   delay,
		logger:  logger.With().Str("component", "debounce").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		pending: map[string]*entry{},
		running: map[string]chan struct{}{},
	}
}

// Delay returns the configured quiet period.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule runs task after the default quiet period unless key is scheduled
// again first.
func (s *Scheduler) Schedule(key string, task Task) {
	s.ScheduleAfter(key, s.delay, task)
}

// ScheduleAfter is Schedule with an explicit delay. Any pending task for key
// is cancelled and replaced.
func (s *Scheduler) ScheduleAfter(key string, delay time.Duration, task Task) {
	if task == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug().Str("key", key).Msg("schedule after close ignored")
		return
	}
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
	}
	e := &entry{task: task}
	s.pending[key] = e
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(key, e) })
}

// Cancel drops the pending task for key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, key)
	return true
}

// CancelAll drops every pending task and returns how many were dropped.
// Tasks already running are not interrupted.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelAllLocked()
}

func (s *Scheduler) cancelAllLocked() int {
	n := len(s.pending)
	for key, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, key)
	}
	return n
}

// Close cancels pending tasks, aborts the context handed to running tasks
// and refuses further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	dropped := s.cancelAllLocked()
	s.mu.Unlock()
	s.cancel()
	if dropped > 0 {
		s.logger.Debug().Int("dropped", dropped).Msg("pending tasks cancelled on close")
	}
}

// Flush runs every pending task now, concurrently across keys, and then
// waits for tasks that were already running. The returned error joins every
// task failure.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	due := make(map[string]*run, len(s.pending))
	for key, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, key)
		due[key] = s.startLocked(key, e.task)
	}
	s.mu.Unlock()

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  []error
	)
	for key, r := range due {
		g.Go(func() error {
			if err := s.execute(ctx, key, r); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := s.waitRunning(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) fire(key string, e *entry) {
	s.mu.Lock()
	if s.pending[key] != e {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	r := s.startLocked(key, e.task)
	s.mu.Unlock()
	_ = s.execute(s.ctx, key, r)
}

// run is one registered execution of a task. It becomes visible to Flush and
// Busy as soon as it leaves the pending set.
type run struct {
	task Task
	done chan struct{}
	prev chan struct{}
}

// startLocked moves task into the running set for key, queued behind the
// previous run of key if there is one.
func (s *Scheduler) startLocked(key string, task Task) *run {
	r := &run{task: task, done: make(chan struct{}), prev: s.running[key]}
	s.running[key] = r.done
	s.inFlight++
	return r
}

// execute runs r once the previous run for key, if any, has finished.
func (s *Scheduler) execute(ctx context.Context, key string, r *run) error {
	defer func() {
		close(r.done)
		s.mu.Lock()
		if s.running[key] == r.done {
			delete(s.running, key)
		}
		s.inFlight--
		s.mu.Unlock()
	}()

	if r.prev != nil {
		select {
		case <-r.prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	err := r.task(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("debounced task failed")
	}
	return err
}

func (s *Scheduler) waitRunning(ctx context.Context) error {
	s.mu.Lock()
	waits := make([]chan struct{}, 0, len(s.running))
	for _, done := range s.running {
		waits = append(waits, done)
	}
	s.mu.Unlock()
	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// IsPending reports whether key has a task waiting for its quiet period.
func (s *Scheduler) IsPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Pending returns the number of keys waiting for their quiet period.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// InFlight returns the number of tasks currently executing or queued behind
// an earlier run of the same key.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Busy reports whether any task is pending or running.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || s.inFlight > 0
}
