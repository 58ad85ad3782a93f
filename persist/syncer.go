package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Writer is the subset of the record store used to persist commits.
type Writer interface {
	Update(ctx context.Context, filter domain.Filter, id string, patch domain.Patch) error
	Upsert(ctx context.Context, filter domain.Filter, items []domain.Entity) error
}

// Notice is a user-facing report of a failed commit.
type Notice struct {
	ID       string        `json:"id"`
	CommitID string        `json:"commitId"`
	Filter   domain.Filter `json:"filter"`
	EntityID string        `json:"entityId"`
	Message  string        `json:"message"`
	At       time.Time     `json:"at"`
	Err      error         `json:"-"`
}

// Reporter surfaces notices to the user.
type Reporter interface {
	Report(ctx context.Context, n Notice)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, n Notice)

func (f ReporterFunc) Report(ctx context.Context, n Notice) { f(ctx, n) }

// Hook runs after a commit has been written successfully.
type Hook func(ctx context.Context, c Commit)

// Outcome is delivered to the submitter once a commit has been attempted.
type Outcome struct {
	Commit   Commit
	Err      error
	Notice   *Notice
	Duration time.Duration
}

// Config tunes the worker pool.
type Config struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Workers: 4, Buffer: 256, Timeout: 30 * time.Second, HandoffTimeout: 15 * time.Millisecond}
}

var errSyncerClosed = errors.New("syncer closed")

type job struct {
	commit Commit
	done   func(Outcome)
}

// Syncer writes commits on background workers. Submit never blocks the
// caller for longer than the hand-off timeout, writes are not cancellable once
// started, and no ordering is guaranteed between commits.
type Syncer struct {
	cfg      Config
	writer   Writer
	reporter Reporter
	logger   *log.Logger

	mu     sync.RWMutex
	jobs   chan job
	closed bool
	hooks  []Hook
	wg     sync.WaitGroup
}

func NewSyncer(w Writer, r Reporter, cfg Config, logger *log.Logger) *Syncer {
	if w == nil {
		panic("persist.NewSyncer: writer is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	s := &Syncer{
		cfg:      cfg,
		writer:   w,
		reporter: r,
		logger:   logger,
		jobs:     make(chan job, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Infof("persist syncer started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return s
}

// OnSuccess registers a hook run after every successful commit.
func (s *Syncer) OnSuccess(h Hook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

// Submit schedules c for writing. done, if non-nil, is called exactly once
// from a background goroutine.
func (s *Syncer) Submit(c Commit, done func(Outcome)) {
	j := job{commit: c, done: done}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		go s.finish(context.Background(), j, errSyncerClosed, 0)
		return
	}

	select {
	case s.jobs <- j:
		return
	default:
	}

	if s.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(s.cfg.HandoffTimeout)
		defer timer.Stop()
		select {
		case s.jobs <- j:
			return
		case <-timer.C:
		}
	}

	s.logger.WithField("commit", c.ID).Warn("persist buffer saturated; writing on a dedicated goroutine")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(j)
	}()
}

// Close stops accepting commits and waits for in-flight writes.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Syncer) worker(id int) {
	defer s.wg.Done()
	for j := range s.jobs {
		s.logger.WithFields(log.Fields{"commit": j.commit.ID, "worker": id}).Debug("persisting commit")
		s.run(j)
	}
}

func (s *Syncer) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	metrics, ctx := newCommitMetrics(ctx, s.logger, j.commit)
	start := time.Now()
	err := s.apply(ctx, j.commit, metrics)
	metrics.Log(err)
	s.finish(ctx, j, err, time.Since(start))
}

func (s *Syncer) apply(ctx context.Context, c Commit, m *commitMetrics) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("persist commit %s panicked: %v", c.ID, r)
		}
	}()
	if c.Update != nil {
		start := time.Now()
		err := s.writer.Update(ctx, c.Filter, c.Update.ID, c.Update.Patch)
		m.ObserveUpdate(time.Since(start))
		if err != nil {
			m.SetErrorStage("update")
			return fmt.Errorf("update %s: %w", c.Update.ID, err)
		}
	}
	for _, batch := range c.Batches {
		if len(batch) == 0 {
			continue
		}
		start := time.Now()
		err := s.writer.Upsert(ctx, c.Filter, batch)
		m.ObserveUpsert(time.Since(start), len(batch))
		if err != nil {
			m.SetErrorStage("upsert")
			return fmt.Errorf("upsert %d entities in %s: %w", len(batch), batch[0].Status, err)
		}
	}
	return nil
}

func (s *Syncer) finish(ctx context.Context, j job, err error, d time.Duration) {
	var notice *Notice
	if err != nil {
		notice = &Notice{
			ID:       uuid.NewString(),
			CommitID: j.commit.ID,
			Filter:   j.commit.Filter,
			EntityID: j.commit.EntityID,
			Message:  "Could not save the new board order.",
			At:       time.Now().UTC(),
			Err:      err,
		}
		if s.reporter != nil {
			s.reporter.Report(ctx, *notice)
		}
	} else {
		s.mu.RLock()
		hooks := append([]Hook(nil), s.hooks...)
		s.mu.RUnlock()
		for _, h := range hooks {
			s.runHook(ctx, h, j.commit)
		}
	}
	if j.done != nil {
		j.done(Outcome{Commit: j.commit, Err: err, Notice: notice, Duration: d})
	}
}

func (s *Syncer) runHook(ctx context.Context, h Hook, c Commit) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(log.Fields{"commit": c.ID, "panic": r}).Error("persist success hook panicked")
		}
	}()
	h(ctx, c)
}
