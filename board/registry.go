package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Feed signals that the records under a filter changed. Signals carry no
// payload; the board refetches.
type Feed interface {
	Subscribe(ctx context.Context, filter domain.Filter) (<-chan struct{}, func())
}

type boardKey struct {
	user   string
	filter domain.Filter
}

type entry struct {
	board  *Board
	cancel context.CancelFunc
	ready  chan struct{}
	err    error
}

// Registry keeps one running Board per user and filter.
type Registry struct {
	ctx       context.Context
	cancel    context.CancelFunc
	store     Store
	committer Committer
	feed      Feed
	opts      Options
	logger    *log.Logger

	mu       sync.Mutex
	boards   map[boardKey]*entry
	onCreate []func(*Board)
	wg       sync.WaitGroup
}

func NewRegistry(ctx context.Context, store Store, committer Committer, feed Feed, opts Options) *Registry {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		ctx:       ctx,
		cancel:    cancel,
		store:     store,
		committer: committer,
		feed:      feed,
		opts:      opts,
		logger:    opts.Logger,
		boards:    make(map[boardKey]*entry),
	}
}

// OnCreate registers fn to run for every board the registry creates, before
// the board is first loaded.
func (r *Registry) OnCreate(fn func(*Board)) {
	r.mu.Lock()
	r.onCreate = append(r.onCreate, fn)
	r.mu.Unlock()
}

// Get returns the board of user for filter, creating and loading it on
// first use.
func (r *Registry) Get(ctx context.Context, user string, filter domain.Filter) (*Board, error) {
	layout, err := domain.LayoutFor(filter.Kind)
	if err != nil {
		return nil, err
	}
	key := boardKey{user: user, filter: filter}

	r.mu.Lock()
	if err := r.ctx.Err(); err != nil {
		r.mu.Unlock()
		return nil, ErrStopped
	}
	e, ok := r.boards[key]
	if !ok {
		e = r.start(key, layout)
		r.boards[key] = e
	}
	r.mu.Unlock()

	if !ok {
		e.err = e.board.Load(ctx)
		close(e.ready)
		if e.err != nil {
			r.remove(key, e)
			return nil, e.err
		}
	}
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	e.board.touch()
	return e.board, nil
}

// start must be called with r.mu held.
func (r *Registry) start(key boardKey, layout domain.Layout) *entry {
	b := New(key.filter, layout, r.store, r.committer, r.opts)
	ctx, cancel := context.WithCancel(r.ctx)
	e := &entry{board: b, cancel: cancel, ready: make(chan struct{})}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		b.Run(ctx)
	}()

	if r.feed != nil {
		signals, unsubscribe := r.feed.Subscribe(ctx, key.filter)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-signals:
					if !ok {
						return
					}
					b.Refresh()
				}
			}
		}()
	}

	for _, fn := range r.onCreate {
		fn(b)
	}
	r.logger.WithFields(log.Fields{"user": key.user, "board": key.filter.String()}).Debug("board started")
	return e
}

func (r *Registry) remove(key boardKey, e *entry) {
	r.mu.Lock()
	if cur, ok := r.boards[key]; ok && cur == e {
		delete(r.boards, key)
	}
	r.mu.Unlock()
	e.cancel()
	e.board.Stop()
}

// Len is the number of running boards.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boards)
}

// Sweep stops boards unused for longer than idle. Boards with a drag in
// progress or an open stream are kept.
func (r *Registry) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	r.mu.Lock()
	var stale []boardKey
	for k, e := range r.boards {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.board.LastUsed().Before(cutoff) {
			stale = append(stale, k)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, k := range stale {
		r.mu.Lock()
		e, ok := r.boards[k]
		r.mu.Unlock()
		if !ok {
			continue
		}
		busy, err := e.board.busy(ctx)
		if err == nil && busy {
			continue
		}
		r.remove(k, e)
		n++
	}
	return n
}

// Close stops every board and waits for their goroutines.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	for k, e := range r.boards {
		e.board.Stop()
		delete(r.boards, k)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
