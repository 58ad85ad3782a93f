package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/persist"
)

// Store is the read side of the record store.
type Store interface {
	Query(ctx context.Context, filter domain.Filter) ([]domain.Entity, error)
}

// Committer persists commits asynchronously. done must not be invoked on the
// calling goroutine.
type Committer interface {
	Submit(c persist.Commit, done func(persist.Outcome))
}

type Options struct {
	Config Config
	// RevertOnFailure restores the drag-start snapshot when the latest
	// commit fails and the board is idle. Off by default: the optimistic
	// state is kept until the next refetch.
	RevertOnFailure bool
	QueryTimeout    time.Duration
	Logger          *log.Logger
	Reporter        persist.Reporter
}

func (o Options) withDefaults() Options {
	o.Config = o.Config.withDefaults()
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	return o
}

// Frame is a rendered snapshot of a board.
type Frame struct {
	Version uint64          `json:"version"`
	View    domain.View     `json:"view"`
	State   string          `json:"state"`
	Overlay *domain.Entity  `json:"overlay,omitempty"`
	Notice  *persist.Notice `json:"notice,omitempty"`
}

const integrityMessage = "Some items have a status that no column shows."

// Board owns one collection and its drag session. Every mutation runs on
// the goroutine started by Run.
type Board struct {
	filter    domain.Filter
	store     Store
	committer Committer
	opts      Options
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	ops    chan func()
	done   chan struct{}
	stop   sync.Once

	// loop-owned
	ctrl           *Controller
	rec            *Recognizer
	seq            uint64
	version        uint64
	notice         *persist.Notice
	fetching       bool
	refetchPending bool
	watchers       map[int]chan Frame
	nextWatcher    int

	hooksMu sync.Mutex
	hooks   []persist.Hook

	lastUsed atomic.Int64
}

func New(filter domain.Filter, layout domain.Layout, store Store, committer Committer, opts Options) *Board {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := NewController(filter, layout, nil)
	b := &Board{
		filter:    filter,
		store:     store,
		committer: committer,
		opts:      opts,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		ops:       make(chan func(), 64),
		done:      make(chan struct{}),
		ctrl:      ctrl,
		rec:       NewRecognizer(opts.Config, ctrl),
		watchers:  make(map[int]chan Frame),
	}
	b.touch()
	return b
}

func (b *Board) Filter() domain.Filter { return b.filter }

// Run processes board operations until ctx is done or Stop is called.
func (b *Board) Run(ctx context.Context) {
	defer b.closeWatchers()
	for {
		select {
		case <-ctx.Done():
			b.Stop()
			return
		case <-b.done:
			return
		case op := <-b.ops:
			b.exec(op)
		}
	}
}

func (b *Board) Stop() {
	b.stop.Do(func() {
		b.cancel()
		close(b.done)
	})
}

func (b *Board) exec(op func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(log.Fields{
				"board": b.filter.String(),
				"panic": r,
			}).Error("board operation panicked")
		}
	}()
	op()
}

// do runs fn on the loop and waits for it.
func (b *Board) do(ctx context.Context, fn func()) error {
	b.touch()
	reply := make(chan struct{})
	op := func() {
		defer close(reply)
		fn()
	}
	select {
	case b.ops <- op:
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn on the loop without waiting.
func (b *Board) post(fn func()) {
	select {
	case b.ops <- fn:
	case <-b.done:
	}
}

func (b *Board) touch() { b.lastUsed.Store(time.Now().UnixNano()) }

// LastUsed is the time of the latest call into the board.
func (b *Board) LastUsed() time.Time { return time.Unix(0, b.lastUsed.Load()) }

// OnUpdate registers fn to run after each successful commit of this board.
func (b *Board) OnUpdate(fn persist.Hook) {
	b.hooksMu.Lock()
	b.hooks = append(b.hooks, fn)
	b.hooksMu.Unlock()
}

// Load queries the store and installs the result.
func (b *Board) Load(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, b.opts.QueryTimeout)
	defer cancel()
	items, err := b.store.Query(qctx, b.filter)
	if err != nil {
		return fmt.Errorf("load %s: %w", b.filter, err)
	}
	return b.do(ctx, func() { b.install(items) })
}

// Refresh asks the board to refetch. Signals arriving during a drag are
// deferred until the session resolves.
func (b *Board) Refresh() {
	b.post(b.startFetch)
}

func (b *Board) View(ctx context.Context) (domain.View, error) {
	var v domain.View
	err := b.do(ctx, func() { v = b.ctrl.View() })
	return v, err
}

func (b *Board) Frame(ctx context.Context) (Frame, error) {
	var f Frame
	err := b.do(ctx, func() { f = b.frame() })
	return f, err
}

// State returns the drag state.
func (b *Board) State(ctx context.Context) (State, error) {
	var s State
	err := b.do(ctx, func() { s = b.ctrl.State() })
	return s, err
}

// busy reports whether a drag is active or a subscriber is attached.
func (b *Board) busy(ctx context.Context) (bool, error) {
	var busy bool
	err := b.do(ctx, func() { busy = b.ctrl.State().Active() || len(b.watchers) > 0 })
	return busy, err
}

func (b *Board) DragStart(ctx context.Context, id string) error {
	var err error
	if derr := b.do(ctx, func() {
		if err = b.ctrl.DragStart(id); err == nil {
			b.broadcast()
		}
	}); derr != nil {
		return derr
	}
	return err
}

// DragOver hovers id over targetID. Unknown targets are ignored.
func (b *Board) DragOver(ctx context.Context, id, targetID string) error {
	var err error
	if derr := b.do(ctx, func() {
		err = b.ctrl.DragOver(id, targetID)
		if errors.Is(err, ErrUnknownTarget) {
			err = nil
			return
		}
		if err == nil {
			b.broadcast()
		}
	}); derr != nil {
		return derr
	}
	return err
}

func (b *Board) DragEnd(ctx context.Context, id, targetID string) (Result, error) {
	var (
		res Result
		err error
	)
	if derr := b.do(ctx, func() {
		res, err = b.ctrl.DragEnd(id, targetID)
		if err == nil {
			b.rec.reset()
			b.settle(res)
		}
	}); derr != nil {
		return Result{}, derr
	}
	return res, err
}

func (b *Board) Cancel(ctx context.Context) (Result, error) {
	var (
		res Result
		err error
	)
	if derr := b.do(ctx, func() {
		res, err = b.ctrl.Cancel()
		if err == nil {
			b.rec.reset()
			b.settle(res)
		}
	}); derr != nil {
		return Result{}, derr
	}
	return res, err
}

// Input feeds a raw gesture event through the recognizer.
func (b *Board) Input(ctx context.Context, in Input) (Outcome, error) {
	if in.At.IsZero() {
		in.At = time.Now()
	}
	var (
		out Outcome
		err error
	)
	if derr := b.do(ctx, func() {
		out, err = b.rec.Handle(in)
		switch out.Gesture {
		case GestureDrop, GestureCancel:
			b.settle(out.Result)
		case GestureDragStart, GestureHover:
			b.broadcast()
		}
	}); derr != nil {
		return Outcome{}, derr
	}
	return out, err
}

// Subscribe delivers a frame after every visible change. Slow readers only
// see the latest frame.
func (b *Board) Subscribe(ctx context.Context) (<-chan Frame, func(), error) {
	ch := make(chan Frame, 1)
	var id int
	if err := b.do(ctx, func() {
		id = b.nextWatcher
		b.nextWatcher++
		b.watchers[id] = ch
		ch <- b.frame()
	}); err != nil {
		return nil, nil, err
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.post(func() {
				if w, ok := b.watchers[id]; ok {
					delete(b.watchers, id)
					close(w)
				}
			})
		})
	}
	return ch, cancel, nil
}

// settle runs after a session resolves: it hands the commit to the
// committer and re-issues a refetch deferred by the drag.
func (b *Board) settle(res Result) {
	if res.Commit != nil {
		b.seq++
		c := *res.Commit
		c.Seq = b.seq
		b.notice = nil
		b.committer.Submit(c, func(o persist.Outcome) {
			b.post(func() { b.handleOutcome(o) })
		})
	}
	if b.refetchPending && !b.fetching {
		b.refetchPending = false
		b.startFetch()
	}
	b.broadcast()
}

func (b *Board) handleOutcome(o persist.Outcome) {
	if o.Err == nil {
		b.hooksMu.Lock()
		hooks := append([]persist.Hook(nil), b.hooks...)
		b.hooksMu.Unlock()
		for _, h := range hooks {
			b.runHook(h, o.Commit)
		}
		return
	}
	b.notice = o.Notice
	if b.opts.RevertOnFailure && o.Commit.Seq == b.seq && b.ctrl.Session() == nil {
		b.ctrl.Replace(o.Commit.Snapshot)
		b.logger.WithFields(log.Fields{
			"board":  b.filter.String(),
			"commit": o.Commit.ID,
		}).Warn("reverted board after failed commit")
		b.startFetch()
	}
	b.broadcast()
}

func (b *Board) runHook(h persist.Hook, c persist.Commit) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(log.Fields{
				"board":  b.filter.String(),
				"commit": c.ID,
				"panic":  r,
			}).Error("update hook panicked")
		}
	}()
	h(b.ctx, c)
}

func (b *Board) startFetch() {
	if b.fetching {
		b.refetchPending = true
		return
	}
	if b.ctrl.Session() != nil {
		b.refetchPending = true
		return
	}
	b.fetching = true
	go func() {
		ctx, cancel := context.WithTimeout(b.ctx, b.opts.QueryTimeout)
		defer cancel()
		items, err := b.store.Query(ctx, b.filter)
		b.post(func() { b.fetched(items, err) })
	}()
}

func (b *Board) fetched(items []domain.Entity, err error) {
	b.fetching = false
	if err != nil {
		b.logger.WithError(err).WithField("board", b.filter.String()).Error("refetch failed")
	} else if !b.refetchPending {
		b.install(items)
	}
	if b.refetchPending && b.ctrl.Session() == nil {
		b.refetchPending = false
		b.startFetch()
	}
}

// install replaces the collection unless a drag is in progress, in which
// case the fetch is repeated after the drag.
func (b *Board) install(items []domain.Entity) {
	if !b.ctrl.Replace(items) {
		b.refetchPending = true
		return
	}
	if err := b.ctrl.View().Err(); err != nil {
		b.logger.WithError(err).WithField("board", b.filter.String()).Error("board has entities outside its columns")
		if b.opts.Reporter != nil {
			b.opts.Reporter.Report(b.ctx, persist.Notice{
				ID:      uuid.NewString(),
				Filter:  b.filter,
				Message: integrityMessage,
				At:      time.Now(),
				Err:     err,
			})
		}
	}
	b.broadcast()
}

func (b *Board) frame() Frame {
	f := Frame{
		Version: b.version,
		View:    b.ctrl.View(),
		State:   b.ctrl.State().String(),
		Notice:  b.notice,
	}
	if s := b.ctrl.Session(); s != nil {
		o := s.Overlay()
		f.Overlay = &o
	}
	return f
}

func (b *Board) broadcast() {
	b.version++
	f := b.frame()
	for _, ch := range b.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- f
	}
}

func (b *Board) closeWatchers() {
	for id, ch := range b.watchers {
		delete(b.watchers, id)
		close(ch)
	}
}
