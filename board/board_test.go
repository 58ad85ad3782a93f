package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
	"prism-board/persist"
)

type stubStore struct {
	mu      sync.Mutex
	items   []domain.Entity
	err     error
	queries int
	gate    chan struct{}
}

func (s *stubStore) Query(ctx context.Context, filter domain.Filter) ([]domain.Entity, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	return domain.Clone(s.items), nil
}

func (s *stubStore) set(items []domain.Entity) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func (s *stubStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

type submission struct {
	commit persist.Commit
	done   func(persist.Outcome)
}

type stubCommitter struct {
	mu   sync.Mutex
	subs []submission
}

func (c *stubCommitter) Submit(commit persist.Commit, done func(persist.Outcome)) {
	c.mu.Lock()
	c.subs = append(c.subs, submission{commit: commit, done: done})
	c.mu.Unlock()
}

func (c *stubCommitter) submitted() []submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]submission(nil), c.subs...)
}

func newTestBoard(t *testing.T, store Store, committer Committer, opts Options) *Board {
	t.Helper()
	layout, _ := domain.LayoutFor(domain.KindTask)
	if opts.Logger == nil {
		logger, _ := test.NewNullLogger()
		opts.Logger = logger
	}
	b := New(taskFilter, layout, store, committer, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(cancel)
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return b
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func column(t *testing.T, b *Board, s domain.Status) []string {
	t.Helper()
	v, err := b.View(context.Background())
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	return ids(v.Column(s))
}

func equal(a []string, b ...string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBoardDropSubmitsOnce(t *testing.T) {
	store := &stubStore{items: sampleItems()}
	committer := &stubCommitter{}
	b := newTestBoard(t, store, committer, Options{})
	ctx := context.Background()

	if err := b.DragStart(ctx, "C"); err != nil {
		t.Fatalf("drag start: %v", err)
	}
	if err := b.DragOver(ctx, "C", "A"); err != nil {
		t.Fatalf("drag over: %v", err)
	}
	res, err := b.DragEnd(ctx, "C", "A")
	if err != nil || res.Commit == nil {
		t.Fatalf("drag end: %+v %v", res, err)
	}
	subs := committer.submitted()
	if len(subs) != 1 {
		t.Fatalf("expected one submission, got %d", len(subs))
	}
	if subs[0].commit.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", subs[0].commit.Seq)
	}
	if got := column(t, b, domain.StatusTodo); !equal(got, "C", "A", "B") {
		t.Fatalf("unexpected column %v", got)
	}
}

func TestBoardNoOpAndSelfTargetSkipPersistence(t *testing.T) {
	store := &stubStore{items: sampleItems()}
	committer := &stubCommitter{}
	b := newTestBoard(t, store, committer, Options{})
	ctx := context.Background()

	_ = b.DragStart(ctx, "A")
	if err := b.DragOver(ctx, "A", "A"); !errors.Is(err, ErrSelfTarget) {
		t.Fatalf("expected ErrSelfTarget, got %v", err)
	}
	res, err := b.DragEnd(ctx, "A", "A")
	if err != nil || !res.NoOp {
		t.Fatalf("expected no-op, got %+v %v", res, err)
	}
	if n := len(committer.submitted()); n != 0 {
		t.Fatalf("expected no submissions, got %d", n)
	}
	if got := column(t, b, domain.StatusTodo); !equal(got, "A", "B", "C") {
		t.Fatalf("unexpected column %v", got)
	}
}

func TestBoardUnknownHoverTargetIgnored(t *testing.T) {
	b := newTestBoard(t, &stubStore{items: sampleItems()}, &stubCommitter{}, Options{})
	ctx := context.Background()
	_ = b.DragStart(ctx, "A")
	if err := b.DragOver(ctx, "A", "ghost"); err != nil {
		t.Fatalf("unknown target should be ignored, got %v", err)
	}
}

func TestBoardRefetchDeferredDuringDrag(t *testing.T) {
	store := &stubStore{items: sampleItems()}
	committer := &stubCommitter{}
	b := newTestBoard(t, store, committer, Options{})
	ctx := context.Background()

	_ = b.DragStart(ctx, "A")
	_ = b.DragOver(ctx, "A", string(domain.StatusInProgress))

	store.set([]domain.Entity{task("X", domain.StatusTodo, 0)})
	before := store.count()
	b.Refresh()

	// the refresh must not replace the provisional collection
	if got := column(t, b, domain.StatusInProgress); !equal(got, "D", "E", "A") {
		t.Fatalf("refetch interrupted the drag: %v", got)
	}
	if store.count() != before {
		t.Fatalf("refetch issued during drag")
	}

	if _, err := b.Cancel(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	eventually(t, "deferred refetch", func() bool {
		return equal(column(t, b, domain.StatusTodo), "X")
	})
}

func TestBoardRefetchResultDuringDragIsRepeated(t *testing.T) {
	store := &stubStore{items: sampleItems()}
	b := newTestBoard(t, store, &stubCommitter{}, Options{})
	ctx := context.Background()

	gate := make(chan struct{})
	store.mu.Lock()
	store.gate = gate
	store.mu.Unlock()
	store.set([]domain.Entity{task("X", domain.StatusTodo, 0)})
	b.Refresh()
	// let the refresh reach the store before the drag starts
	time.Sleep(20 * time.Millisecond)
	_ = b.DragStart(ctx, "A")
	close(gate)

	time.Sleep(20 * time.Millisecond)
	if got := column(t, b, domain.StatusTodo); !equal(got, "A", "B", "C") {
		t.Fatalf("fetch result applied mid-drag: %v", got)
	}
	_, _ = b.Cancel(ctx)
	eventually(t, "repeated refetch", func() bool {
		return equal(column(t, b, domain.StatusTodo), "X")
	})
}

func TestBoardFailureKeepsOptimisticState(t *testing.T) {
	store := &stubStore{items: sampleItems()}
	committer := &stubCommitter{}
	b := newTestBoard(t, store, committer, Options{})
	ctx := context.Background()

	_ = b.DragStart(ctx, "A")
	_ = b.DragOver(ctx, "A", string(domain.StatusCompleted))
	_, _ = b.DragEnd(ctx, "A", string(domain.StatusCompleted))

	sub := committer.submitted()[0]
	notice := &persist.Notice{ID: "n1", Message: "Could not save the new board order."}
	sub.done(persist.Outcome{Commit: sub.commit, Err: errors.New("boom"), Notice: notice})

	eventually(t, "notice in frame", func() bool {
		f, err := b.Frame(ctx)
		return err == nil && f.Notice != nil && f.Notice.ID == "n1"
	})
	if got := column(t, b, domain.StatusCompleted); !equal(got, "A") {
		t.Fatalf("optimistic state was reverted: %v", got)
	}
}

func TestBoardRevertOnFailure(t *testing.T) {
	store := &stubStore{items: sampleItems()}
	committer := &stubCommitter{}
	b := newTestBoard(t, store, committer, Options{RevertOnFailure: true})
	ctx := context.Background()

	_ = b.DragStart(ctx, "A")
	_ = b.DragOver(ctx, "A", string(domain.StatusCompleted))
	_, _ = b.DragEnd(ctx, "A", string(domain.StatusCompleted))

	// the store never saw the write, so the refetch agrees with the revert
	sub := committer.submitted()[0]
	sub.done(persist.Outcome{Commit: sub.commit, Err: errors.New("boom")})

	eventually(t, "revert", func() bool {
		return equal(column(t, b, domain.StatusTodo), "A", "B", "C")
	})
}

func TestBoardRevertSkippedWhenSuperseded(t *testing.T) {
	store := &stubStore{items: sampleItems()}
	committer := &stubCommitter{}
	b := newTestBoard(t, store, committer, Options{RevertOnFailure: true})
	ctx := context.Background()

	_ = b.DragStart(ctx, "A")
	_ = b.DragOver(ctx, "A", string(domain.StatusCompleted))
	_, _ = b.DragEnd(ctx, "A", string(domain.StatusCompleted))
	_ = b.DragStart(ctx, "B")
	_ = b.DragOver(ctx, "B", string(domain.StatusCompleted))
	_, _ = b.DragEnd(ctx, "B", string(domain.StatusCompleted))

	subs := committer.submitted()
	if len(subs) != 2 {
		t.Fatalf("expected two submissions, got %d", len(subs))
	}
	subs[0].done(persist.Outcome{Commit: subs[0].commit, Err: errors.New("boom")})
	// round-trip through the loop so the outcome has been handled
	if _, err := b.Frame(ctx); err != nil {
		t.Fatalf("frame: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if got := column(t, b, domain.StatusCompleted); !equal(got, "A", "B") {
		t.Fatalf("superseded commit reverted the board: %v", got)
	}
}

func TestBoardOnUpdateRunsAfterSuccess(t *testing.T) {
	committer := &stubCommitter{}
	b := newTestBoard(t, &stubStore{items: sampleItems()}, committer, Options{})
	ctx := context.Background()

	got := make(chan string, 1)
	b.OnUpdate(func(_ context.Context, c persist.Commit) { got <- c.EntityID })
	b.OnUpdate(func(context.Context, persist.Commit) { panic("bad hook") })

	_ = b.DragStart(ctx, "B")
	_ = b.DragOver(ctx, "B", "A")
	_, _ = b.DragEnd(ctx, "B", "A")
	sub := committer.submitted()[0]
	sub.done(persist.Outcome{Commit: sub.commit})

	select {
	case id := <-got:
		if id != "B" {
			t.Fatalf("unexpected entity %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("onUpdate not called")
	}
	if _, err := b.Frame(ctx); err != nil {
		t.Fatalf("board stuck after hook panic: %v", err)
	}
}

func TestBoardSubscribeReceivesFrames(t *testing.T) {
	b := newTestBoard(t, &stubStore{items: sampleItems()}, &stubCommitter{}, Options{})
	ctx := context.Background()
	frames, cancel, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	first := <-frames
	if first.State != "idle" {
		t.Fatalf("unexpected initial state %s", first.State)
	}
	_ = b.DragStart(ctx, "A")
	f := <-frames
	if f.State != "dragging" || f.Overlay == nil || f.Overlay.ID != "A" {
		t.Fatalf("unexpected frame %+v", f)
	}
	if f.Version <= first.Version {
		t.Fatalf("version did not advance")
	}
}

func TestBoardReportsUnknownStatus(t *testing.T) {
	items := append(sampleItems(), task("Z", "Archived", 0))
	logger, hook := test.NewNullLogger()
	var mu sync.Mutex
	var notices []persist.Notice
	reporter := persist.ReporterFunc(func(_ context.Context, n persist.Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})
	b := newTestBoard(t, &stubStore{items: items}, &stubCommitter{}, Options{Logger: logger, Reporter: reporter})

	v, _ := b.View(context.Background())
	var use *domain.UnknownStatusError
	if !errors.As(v.Err(), &use) || use.IDs[0] != "Z" {
		t.Fatalf("expected unknown status error, got %v", v.Err())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 || notices[0].Message != integrityMessage {
		t.Fatalf("unexpected notices %+v", notices)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected error log, got %+v", entry)
	}
}

func TestBoardInputDrivesRecognizer(t *testing.T) {
	committer := &stubCommitter{}
	b := newTestBoard(t, &stubStore{items: sampleItems()}, committer, Options{})
	ctx := context.Background()

	steps := []Input{
		pointer(PhaseDown, 0, 0, "A", "A"),
		pointer(PhaseMove, 0, 30, "A", "C"),
		pointer(PhaseUp, 0, 30, "A", "C"),
	}
	var out Outcome
	for _, in := range steps {
		var err error
		if out, err = b.Input(ctx, in); err != nil {
			t.Fatalf("input %s: %v", in.Phase, err)
		}
	}
	if out.Gesture != GestureDrop {
		t.Fatalf("expected drop, got %s", out.Gesture)
	}
	if len(committer.submitted()) != 1 {
		t.Fatalf("expected one submission")
	}
	if got := column(t, b, domain.StatusTodo); !equal(got, "B", "C", "A") {
		t.Fatalf("unexpected column %v", got)
	}
}

func TestBoardReleaseOverUnknownStatusEndsSession(t *testing.T) {
	store := &stubStore{items: append(sampleItems(), task("X", "Archived", 0))}
	committer := &stubCommitter{}
	b := newTestBoard(t, store, committer, Options{})
	ctx := context.Background()

	if _, err := b.Input(ctx, pointer(PhaseDown, 0, 0, "A", "A")); err != nil {
		t.Fatalf("down: %v", err)
	}
	if out, err := b.Input(ctx, pointer(PhaseMove, 0, 30, "A", "X")); err != nil || out.Gesture != GestureDragStart {
		t.Fatalf("move: %s %v", out.Gesture, err)
	}
	out, err := b.Input(ctx, pointer(PhaseUp, 0, 30, "A", "X"))
	if err != nil || out.Gesture != GestureCancel {
		t.Fatalf("up: %s %v", out.Gesture, err)
	}
	if st, _ := b.State(ctx); st != Idle {
		t.Fatalf("board left in %s", st)
	}
	if len(committer.submitted()) != 0 {
		t.Fatalf("cancelled drag was persisted")
	}

	before := store.count()
	b.Refresh()
	eventually(t, "refetch after release", func() bool { return store.count() > before })
	if err := b.DragStart(ctx, "B"); err != nil {
		t.Fatalf("next drag: %v", err)
	}
	if err := b.DragOver(ctx, "B", "X"); err != nil {
		t.Fatalf("hover over unknown status should be ignored, got %v", err)
	}
}

func TestBoardStopped(t *testing.T) {
	b := newTestBoard(t, &stubStore{items: sampleItems()}, &stubCommitter{}, Options{})
	b.Stop()
	if _, err := b.View(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
