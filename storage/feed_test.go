package storage

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
)

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no signal")
	}
}

func TestFeedDeliversChangesToMatchingSubscribers(t *testing.T) {
	_, client := newTestRedis(t)
	logger, _ := test.NewNullLogger()
	feed := NewFeed(client, "board-changes", logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine, unsubscribe := feed.Subscribe(ctx, filterP1)
	defer unsubscribe()
	other, _ := feed.Subscribe(ctx, domain.Filter{Kind: domain.KindProject, Scope: "p1"})

	go feed.Run(ctx)

	// the redis subscription is set up asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := feed.Publish(ctx, Change{Kind: domain.KindTask, Scope: "p1", CommitID: "c1"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case <-mine:
		case <-time.After(20 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatalf("no signal delivered")
			}
			continue
		}
		break
	}
	select {
	case <-other:
		t.Fatalf("project board signalled for a task change")
	default:
	}
}

func TestFeedCoalescesSignals(t *testing.T) {
	logger, _ := test.NewNullLogger()
	feed := NewFeed(nil, "board-changes", logger)
	ch, cancel := feed.Subscribe(context.Background(), filterP1)
	for i := 0; i < 5; i++ {
		if n := feed.notify(filterP1); n != 1 {
			t.Fatalf("expected one subscriber, got %d", n)
		}
	}
	waitSignal(t, ch)
	select {
	case <-ch:
		t.Fatalf("signals were not coalesced")
	default:
	}
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if n := feed.notify(filterP1); n != 0 {
		t.Fatalf("unsubscribed channel still notified")
	}
}

func TestFeedUnsubscribesOnContextDone(t *testing.T) {
	feed := NewFeed(nil, "board-changes", nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := feed.Subscribe(ctx, filterP1)
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected signal")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed")
	}
}
