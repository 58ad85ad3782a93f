package storage

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Change is published after a commit of the board identified by Kind and
// Scope was written. Subscribers only use it as a refetch trigger.
type Change struct {
	Kind     domain.Kind `json:"kind"`
	Scope    string      `json:"scope"`
	CommitID string      `json:"commitId,omitempty"`
	EntityID string      `json:"entityId,omitempty"`
	At       int64       `json:"at"`
}

func (c Change) Filter() domain.Filter { return domain.Filter{Kind: c.Kind, Scope: c.Scope} }

// Feed fans board changes published on a Redis channel out to local
// subscribers. Signals for the same subscriber coalesce while unread.
type Feed struct {
	redis   *redis.Client
	channel string
	logger  *log.Logger
	retry   time.Duration

	mu   sync.Mutex
	subs map[domain.Filter]map[int]chan struct{}
	next int
}

func NewFeed(client *redis.Client, channel string, logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Feed{
		redis:   client,
		channel: channel,
		logger:  logger,
		retry:   time.Second,
		subs:    make(map[domain.Filter]map[int]chan struct{}),
	}
}

func (f *Feed) Publish(ctx context.Context, c Change) error {
	data, err := sonic.Marshal(c)
	if err != nil {
		return err
	}
	return f.redis.Publish(ctx, f.channel, data).Err()
}

// Subscribe returns a channel signalled whenever filter changes. The
// channel is closed by the returned function or when ctx is done.
func (f *Feed) Subscribe(ctx context.Context, filter domain.Filter) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	id := f.next
	f.next++
	if f.subs[filter] == nil {
		f.subs[filter] = make(map[int]chan struct{})
	}
	f.subs[filter][id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[filter], id)
			if len(f.subs[filter]) == 0 {
				delete(f.subs, filter)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

func (f *Feed) notify(filter domain.Filter) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.subs[filter] {
		select {
		case ch <- struct{}{}:
		default:
		}
		n++
	}
	return n
}

// Run listens on the Redis channel until ctx is done, reconnecting when the
// subscription drops.
func (f *Feed) Run(ctx context.Context) {
	for {
		sub := f.redis.Subscribe(ctx, f.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var c Change
				if err := sonic.UnmarshalString(msg.Payload, &c); err != nil {
					f.logger.WithError(err).WithField("channel", f.channel).Error("unable to parse board change")
					continue
				}
				f.notify(c.Filter())
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		f.logger.WithField("channel", f.channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.retry):
		}
	}
}
