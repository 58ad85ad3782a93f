package counts

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Source yields refresh requests.
type Source interface {
	Receive(ctx context.Context) (*Message, error)
	Ack(ctx context.Context, m Message) error
}

type refresher interface {
	Refresh(ctx context.Context, filter domain.Filter) (Summary, error)
}

// Worker drains a Source and refreshes the counts it names. A request whose
// refresh fails is left on the queue to be retried after its visibility
// timeout; malformed requests are dropped.
type Worker struct {
	source    Source
	refresher refresher
	logger    *log.Logger
	idle      time.Duration
}

func NewWorker(source Source, r refresher, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Worker{source: source, refresher: r, logger: logger, idle: time.Second}
}

func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		msg, err := w.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithError(err).Error("receive counts request")
			w.sleep(ctx)
			continue
		}
		if msg == nil {
			w.sleep(ctx)
			continue
		}
		w.process(ctx, *msg)
	}
}

func (w *Worker) process(ctx context.Context, msg Message) {
	var req Request
	err := sonic.UnmarshalString(msg.Text, &req)
	if err == nil {
		_, err = domain.ParseKind(string(req.Kind))
	}
	if err != nil || req.Scope == "" {
		w.logger.WithFields(log.Fields{"message": msg.ID, "text": msg.Text}).Warn("dropping malformed counts request")
		w.ack(ctx, msg)
		return
	}
	s, err := w.refresher.Refresh(ctx, req.Filter())
	if err != nil {
		w.logger.WithError(err).WithFields(log.Fields{
			"message": msg.ID,
			"board":   req.Filter().String(),
		}).Error("refresh counts")
		return
	}
	w.logger.WithFields(log.Fields{
		"board":  req.Filter().String(),
		"commit": req.CommitID,
		"total":  s.Total,
	}).Debug("counts refreshed")
	w.ack(ctx, msg)
}

func (w *Worker) ack(ctx context.Context, msg Message) {
	if err := w.source.Ack(ctx, msg); err != nil {
		w.logger.WithError(err).WithField("message", msg.ID).Error("delete counts request")
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.idle):
	}
}
