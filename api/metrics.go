package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type requestMetrics struct {
	logger        *log.Logger
	route         string
	start         time.Time
	authDuration  time.Duration
	boardDuration time.Duration
	errorStage    string
	outcome       string
}

func newRequestMetrics(logger *log.Logger, route string) *requestMetrics {
	return &requestMetrics{logger: logger, route: route, start: time.Now()}
}

func (m *requestMetrics) ObserveAuth(d time.Duration)  { m.authDuration = d }
func (m *requestMetrics) ObserveBoard(d time.Duration) { m.boardDuration = d }

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) SetOutcome(outcome string) { m.outcome = outcome }

func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.boardDuration > 0 {
		fields["board_ms"] = durationToMillis(m.boardDuration)
	}
	if m.outcome != "" {
		fields["outcome"] = m.outcome
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("board.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
