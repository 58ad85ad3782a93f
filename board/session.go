package board

import (
	"time"

	"github.com/google/uuid"

	"prism-board/domain"
)

// Session is one drag, from activation until drop or cancel.
type Session struct {
	id           string
	entityID     string
	state        State
	snapshot     []domain.Entity
	active       domain.Entity
	originStatus domain.Status
	originIndex  int
	startedAt    time.Time
}

func newSession(items []domain.Entity, active domain.Entity, index int, now time.Time) *Session {
	return &Session{
		id:           uuid.NewString(),
		entityID:     active.ID,
		state:        Idle,
		snapshot:     domain.Clone(items),
		active:       active,
		originStatus: active.Status,
		originIndex:  index,
		startedAt:    now,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) EntityID() string     { return s.entityID }
func (s *Session) State() State         { return s.state }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Overlay is the dragged entity as it was when the drag started.
func (s *Session) Overlay() domain.Entity { return s.active }

// Origin returns the column and index the entity was dragged from.
func (s *Session) Origin() (domain.Status, int) { return s.originStatus, s.originIndex }

func (s *Session) transition(to State) error {
	if !s.state.canTransition(to) {
		return &TransitionError{From: s.state, To: to}
	}
	s.state = to
	return nil
}
