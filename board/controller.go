package board

import (
	"errors"
	"fmt"
	"time"

	"prism-board/domain"
	"prism-board/persist"
)

// Result describes how a drag session ended.
type Result struct {
	NoOp      bool
	Cancelled bool
	Commit    *persist.Commit
}

// Controller applies drag gestures to an in-memory collection. It is not
// safe for concurrent use; Board serializes access to it.
type Controller struct {
	filter  domain.Filter
	layout  domain.Layout
	items   []domain.Entity
	session *Session
	now     func() time.Time
}

func NewController(filter domain.Filter, layout domain.Layout, items []domain.Entity) *Controller {
	return &Controller{
		filter: filter,
		layout: layout,
		items:  domain.Clone(items),
		now:    time.Now,
	}
}

// Items returns a copy of the current, possibly provisional, collection.
func (c *Controller) Items() []domain.Entity { return domain.Clone(c.items) }

func (c *Controller) View() domain.View { return domain.Project(c.layout, c.items) }

func (c *Controller) State() State {
	if c.session == nil {
		return Idle
	}
	return c.session.state
}

// Session returns the drag in progress, or nil.
func (c *Controller) Session() *Session { return c.session }

// Replace swaps in a collection fetched from the store. It refuses while a
// drag is in progress so a refetch never rewrites the board under the user.
func (c *Controller) Replace(items []domain.Entity) bool {
	if c.session != nil {
		return false
	}
	c.items = domain.Clone(items)
	return true
}

func (c *Controller) DragStart(id string) error {
	if c.session != nil {
		return &TransitionError{From: c.session.state, To: Dragging}
	}
	ent, ok := domain.Find(c.items, id)
	if !ok {
		return fmt.Errorf("drag start %s: %w", id, domain.ErrNotFound)
	}
	index := 0
	for i, it := range domain.Group(c.items, ent.Status) {
		if it.ID == id {
			index = i
			break
		}
	}
	s := newSession(c.items, ent, index, c.now())
	if err := s.transition(Dragging); err != nil {
		return err
	}
	c.session = s
	return nil
}

// DragOver applies the provisional move for hovering id over targetID.
func (c *Controller) DragOver(id, targetID string) error {
	s, err := c.active(id)
	if err != nil {
		return err
	}
	if targetID == id {
		return ErrSelfTarget
	}
	next, err := c.hover(id, targetID)
	if err != nil {
		return err
	}
	c.items = next
	return s.transition(Hovering)
}

// DragEnd resolves the session. The last provisional state is the final
// one; targetID only has to name a column or an entity shown in one,
// otherwise the drag is cancelled. A commit is returned only when the
// final collection differs from the drag-start snapshot.
func (c *Controller) DragEnd(id, targetID string) (Result, error) {
	s, err := c.active(id)
	if err != nil {
		return Result{}, err
	}
	if !c.validTarget(targetID) {
		return c.Cancel()
	}
	if err := s.transition(Dropped); err != nil {
		return Result{}, err
	}
	commit, changed := persist.Plan(c.filter, s.snapshot, c.items, id, c.now())
	if err := c.finish(); err != nil {
		return Result{}, err
	}
	if !changed {
		return Result{NoOp: true}, nil
	}
	return Result{Commit: &commit}, nil
}

func (c *Controller) validTarget(targetID string) bool {
	if targetID == "" {
		return false
	}
	if c.layout.Has(domain.Status(targetID)) {
		return true
	}
	// An entity outside every column is not a drop zone.
	ent, ok := domain.Find(c.items, targetID)
	return ok && c.layout.Has(ent.Status)
}

// Cancel restores the drag-start snapshot.
func (c *Controller) Cancel() (Result, error) {
	if c.session == nil {
		return Result{}, ErrNoSession
	}
	if err := c.session.transition(Cancelled); err != nil {
		return Result{}, err
	}
	c.items = domain.Clone(c.session.snapshot)
	if err := c.finish(); err != nil {
		return Result{}, err
	}
	return Result{Cancelled: true}, nil
}

func (c *Controller) finish() error {
	if err := c.session.transition(Idle); err != nil {
		return err
	}
	c.session = nil
	return nil
}

func (c *Controller) active(id string) (*Session, error) {
	if c.session == nil {
		return nil, ErrNoSession
	}
	if c.session.entityID != id {
		return nil, fmt.Errorf("%w: dragging %s, got %s", ErrWrongEntity, c.session.entityID, id)
	}
	return c.session, nil
}

// hover resolves targetID as a column key first, then as a sibling entity.
func (c *Controller) hover(id, targetID string) ([]domain.Entity, error) {
	cur, ok := domain.Find(c.items, id)
	if !ok {
		return nil, fmt.Errorf("hover %s: %w", id, domain.ErrNotFound)
	}
	if col := domain.Status(targetID); c.layout.Has(col) {
		if cur.Status == col {
			return c.items, nil
		}
		return domain.MoveAcrossColumns(c.items, c.layout, id, col)
	}
	sib, ok := domain.Find(c.items, targetID)
	if !ok || !c.layout.Has(sib.Status) {
		return nil, ErrUnknownTarget
	}
	if sib.Status != cur.Status {
		return domain.MoveAcrossColumns(c.items, c.layout, id, sib.Status)
	}
	for i, it := range domain.Group(c.items, sib.Status) {
		if it.ID == sib.ID {
			return domain.MoveWithinColumn(c.items, id, i)
		}
	}
	return nil, errors.New("sibling missing from its own column")
}
