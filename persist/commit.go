package persist

import (
	"time"

	"github.com/google/uuid"

	"prism-board/domain"
)

// CommitKind identifies the request shape of a commit.
type CommitKind string

const (
	KindCrossColumn  CommitKind = "cross-column"
	KindWithinColumn CommitKind = "within-column"
)

// Update is a targeted write scoped to one entity.
type Update struct {
	ID    string
	Patch domain.Patch
}

// Commit is the set of writes that makes one completed drag durable.
type Commit struct {
	ID       string
	Seq      uint64
	Filter   domain.Filter
	Kind     CommitKind
	EntityID string
	From     domain.Status
	To       domain.Status
	// Update is set for cross-column moves.
	Update *Update
	// Batches are full status groups written with upsert-by-id.
	Batches [][]domain.Entity
	// Snapshot is the collection as it was when the drag started.
	Snapshot []domain.Entity
}

// Writes counts the store calls the commit issues.
func (c Commit) Writes() int {
	n := len(c.Batches)
	if c.Update != nil {
		n++
	}
	return n
}

// Plan derives the writes needed to persist the move of movedID from
// snapshot to final. It reports false when nothing changed.
//
// A status change becomes a targeted update of the moved entity. Groups whose
// members were re-indexed by the move are written back as full batches so the
// durable orders stay contiguous. A reorder inside one column is always a batch
// covering every member of the column.
func Plan(filter domain.Filter, snapshot, final []domain.Entity, movedID string, now time.Time) (Commit, bool) {
	changes := domain.Diff(snapshot, final)
	if len(changes) == 0 {
		return Commit{}, false
	}
	before, ok := domain.Find(snapshot, movedID)
	if !ok {
		return Commit{}, false
	}
	after, ok := domain.Find(final, movedID)
	if !ok {
		return Commit{}, false
	}

	ts := now.UnixMilli()
	changed := make(map[string]bool, len(changes))
	for _, ch := range changes {
		changed[ch.ID] = true
	}

	c := Commit{
		ID:       uuid.NewString(),
		Filter:   filter,
		EntityID: movedID,
		From:     before.Status,
		To:       after.Status,
		Snapshot: domain.Clone(snapshot),
	}

	if before.Status == after.Status {
		c.Kind = KindWithinColumn
		c.Batches = append(c.Batches, stamp(domain.Group(final, after.Status), changed, ts))
		return c, true
	}

	c.Kind = KindCrossColumn
	status := after.Status
	order := after.DisplayOrder
	c.Update = &Update{
		ID: movedID,
		Patch: domain.Patch{
			Status:       &status,
			DisplayOrder: &order,
			UpdatedAt:    &ts,
		},
	}

	if src := domain.Group(final, before.Status); groupChanged(src, changed) {
		c.Batches = append(c.Batches, stamp(src, changed, ts))
	}

	appendAt := len(domain.Group(snapshot, after.Status))
	dest := domain.Group(final, after.Status)
	reordered := after.DisplayOrder != appendAt
	for _, it := range dest {
		if it.ID != movedID && changed[it.ID] {
			reordered = true
			break
		}
	}
	if reordered {
		c.Batches = append(c.Batches, stamp(dest, changed, ts))
	}
	return c, true
}

func groupChanged(group []domain.Entity, changed map[string]bool) bool {
	for _, it := range group {
		if changed[it.ID] {
			return true
		}
	}
	return false
}

func stamp(group []domain.Entity, changed map[string]bool, ts int64) []domain.Entity {
	for i := range group {
		if changed[group[i].ID] {
			group[i].UpdatedAt = ts
		}
	}
	return group
}
