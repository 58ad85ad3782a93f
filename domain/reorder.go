package domain

import "fmt"

// MoveWithinColumn moves id to targetIndex inside its own status group and
// re-indexes the group to 0..n-1. targetIndex is clamped to the group bounds.
// Other groups are untouched and items is not modified.
func MoveWithinColumn(items []Entity, id string, targetIndex int) ([]Entity, error) {
	at := indexOf(items, id)
	if at < 0 {
		return nil, fmt.Errorf("move %s: %w", id, ErrNotFound)
	}
	out := Clone(items)
	members := groupIndices(out, out[at].Status)

	from := 0
	for i, m := range members {
		if m == at {
			from = i
			break
		}
	}
	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(members)-1 {
		targetIndex = len(members) - 1
	}

	ordered := make([]int, 0, len(members))
	ordered = append(ordered, members[:from]...)
	ordered = append(ordered, members[from+1:]...)
	ordered = append(ordered[:targetIndex], append([]int{at}, ordered[targetIndex:]...)...)

	for pos, i := range ordered {
		out[i].DisplayOrder = pos
	}
	return out, nil
}

// MoveAcrossColumns reassigns id to newStatus, appending it to the end of the
// destination group, and re-indexes the source group. Moving an entity into
// the column it already belongs to returns an unchanged copy.
func MoveAcrossColumns(items []Entity, layout Layout, id string, newStatus Status) ([]Entity, error) {
	if !layout.Has(newStatus) {
		return nil, fmt.Errorf("move %s to %q: %w", id, newStatus, ErrUnknownStatus)
	}
	at := indexOf(items, id)
	if at < 0 {
		return nil, fmt.Errorf("move %s: %w", id, ErrNotFound)
	}
	out := Clone(items)
	src := out[at].Status
	if src == newStatus {
		return out, nil
	}
	size := len(groupIndices(out, newStatus))
	out[at].Status = newStatus
	out[at].DisplayOrder = size
	reindexGroup(out, src)
	return out, nil
}

// Reindex returns a copy of items where every status group is contiguous,
// keeping the relative order of each group.
func Reindex(items []Entity) []Entity {
	out := Clone(items)
	seen := make(map[Status]bool)
	for _, it := range out {
		if seen[it.Status] {
			continue
		}
		seen[it.Status] = true
		reindexGroup(out, it.Status)
	}
	return out
}

// Contiguous reports whether every status group is ordered 0..n-1.
func Contiguous(items []Entity) bool {
	seen := make(map[Status]bool)
	for _, it := range items {
		if seen[it.Status] {
			continue
		}
		seen[it.Status] = true
		for pos, i := range groupIndices(items, it.Status) {
			if items[i].DisplayOrder != pos {
				return false
			}
		}
	}
	return true
}

func reindexGroup(items []Entity, s Status) {
	for pos, i := range groupIndices(items, s) {
		items[i].DisplayOrder = pos
	}
}
