package domain

import "sort"

// Column is one ordered status group of a board.
type Column struct {
	Status Status   `json:"status"`
	Items  []Entity `json:"items"`
}

// View is the column projection of a flat collection. Entities whose status
// is not part of the layout are kept in Unknown instead of being dropped.
type View struct {
	Columns []Column `json:"columns"`
	Unknown []Entity `json:"unknown,omitempty"`
}

// Project groups items by status following the layout order. Each column is
// sorted by DisplayOrder; ties keep their position in items.
func Project(layout Layout, items []Entity) View {
	v := View{Columns: make([]Column, 0, len(layout.columns))}
	for _, s := range layout.columns {
		v.Columns = append(v.Columns, Column{Status: s, Items: Group(items, s)})
	}
	for _, it := range items {
		if !layout.Has(it.Status) {
			v.Unknown = append(v.Unknown, it)
		}
	}
	return v
}

// Column returns the items of status s, or nil if s has no column.
func (v View) Column(s Status) []Entity {
	for _, c := range v.Columns {
		if c.Status == s {
			return c.Items
		}
	}
	return nil
}

// Err reports the unknown bucket as an *UnknownStatusError.
func (v View) Err() error {
	if len(v.Unknown) == 0 {
		return nil
	}
	e := &UnknownStatusError{}
	for _, it := range v.Unknown {
		e.IDs = append(e.IDs, it.ID)
		e.Statuses = append(e.Statuses, it.Status)
	}
	return e
}

// Group returns a copy of the members of status s ordered by DisplayOrder.
func Group(items []Entity, s Status) []Entity {
	idx := groupIndices(items, s)
	out := make([]Entity, 0, len(idx))
	for _, i := range idx {
		out = append(out, items[i])
	}
	return out
}

// groupIndices returns the positions in items of the members of s, ordered by
// DisplayOrder and then by position.
func groupIndices(items []Entity, s Status) []int {
	idx := make([]int, 0)
	for i := range items {
		if items[i].Status == s {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return items[idx[a]].DisplayOrder < items[idx[b]].DisplayOrder
	})
	return idx
}
