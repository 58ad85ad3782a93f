package domain

// Change describes how one entity differs between two collections.
type Change struct {
	ID         string
	FromStatus Status
	ToStatus   Status
	FromOrder  int
	ToOrder    int
}

func (c Change) CrossesColumns() bool {
	return c.FromStatus != c.ToStatus
}

// Diff lists the entities present in both collections whose status or
// display order differ, in the order they appear in after.
func Diff(before, after []Entity) []Change {
	prev := make(map[string]Entity, len(before))
	for _, it := range before {
		prev[it.ID] = it
	}
	var out []Change
	for _, it := range after {
		old, ok := prev[it.ID]
		if !ok {
			continue
		}
		if old.Status == it.Status && old.DisplayOrder == it.DisplayOrder {
			continue
		}
		out = append(out, Change{
			ID:         it.ID,
			FromStatus: old.Status,
			ToStatus:   it.Status,
			FromOrder:  old.DisplayOrder,
			ToOrder:    it.DisplayOrder,
		})
	}
	return out
}
