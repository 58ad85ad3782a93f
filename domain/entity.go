package domain

// Entity is a draggable board item: a task or a project.
type Entity struct {
	ID           string `json:"id"`
	Kind         Kind   `json:"kind"`
	Scope        string `json:"scope"`
	Status       Status `json:"status"`
	DisplayOrder int    `json:"displayOrder"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	DueDate      string `json:"dueDate,omitempty"`
	UpdatedAt    int64  `json:"updatedAt,omitempty"`
}

// Patch carries the fields a column transition may change.
type Patch struct {
	Status       *Status
	DisplayOrder *int
	UpdatedAt    *int64
}

// Clone returns a copy of items that can be mutated freely.
func Clone(items []Entity) []Entity {
	if items == nil {
		return nil
	}
	out := make([]Entity, len(items))
	copy(out, items)
	return out
}

// Find returns the entity with the given id.
func Find(items []Entity, id string) (Entity, bool) {
	if i := indexOf(items, id); i >= 0 {
		return items[i], true
	}
	return Entity{}, false
}

func indexOf(items []Entity, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
