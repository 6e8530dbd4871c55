package domain

// EntityKind identifies the closed set of entity types that can own images.
type EntityKind string

const (
	EntityWorkflow EntityKind = "workflow"
	EntityAuthor   EntityKind = "author"
	EntityCategory EntityKind = "category"
)

// allowedUsages maps each entity kind to the usage slots it may fill.
var allowedUsages = map[EntityKind][]string{
	EntityWorkflow: {"logo", "thumbnail", "banner"},
	EntityAuthor:   {"avatar"},
	EntityCategory: {"icon", "banner"},
}

// Valid reports whether the kind is one of the known owning entity types.
func (k EntityKind) Valid() bool {
	_, ok := allowedUsages[k]
	return ok
}

// AllowsUsage reports whether the given usage slot is permitted for this kind.
func (k EntityKind) AllowsUsage(usage string) bool {
	for _, u := range allowedUsages[k] {
		if u == usage {
			return true
		}
	}
	return false
}
