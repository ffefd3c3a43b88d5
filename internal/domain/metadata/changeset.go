package metadata

import "slices"

// ChangeSet is the list of paths changed between two revisions.
// It is computed once per run and never mutated afterwards.
type ChangeSet struct {
	addedOrModified []string
	deleted         []string
}

// NewChangeSet copies the provided path lists into an immutable change set.
func NewChangeSet(addedOrModified, deleted []string) *ChangeSet {
	return &ChangeSet{
		addedOrModified: slices.Clone(addedOrModified),
		deleted:         slices.Clone(deleted),
	}
}

// AddedOrModified returns a copy of the added or modified paths in source order.
func (c *ChangeSet) AddedOrModified() []string {
	if c == nil {
		return nil
	}

	return slices.Clone(c.addedOrModified)
}

// Deleted returns a copy of the deleted paths in source order.
func (c *ChangeSet) Deleted() []string {
	if c == nil {
		return nil
	}

	return slices.Clone(c.deleted)
}

// IsEmpty reports whether the change set has no paths at all.
func (c *ChangeSet) IsEmpty() bool {
	return c == nil || (len(c.addedOrModified) == 0 && len(c.deleted) == 0)
}
