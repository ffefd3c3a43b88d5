package metadata

import (
	"slices"
	"sort"
)

// Component is the result of classifying one path of the source tree.
type Component struct {
	// Type is the metadata type name from the fixed catalog, e.g. ApexClass.
	Type string
	// Member is the identifier of the component inside its type, e.g. Account.MyField__c.
	Member string
}

// MetadataType is one type block of a manifest.
type MetadataType struct {
	// Name is the metadata type name.
	Name string
	// Members are unique member identifiers sorted lexicographically.
	Members []string
}

// FieldGroups maps an object name to the set of its changed field short-names.
// It only lives for the duration of a run and feeds field aggregation.
type FieldGroups map[string]map[string]struct{}

// Add records a changed field of an object.
func (g FieldGroups) Add(objectName, fieldName string) {
	fields, ok := g[objectName]
	if !ok {
		fields = make(map[string]struct{})
		g[objectName] = fields
	}

	fields[fieldName] = struct{}{}
}

// Objects returns the object names in lexicographic order.
func (g FieldGroups) Objects() []string {
	objects := make([]string, 0, len(g))
	for name := range g {
		objects = append(objects, name)
	}

	sort.Strings(objects)

	return objects
}

// Fields returns the changed fields of an object in lexicographic order.
func (g FieldGroups) Fields(objectName string) []string {
	fields := make([]string, 0, len(g[objectName]))
	for name := range g[objectName] {
		fields = append(fields, name)
	}

	slices.Sort(fields)

	return fields
}
