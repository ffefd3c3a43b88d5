package manifest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/oshokin/metadeploy/internal/domain/metadata"
)

const (
	// Namespace is the XML namespace of manifests and metadata documents.
	Namespace = "http://soap.sforce.com/2006/04/metadata"

	// DefaultAPIVersion is written to manifests when no version is configured.
	DefaultAPIVersion = "58.0"

	// PackageFilename is the name of the primary manifest inside a package.
	PackageFilename = "package.xml"

	// DestructiveFilename is the name of the destructive manifest inside a package.
	DestructiveFilename = "destructiveChanges.xml"

	// indent is used for every nesting level of rendered documents.
	indent = "    "
)

// packageDocument is the XML shape of a manifest.
type packageDocument struct {
	XMLName xml.Name    `xml:"Package"`
	Xmlns   string      `xml:"xmlns,attr"`
	Types   []typeBlock `xml:"types"`
	Version string      `xml:"version"`
}

// typeBlock lists the members of one type followed by its name.
type typeBlock struct {
	Members []string `xml:"members"`
	Name    string   `xml:"name"`
}

// Builder accumulates classified members into per-type buckets.
// The zero value is not usable; call NewBuilder.
type Builder struct {
	// buckets maps a type name to its set of members.
	buckets map[string]map[string]struct{}
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		buckets: make(map[string]map[string]struct{}),
	}
}

// Accumulate inserts a member into the bucket of its type.
// It reports whether the bucket changed; repeating a call is a no-op.
func (b *Builder) Accumulate(typeName, member string) bool {
	bucket, ok := b.buckets[typeName]
	if !ok {
		bucket = make(map[string]struct{})
		b.buckets[typeName] = bucket
	}

	if _, exists := bucket[member]; exists {
		return false
	}

	bucket[member] = struct{}{}

	return true
}

// Len returns the total number of members over all buckets.
func (b *Builder) Len() int {
	total := 0
	for _, bucket := range b.buckets {
		total += len(bucket)
	}

	return total
}

// IsEmpty reports whether no member was accumulated.
func (b *Builder) IsEmpty() bool {
	return b.Len() == 0
}

// Types returns the buckets as sorted metadata types.
func (b *Builder) Types() []metadata.MetadataType {
	types := make([]metadata.MetadataType, 0, len(b.buckets))

	for name, bucket := range b.buckets {
		if len(bucket) == 0 {
			continue
		}

		members := make([]string, 0, len(bucket))
		for member := range bucket {
			members = append(members, member)
		}

		types = append(types, metadata.MetadataType{Name: name, Members: members})
	}

	return sortTypes(types)
}

// Render produces the manifest of the accumulated buckets.
func (b *Builder) Render(version string) ([]byte, error) {
	return Render(b.Types(), version)
}

// Render produces a manifest listing the provided types. Types and members are
// sorted and deduplicated; an empty list yields a version-only manifest.
func Render(types []metadata.MetadataType, version string) ([]byte, error) {
	if version == "" {
		version = DefaultAPIVersion
	}

	doc := packageDocument{
		Xmlns:   Namespace,
		Version: version,
	}

	for _, t := range sortTypes(types) {
		if len(t.Members) == 0 {
			continue
		}

		doc.Types = append(doc.Types, typeBlock{Members: t.Members, Name: t.Name})
	}

	return marshalDocument(doc)
}

// RenderEmpty produces a version-only manifest used as the paired manifest of
// additive-only and destructive-only deployments.
func RenderEmpty(version string) ([]byte, error) {
	return Render(nil, version)
}

// sortTypes merges duplicate type names and sorts types and members.
func sortTypes(types []metadata.MetadataType) []metadata.MetadataType {
	merged := make(map[string]map[string]struct{}, len(types))

	for _, t := range types {
		bucket, ok := merged[t.Name]
		if !ok {
			bucket = make(map[string]struct{}, len(t.Members))
			merged[t.Name] = bucket
		}

		for _, member := range t.Members {
			bucket[member] = struct{}{}
		}
	}

	result := make([]metadata.MetadataType, 0, len(merged))

	for name, bucket := range merged {
		members := make([]string, 0, len(bucket))
		for member := range bucket {
			members = append(members, member)
		}

		sort.Strings(members)

		result = append(result, metadata.MetadataType{Name: name, Members: members})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}

// marshalDocument renders an indented document with the XML declaration.
func marshalDocument(doc any) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", indent)
	if err != nil {
		return nil, fmt.Errorf("marshal xml: %w", err)
	}

	var buf bytes.Buffer

	buf.Grow(len(xml.Header) + len(body) + 1)
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}
