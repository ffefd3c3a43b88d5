package classifier

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/oshokin/metadeploy/internal/domain/metadata"
)

// Classifier resolves relative source paths into metadata components.
type Classifier struct {
	// rules is the fixed folder, suffix and field-pattern configuration.
	rules *metadata.Rules
}

// New creates a classifier over the provided rules, or the default rules when nil.
func New(rules *metadata.Rules) *Classifier {
	if rules == nil {
		rules = metadata.DefaultRules()
	}

	return &Classifier{rules: rules}
}

// Rules returns the rules the classifier was built with.
func (c *Classifier) Rules() *metadata.Rules {
	return c.rules
}

// Classify maps a path relative to the source root to its component.
// Nested field descriptors are checked first, then the ordered folder table.
// Paths that cannot be resolved return an error wrapping metadata.ErrClassificationMiss.
func (c *Classifier) Classify(relPath string) (metadata.Component, error) {
	relPath = normalize(relPath)

	if objectName, fieldName, ok := c.rules.MatchField(relPath); ok {
		return metadata.Component{
			Type:   metadata.CustomFieldType,
			Member: objectName + "." + fieldName,
		}, nil
	}

	folder, typeName, ok := c.rules.TypeForFolder(relPath)
	if !ok {
		return metadata.Component{}, fmt.Errorf("%w: %s", metadata.ErrClassificationMiss, relPath)
	}

	var member string
	if c.rules.IsBundleFolder(folder) {
		member, ok = bundleName(relPath)
	} else {
		member, ok = c.memberName(relPath)
	}

	if !ok {
		return metadata.Component{}, fmt.Errorf("%w: no member name for %s", metadata.ErrClassificationMiss, relPath)
	}

	return metadata.Component{
		Type:   typeName,
		Member: member,
	}, nil
}

// BundleDir returns the bundle directory of a path inside a bundle folder, e.g. lwc/card.
func (c *Classifier) BundleDir(relPath string) (string, bool) {
	relPath = normalize(relPath)

	folder, _, ok := c.rules.TypeForFolder(relPath)
	if !ok || !c.rules.IsBundleFolder(folder) {
		return "", false
	}

	name, ok := bundleName(relPath)
	if !ok {
		return "", false
	}

	return folder + "/" + name, true
}

// memberName strips a known suffix from the file name, accepting sibling descriptors
// of known files, and falls back to the field pattern.
func (c *Classifier) memberName(relPath string) (string, bool) {
	baseName := path.Base(relPath)

	if member, ok := c.rules.MemberFromFileName(baseName); ok {
		return member, true
	}

	suffix := c.rules.DescriptorSuffix()
	if suffix != "" && strings.HasSuffix(baseName, suffix) {
		if member, ok := c.rules.MemberFromFileName(strings.TrimSuffix(baseName, suffix)); ok {
			return member, true
		}
	}

	if objectName, fieldName, ok := c.rules.MatchField(relPath); ok {
		return objectName + "." + fieldName, true
	}

	return "", false
}

// bundleName returns the second path segment, which names the bundle.
// Files lying directly in the bundle folder do not belong to any bundle.
func bundleName(relPath string) (string, bool) {
	parts := strings.Split(relPath, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", false
	}

	return parts[1], true
}

// normalize converts OS separators and strips a leading ./ from the path.
func normalize(relPath string) string {
	return strings.TrimPrefix(filepath.ToSlash(relPath), "./")
}
