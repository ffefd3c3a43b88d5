package metadata

import (
	"maps"
	"regexp"
	"slices"
	"strings"
)

// CustomFieldType is the metadata type produced for nested field descriptor paths.
const CustomFieldType = "CustomField"

// ApexClassType is the metadata type of Apex classes, which may carry test methods.
const ApexClassType = "ApexClass"

// FolderType binds a top-level source folder to its metadata type.
type FolderType struct {
	// Folder is the first path segment under the source root, e.g. classes.
	Folder string
	// Type is the metadata type name, e.g. ApexClass.
	Type string
}

// SuffixRule replaces a file name suffix with another string.
type SuffixRule struct {
	// Suffix is matched against the end of a file name.
	Suffix string
	// Replacement replaces the matched suffix.
	Replacement string
}

// RuleSet is the plain description of classification rules used to build Rules.
type RuleSet struct {
	// Folders are checked in order; the first folder a path starts under wins.
	Folders []FolderType
	// MemberSuffixes are checked in order to turn a file name into a member name.
	MemberSuffixes []SuffixRule
	// Translations rename staged files whose extension differs in the deployable layout.
	Translations []SuffixRule
	// BundleFolders hold multi-file components where the member is the bundle directory.
	BundleFolders []string
	// DescriptorSuffix is appended to a file path to locate its sibling descriptor.
	DescriptorSuffix string
	// ObjectsFolder is the folder that contains per-object directories.
	ObjectsFolder string
	// FieldsFolder is the per-object folder that contains field descriptors.
	FieldsFolder string
	// FieldSuffix is the file suffix of a field descriptor.
	FieldSuffix string
}

// Rules is the immutable classification configuration injected into the classifier
// and the stager. Build it with NewRules or DefaultRules.
type Rules struct {
	folders          []FolderType
	memberSuffixes   []SuffixRule
	translations     []SuffixRule
	bundleFolders    map[string]struct{}
	descriptorSuffix string
	objectsFolder    string
	fieldsFolder     string
	fieldSuffix      string
	fieldPattern     *regexp.Regexp
}

// NewRules copies the rule set so later changes to it do not leak into the result.
func NewRules(set RuleSet) *Rules {
	bundles := make(map[string]struct{}, len(set.BundleFolders))
	for _, folder := range set.BundleFolders {
		bundles[folder] = struct{}{}
	}

	// objects/<Object>/fields/<Field><suffix> anywhere below the source root.
	pattern := "(?:^|/)" + regexp.QuoteMeta(set.ObjectsFolder) + "/([^/]+)/" +
		regexp.QuoteMeta(set.FieldsFolder) + "/([^/]+)" + regexp.QuoteMeta(set.FieldSuffix) + "$"

	return &Rules{
		folders:          slices.Clone(set.Folders),
		memberSuffixes:   slices.Clone(set.MemberSuffixes),
		translations:     slices.Clone(set.Translations),
		bundleFolders:    bundles,
		descriptorSuffix: set.DescriptorSuffix,
		objectsFolder:    set.ObjectsFolder,
		fieldsFolder:     set.FieldsFolder,
		fieldSuffix:      set.FieldSuffix,
		fieldPattern:     regexp.MustCompile(pattern),
	}
}

// DefaultRuleSet returns the fixed SFDX source layout understood by the tool.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Folders: []FolderType{
			{Folder: "classes", Type: ApexClassType},
			{Folder: "components", Type: "ApexComponent"},
			{Folder: "conversationMessageDefinitions", Type: "ConversationMessageDefinition"},
			{Folder: "customMetadata", Type: "CustomMetadata"},
			{Folder: "fields", Type: CustomFieldType},
			{Folder: "flexipages", Type: "FlexiPage"},
			{Folder: "flows", Type: "Flow"},
			{Folder: "flowDefinitions", Type: "FlowDefinition"},
			{Folder: "pages", Type: "ApexPage"},
			{Folder: "profiles", Type: "Profile"},
			{Folder: "standardValueSets", Type: "StandardValueSet"},
			{Folder: "tabs", Type: "CustomTab"},
			{Folder: "triggers", Type: "ApexTrigger"},
			{Folder: "workflows", Type: "Workflow"},
			{Folder: "lwc", Type: "LightningComponentBundle"},
			{Folder: "aura", Type: "AuraDefinitionBundle"},
		},
		MemberSuffixes: []SuffixRule{
			{Suffix: ".cls"},
			{Suffix: ".trigger"},
			{Suffix: ".page"},
			{Suffix: ".component"},
			{Suffix: ".md-meta.xml"},
			{Suffix: ".workflow-meta.xml"},
			{Suffix: ".standardValueSet-meta.xml"},
			{Suffix: ".conversationMessageDefinition-meta.xml"},
			{Suffix: ".flexipage-meta.xml"},
			{Suffix: ".flowDefinition-meta.xml"},
			{Suffix: ".flow-meta.xml"},
			{Suffix: ".profile-meta.xml"},
			{Suffix: ".tab-meta.xml"},
		},
		Translations: []SuffixRule{
			{Suffix: ".md-meta.xml", Replacement: ".md"},
		},
		BundleFolders:    []string{"lwc", "aura"},
		DescriptorSuffix: "-meta.xml",
		ObjectsFolder:    "objects",
		FieldsFolder:     "fields",
		FieldSuffix:      ".field-meta.xml",
	}
}

// DefaultRules returns Rules built from DefaultRuleSet.
func DefaultRules() *Rules {
	return NewRules(DefaultRuleSet())
}

// TypeForFolder returns the metadata type bound to the first folder the path starts under.
// The match is done on whole path segments.
func (r *Rules) TypeForFolder(relPath string) (folder, typeName string, ok bool) {
	first, _, _ := strings.Cut(relPath, "/")

	for _, entry := range r.folders {
		if entry.Folder == first {
			return entry.Folder, entry.Type, true
		}
	}

	return "", "", false
}

// MemberFromFileName strips the first matching member suffix from a base file name.
func (r *Rules) MemberFromFileName(baseName string) (string, bool) {
	for _, rule := range r.memberSuffixes {
		if strings.HasSuffix(baseName, rule.Suffix) && len(baseName) > len(rule.Suffix) {
			return strings.TrimSuffix(baseName, rule.Suffix) + rule.Replacement, true
		}
	}

	return "", false
}

// MatchField extracts the object and field names of a nested field descriptor path.
func (r *Rules) MatchField(relPath string) (objectName, fieldName string, ok bool) {
	match := r.fieldPattern.FindStringSubmatch(relPath)
	if match == nil {
		return "", "", false
	}

	return match[1], match[2], true
}

// FieldPath returns the relative path of a field descriptor of an object.
func (r *Rules) FieldPath(objectName, fieldName string) string {
	return r.objectsFolder + "/" + objectName + "/" + r.fieldsFolder + "/" + fieldName + r.fieldSuffix
}

// ObjectsFolder returns the folder holding per-object directories and aggregated documents.
func (r *Rules) ObjectsFolder() string {
	return r.objectsFolder
}

// IsBundleFolder reports whether the folder holds multi-file bundles.
func (r *Rules) IsBundleFolder(folder string) bool {
	_, ok := r.bundleFolders[folder]

	return ok
}

// BundleFolders returns the configured bundle folders in lexicographic order.
func (r *Rules) BundleFolders() []string {
	return slices.Sorted(maps.Keys(r.bundleFolders))
}

// DescriptorSuffix returns the suffix of sibling descriptor files.
func (r *Rules) DescriptorSuffix() string {
	return r.descriptorSuffix
}

// Translate returns the staged name of a relative path.
func (r *Rules) Translate(relPath string) string {
	for _, rule := range r.translations {
		if strings.HasSuffix(relPath, rule.Suffix) {
			return strings.TrimSuffix(relPath, rule.Suffix) + rule.Replacement
		}
	}

	return relPath
}
