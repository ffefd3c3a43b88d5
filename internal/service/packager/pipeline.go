package packager

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/oshokin/metadeploy/internal/config"
	"github.com/oshokin/metadeploy/internal/domain/metadata"
	"github.com/oshokin/metadeploy/internal/logger"
	"github.com/oshokin/metadeploy/internal/service/archive"
	"github.com/oshokin/metadeploy/internal/service/classifier"
	"github.com/oshokin/metadeploy/internal/service/manifest"
	"github.com/oshokin/metadeploy/internal/service/stager"
)

const (
	// PrimaryDirname is the staging directory of additions and modifications.
	PrimaryDirname = "primary"
	// DestructiveDirname is the staging directory of deletions.
	DestructiveDirname = "destructive"
	// PrimaryArchiveFilename is the archive of the primary staging directory.
	PrimaryArchiveFilename = "primary.zip"
	// DestructiveArchiveFilename is the archive of the destructive staging directory.
	DestructiveArchiveFilename = "destructive.zip"

	// apexClassSuffix marks Apex class sources scanned for test markers.
	apexClassSuffix = ".cls"
)

// testMarkers identify Apex test classes, compared case-insensitively.
//
//nolint:gochecknoglobals // Fixed marker list.
var testMarkers = []string{"@istest", "testmethod"}

// Plan is the set of artifacts produced for one run.
type Plan struct {
	// PrimaryArchive is the primary archive path, empty when nothing is added or modified.
	PrimaryArchive string
	// DestructiveArchive is the destructive archive path, empty when nothing is deleted.
	DestructiveArchive string
	// Primary are the members of the primary manifest.
	Primary []metadata.MetadataType
	// Destructive are the members of the destructive manifest.
	Destructive []metadata.MetadataType
	// TestClasses are the changed Apex test classes in lexicographic order.
	TestClasses []string
	// Unrecognized are the paths that did not map to any metadata type.
	Unrecognized []string
	// Excluded are the metadata types skipped because of the exclude list.
	Excluded []string
}

// IsEmpty reports whether the plan has nothing to deploy.
func (p *Plan) IsEmpty() bool {
	return p.PrimaryArchive == "" && p.DestructiveArchive == ""
}

// builder turns a change set into a plan.
type builder struct {
	// cfg holds the source root, output directory and exclude list.
	cfg *config.Config
	// sourceRoot is the source directory paths are relative to.
	sourceRoot string
	// rules are shared by classifier, stager and aggregator.
	rules *metadata.Rules
	// classifier maps paths to components.
	classifier *classifier.Classifier
	// stager copies primary files.
	stager *stager.Stager
	// aggregator merges changed field fragments.
	aggregator *manifest.Aggregator
	// primary accumulates additions and modifications.
	primary *manifest.Builder
	// destructive accumulates deletions.
	destructive *manifest.Builder
	// fields groups changed fields by object.
	fields metadata.FieldGroups
	// plan is the plan being built.
	plan *Plan
	// excluded deduplicates the excluded type names.
	excluded map[string]struct{}
	// tests deduplicates the detected test classes.
	tests map[string]struct{}
}

// newBuilder creates a builder over the configured source root and output directory.
func newBuilder(cfg *config.Config, sourceRoot string, rules *metadata.Rules) *builder {
	primaryDir := filepath.Join(cfg.OutputDir, PrimaryDirname)

	return &builder{
		cfg:         cfg,
		sourceRoot:  sourceRoot,
		rules:       rules,
		classifier:  classifier.New(rules),
		stager:      stager.New(rules, sourceRoot, primaryDir),
		aggregator:  manifest.NewAggregator(rules, sourceRoot, primaryDir),
		primary:     manifest.NewBuilder(),
		destructive: manifest.NewBuilder(),
		fields:      make(metadata.FieldGroups),
		plan:        new(Plan),
		excluded:    make(map[string]struct{}),
		tests:       make(map[string]struct{}),
	}
}

// build stages the change set and writes manifests and archives.
func (b *builder) build(ctx context.Context, changes *metadata.ChangeSet) (*Plan, error) {
	if err := resetOutputDir(b.cfg.OutputDir); err != nil {
		return nil, err
	}

	if changes.IsEmpty() {
		return b.plan, nil
	}

	for _, relPath := range changes.AddedOrModified() {
		if err := b.addChanged(ctx, relPath); err != nil {
			return nil, err
		}
	}

	for _, relPath := range changes.Deleted() {
		if err := b.addDeleted(ctx, relPath); err != nil {
			return nil, err
		}
	}

	if len(b.fields) > 0 {
		if _, err := b.aggregator.AggregateFields(ctx, b.fields); err != nil {
			return nil, fmt.Errorf("aggregate fields: %w", err)
		}
	}

	if err := b.writePrimary(ctx); err != nil {
		return nil, err
	}

	if err := b.writeDestructive(ctx); err != nil {
		return nil, err
	}

	b.plan.Excluded = sortedKeys(b.excluded)
	b.plan.TestClasses = sortedKeys(b.tests)

	return b.plan, nil
}

// classify resolves a path, logging and recording misses and excluded types.
func (b *builder) classify(ctx context.Context, relPath string) (metadata.Component, bool) {
	component, err := b.classifier.Classify(relPath)
	if err != nil {
		logger.WarnKV(ctx, "Skipping unrecognized path", "path", relPath, "reason", err)

		b.plan.Unrecognized = append(b.plan.Unrecognized, relPath)

		return component, false
	}

	if b.cfg.IsExcluded(component.Type) {
		logger.InfoKV(ctx, "Skipping excluded metadata type", "path", relPath, "type", component.Type)

		b.excluded[component.Type] = struct{}{}

		return component, false
	}

	return component, true
}

// addChanged routes an added or modified path to field aggregation or to the stager.
func (b *builder) addChanged(ctx context.Context, relPath string) error {
	component, ok := b.classify(ctx, relPath)
	if !ok {
		return nil
	}

	b.primary.Accumulate(component.Type, component.Member)

	if objectName, fieldName, isField := b.rules.MatchField(relPath); isField {
		b.fields.Add(objectName, fieldName)

		return nil
	}

	if _, err := b.stager.Stage(ctx, relPath); err != nil {
		return err
	}

	if component.Type == metadata.ApexClassType && strings.HasSuffix(relPath, apexClassSuffix) {
		isTest, err := b.isTestClass(relPath)
		if err != nil {
			return err
		}

		if isTest {
			b.tests[strings.TrimSuffix(path.Base(relPath), apexClassSuffix)] = struct{}{}
		}
	}

	return nil
}

// addDeleted routes a deleted path to the destructive manifest,
// unless it belongs to a bundle that still exists and is therefore modified.
func (b *builder) addDeleted(ctx context.Context, relPath string) error {
	component, ok := b.classify(ctx, relPath)
	if !ok {
		return nil
	}

	if _, isBundle := b.classifier.BundleDir(relPath); isBundle && b.stager.BundleExists(relPath) {
		logger.DebugKV(ctx, "File removed from an existing bundle", "path", relPath, "bundle", component.Member)

		b.primary.Accumulate(component.Type, component.Member)

		_, err := b.stager.Stage(ctx, relPath)

		return err
	}

	b.destructive.Accumulate(component.Type, component.Member)

	return nil
}

// writePrimary writes the primary manifests and archive.
func (b *builder) writePrimary(ctx context.Context) error {
	if b.primary.IsEmpty() {
		return nil
	}

	dir := filepath.Join(b.cfg.OutputDir, PrimaryDirname)

	packageXML, err := b.primary.Render(b.cfg.APIVersion)
	if err != nil {
		return err
	}

	destructiveXML, err := manifest.RenderEmpty(b.cfg.APIVersion)
	if err != nil {
		return err
	}

	archivePath, err := writeTrack(ctx, dir, filepath.Join(b.cfg.OutputDir, PrimaryArchiveFilename), packageXML, destructiveXML)
	if err != nil {
		return err
	}

	b.plan.PrimaryArchive = archivePath
	b.plan.Primary = b.primary.Types()

	return nil
}

// writeDestructive writes the destructive manifests and archive.
func (b *builder) writeDestructive(ctx context.Context) error {
	if b.destructive.IsEmpty() {
		return nil
	}

	dir := filepath.Join(b.cfg.OutputDir, DestructiveDirname)

	packageXML, err := manifest.RenderEmpty(b.cfg.APIVersion)
	if err != nil {
		return err
	}

	destructiveXML, err := b.destructive.Render(b.cfg.APIVersion)
	if err != nil {
		return err
	}

	archivePath, err := writeTrack(ctx, dir, filepath.Join(b.cfg.OutputDir, DestructiveArchiveFilename), packageXML, destructiveXML)
	if err != nil {
		return err
	}

	b.plan.DestructiveArchive = archivePath
	b.plan.Destructive = b.destructive.Types()

	return nil
}

// isTestClass reports whether an Apex class source carries a test marker.
func (b *builder) isTestClass(relPath string) (bool, error) {
	contents, err := os.ReadFile(filepath.Join(b.sourceRoot, filepath.FromSlash(relPath)))
	if err != nil {
		return false, fmt.Errorf("read %s: %w", relPath, err)
	}

	source := strings.ToLower(string(contents))
	for _, marker := range testMarkers {
		if strings.Contains(source, marker) {
			return true, nil
		}
	}

	return false, nil
}

// writeTrack writes both manifests into dir and archives it.
func writeTrack(ctx context.Context, dir, archivePath string, packageXML, destructiveXML []byte) (string, error) {
	if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	files := map[string][]byte{
		manifest.PackageFilename:     packageXML,
		manifest.DestructiveFilename: destructiveXML,
	}

	for name, contents := range files {
		//nolint:gosec // Manifests are not secret.
		if err := os.WriteFile(filepath.Join(dir, name), contents, 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", name, err)
		}
	}

	info, err := archive.ZipDirectory(dir, archivePath)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", dir, err)
	}

	logger.InfoKV(ctx, "Archive written",
		"path", info.Path,
		"entries", len(info.Entries),
		"checksum", info.Checksum,
	)

	return info.Path, nil
}

// resetOutputDir removes and recreates the output directory.
func resetOutputDir(outputDir string) error {
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("remove output directory: %w", err)
	}

	if err := os.MkdirAll(outputDir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	return keys
}
