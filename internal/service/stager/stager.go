package stager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oshokin/metadeploy/internal/domain/metadata"
	"github.com/oshokin/metadeploy/internal/logger"
)

const (
	// dirPermissions is used for directories created in the staging tree.
	dirPermissions = 0o755
	// filePermissions is used for files copied into the staging tree.
	filePermissions = 0o644
)

// Stager copies files from the source tree into the staging tree.
// It remembers what it staged so repeated paths and bundle siblings are copied once.
type Stager struct {
	// rules locate bundles, descriptors and translated names.
	rules *metadata.Rules
	// sourceRoot is the directory relative paths are resolved against.
	sourceRoot string
	// stagingRoot is the directory files are copied into.
	stagingRoot string
	// staged holds the relative staging paths already written.
	staged map[string]struct{}
	// bundles holds the bundle directories already copied.
	bundles map[string]struct{}
}

// New creates a stager copying from sourceRoot into stagingRoot.
func New(rules *metadata.Rules, sourceRoot, stagingRoot string) *Stager {
	if rules == nil {
		rules = metadata.DefaultRules()
	}

	return &Stager{
		rules:       rules,
		sourceRoot:  sourceRoot,
		stagingRoot: stagingRoot,
		staged:      make(map[string]struct{}),
		bundles:     make(map[string]struct{}),
	}
}

// Stage copies one changed path and everything that must travel with it.
// It returns the staging paths written by this call.
func (s *Stager) Stage(ctx context.Context, relPath string) ([]string, error) {
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "./")

	if bundleDir, ok := s.bundleDir(relPath); ok {
		return s.stageBundle(ctx, bundleDir)
	}

	primary := relPath

	// A changed descriptor stages its primary file too.
	suffix := s.rules.DescriptorSuffix()
	if suffix != "" && strings.HasSuffix(relPath, suffix) {
		if trimmed := strings.TrimSuffix(relPath, suffix); s.exists(trimmed) {
			primary = trimmed
		}
	}

	target := s.rules.Translate(primary)

	written := make([]string, 0, 2)

	copied, err := s.copyOnce(primary, target)
	if err != nil {
		return nil, err
	}

	if copied {
		written = append(written, target)
	}

	if suffix != "" && s.exists(primary+suffix) {
		copied, err = s.copyOnce(primary+suffix, target+suffix)
		if err != nil {
			return nil, err
		}

		if copied {
			written = append(written, target+suffix)
		}
	}

	for _, path := range written {
		logger.DebugKV(ctx, "Staged file", "path", path)
	}

	return written, nil
}

// Staged returns every staging path written so far in lexicographic order.
func (s *Stager) Staged() []string {
	paths := make([]string, 0, len(s.staged))
	for path := range s.staged {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	return paths
}

// BundleExists reports whether the bundle holding relPath is still present in the source tree.
func (s *Stager) BundleExists(relPath string) bool {
	bundleDir, ok := s.bundleDir(relPath)
	if !ok {
		return false
	}

	info, err := os.Stat(s.sourcePath(bundleDir))

	return err == nil && info.IsDir()
}

// stageBundle copies a whole bundle directory, keeping its folder.
func (s *Stager) stageBundle(ctx context.Context, bundleDir string) ([]string, error) {
	if _, done := s.bundles[bundleDir]; done {
		return nil, nil
	}

	var written []string

	err := filepath.WalkDir(s.sourcePath(bundleDir), func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.sourceRoot, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		copied, err := s.copyOnce(rel, rel)
		if err != nil {
			return err
		}

		if copied {
			written = append(written, rel)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stage bundle %s: %w", bundleDir, err)
	}

	s.bundles[bundleDir] = struct{}{}

	logger.DebugKV(ctx, "Staged bundle", "bundle", bundleDir, "files", len(written))

	return written, nil
}

// bundleDir returns folder/name for paths inside a bundle folder.
func (s *Stager) bundleDir(relPath string) (string, bool) {
	folder, _, ok := s.rules.TypeForFolder(relPath)
	if !ok || !s.rules.IsBundleFolder(folder) {
		return "", false
	}

	parts := strings.Split(relPath, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", false
	}

	return folder + "/" + parts[1], true
}

// copyOnce copies a source file to a staging path unless that path was already staged.
func (s *Stager) copyOnce(sourceRel, targetRel string) (bool, error) {
	if _, done := s.staged[targetRel]; done {
		return false, nil
	}

	if err := copyFile(s.sourcePath(sourceRel), s.stagingPath(targetRel)); err != nil {
		return false, fmt.Errorf("stage %s: %w", sourceRel, err)
	}

	s.staged[targetRel] = struct{}{}

	return true, nil
}

// exists reports whether a relative path is a regular file of the source tree.
func (s *Stager) exists(relPath string) bool {
	info, err := os.Stat(s.sourcePath(relPath))

	return err == nil && info.Mode().IsRegular()
}

func (s *Stager) sourcePath(relPath string) string {
	return filepath.Join(s.sourceRoot, filepath.FromSlash(relPath))
}

func (s *Stager) stagingPath(relPath string) string {
	return filepath.Join(s.stagingRoot, filepath.FromSlash(relPath))
}

// copyFile copies src to dst, creating the parent directories of dst.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	if err = os.MkdirAll(filepath.Dir(dst), dirPermissions); err != nil {
		return err
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, out.Close())
	}()

	_, err = io.Copy(out, in)

	return err
}
