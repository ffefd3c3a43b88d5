package changes

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path"
	"strings"
	"time"

	"github.com/oshokin/metadeploy/internal/domain/metadata"
	"github.com/oshokin/metadeploy/internal/logger"
)

const (
	// DefaultBaseRevision is compared against when no base revision is configured.
	DefaultBaseRevision = "HEAD~1"
	// DefaultHeadRevision is the revision whose changes are deployed by default.
	DefaultHeadRevision = "HEAD"

	// gitCommandTimeout bounds a single git invocation.
	gitCommandTimeout = time.Minute
)

var errMalformedLine = errors.New("malformed name-status line")

// Source provides the change set of a run.
type Source interface {
	// Changes returns the paths changed for this run, relative to the source root.
	Changes(ctx context.Context) (*metadata.ChangeSet, error)
}

// GitSource reads changes from a local git working copy.
type GitSource struct {
	// Dir is the working directory git runs in; empty means the current directory.
	Dir string
	// Base is the older revision of the comparison.
	Base string
	// Head is the newer revision of the comparison.
	Head string
	// SourceRoot is the slash separated source root, relative to Dir.
	SourceRoot string
	// Executable is the git binary; empty means "git" from PATH.
	Executable string
}

// Changes runs git diff and parses its name-status output.
func (g *GitSource) Changes(ctx context.Context) (*metadata.ChangeSet, error) {
	base, head := g.Base, g.Head
	if base == "" {
		base = DefaultBaseRevision
	}

	if head == "" {
		head = DefaultHeadRevision
	}

	executable := g.Executable
	if executable == "" {
		executable = "git"
	}

	root := cleanRoot(g.SourceRoot)

	args := []string{"diff", "--name-status", "--no-renames", base, head}
	if root != "" {
		args = append(args, "--", root)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, gitCommandTimeout)
	defer cancel()

	//nolint:gosec // Revisions come from the operator's own configuration.
	cmd := exec.CommandContext(cmdCtx, executable, args...)
	cmd.Dir = g.Dir

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	logger.DebugKV(ctx, "Listing changed files", "base", base, "head", head, "source_root", root)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff %s %s: %w: %s", base, head, err, strings.TrimSpace(stderr.String()))
	}

	return ParseNameStatus(bytes.NewReader(output), root)
}

// ParseNameStatus parses git diff --name-status output.
// Paths outside root are ignored and the root prefix is removed from the rest.
// Added, modified, copied and type-changed entries are reported as added or modified.
func ParseNameStatus(r io.Reader, root string) (*metadata.ChangeSet, error) {
	root = cleanRoot(root)

	var addedOrModified, deleted []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 2 || fields[0] == "" {
			return nil, fmt.Errorf("%w: %q", errMalformedLine, line)
		}

		switch status := fields[0][0]; status {
		case 'A', 'M', 'C', 'T':
			if rel, ok := relativeTo(root, fields[len(fields)-1]); ok {
				addedOrModified = append(addedOrModified, rel)
			}
		case 'D':
			if rel, ok := relativeTo(root, fields[1]); ok {
				deleted = append(deleted, rel)
			}
		case 'R':
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: %q", errMalformedLine, line)
			}

			if rel, ok := relativeTo(root, fields[1]); ok {
				deleted = append(deleted, rel)
			}

			if rel, ok := relativeTo(root, fields[2]); ok {
				addedOrModified = append(addedOrModified, rel)
			}
		default:
			// Unmerged and unknown entries carry nothing deployable.
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read name-status output: %w", err)
	}

	return metadata.NewChangeSet(addedOrModified, deleted), nil
}

// StaticSource returns a fixed change set.
type StaticSource struct {
	// Set is returned by every Changes call.
	Set *metadata.ChangeSet
}

// Changes returns the fixed change set.
func (s StaticSource) Changes(context.Context) (*metadata.ChangeSet, error) {
	if s.Set == nil {
		return metadata.NewChangeSet(nil, nil), nil
	}

	return s.Set, nil
}

func cleanRoot(root string) string {
	root = strings.TrimSpace(strings.ReplaceAll(root, "\\", "/"))
	if root == "" {
		return ""
	}

	root = path.Clean(root)
	if root == "." {
		return ""
	}

	return strings.TrimSuffix(root, "/")
}

func relativeTo(root, file string) (string, bool) {
	file = strings.ReplaceAll(file, "\\", "/")
	if root == "" {
		return file, true
	}

	rel, ok := strings.CutPrefix(file, root+"/")
	if !ok || rel == "" {
		return "", false
	}

	return rel, true
}
